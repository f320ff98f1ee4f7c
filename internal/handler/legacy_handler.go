package handler

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/viveksaraswat123/medical-chatbot/internal/service"
)

// ConversationHandler serves the anonymous single-page chat widget. Its
// conversations are not tied to an account.
type ConversationHandler struct {
	chat    *service.ChatService
	timeout time.Duration
}

// NewConversationHandler creates a handler for anonymous conversations.
func NewConversationHandler(chat *service.ChatService, timeout time.Duration) *ConversationHandler {
	return &ConversationHandler{chat: chat, timeout: timeout}
}

// Register sets up the anonymous conversation routes.
func (h *ConversationHandler) Register(router fiber.Router) {
	router.Get("/start_conversation", h.Start)
	router.Post("/chat", h.Chat)
}

// Start hands out a fresh conversation id.
func (h *ConversationHandler) Start(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"conversation_id": uuid.NewString()})
}

// Chat answers one message of an anonymous conversation.
func (h *ConversationHandler) Chat(c fiber.Ctx) error {
	var body struct {
		ConversationID string `json:"conversation_id"`
		Message        string `json:"message"`
	}
	if err := c.Bind().JSON(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if strings.TrimSpace(body.ConversationID) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "conversation_id is required"})
	}

	ctx := c.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	ans, err := h.chat.RetrieveAndAnswer(ctx, body.ConversationID, body.Message, "")
	if err != nil {
		return writeAnswerError(c, body.ConversationID, err)
	}
	return c.JSON(fiber.Map{"response": ans.Text})
}
