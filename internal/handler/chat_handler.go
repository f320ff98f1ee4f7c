package handler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/viveksaraswat123/medical-chatbot/internal/domain"
	"github.com/viveksaraswat123/medical-chatbot/internal/middleware"
	"github.com/viveksaraswat123/medical-chatbot/internal/port"
	"github.com/viveksaraswat123/medical-chatbot/internal/service"
)

// ChatHandler handles the chats owned by authenticated users.
type ChatHandler struct {
	chats   port.ChatRepository
	chat    *service.ChatService
	auditor *middleware.Auditor
	timeout time.Duration
}

// NewChatHandler creates a new chat handler. timeout bounds one answer;
// zero leaves it to the request context.
func NewChatHandler(chats port.ChatRepository, chat *service.ChatService, auditor *middleware.Auditor, timeout time.Duration) *ChatHandler {
	return &ChatHandler{chats: chats, chat: chat, auditor: auditor, timeout: timeout}
}

// Register sets up chat routes.
func (h *ChatHandler) Register(router fiber.Router) {
	chats := router.Group("/chats")
	chats.Post("/", h.Create)
	chats.Get("/", h.List)
	chats.Get("/:id", h.History)
	chats.Delete("/:id", h.Delete)
	chats.Post("/:id/messages", h.Ask)
	chats.Get("/:id/title", h.Title)
}

// Create starts an empty chat for the caller.
func (h *ChatHandler) Create(c fiber.Ctx) error {
	uc := middleware.GetUserContext(c)
	if uc == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	chat, err := h.chats.CreateChat(c.Context(), uc.UserID)
	if err != nil {
		slog.Error("create chat failed", "user_id", uc.UserID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to create chat"})
	}

	h.auditor.Record(c, domain.AuditActionChatCreated, "chat", chat.ID, nil)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"chat_id":    chat.ID,
		"title":      domain.DefaultChatTitle,
		"created_at": chat.CreatedAt,
	})
}

// List returns the caller's chats, most recently used first.
func (h *ChatHandler) List(c fiber.Ctx) error {
	uc := middleware.GetUserContext(c)
	if uc == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	chats, err := h.chats.ListChats(c.Context(), uc.UserID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	if chats == nil {
		chats = []domain.Chat{}
	}
	return c.JSON(fiber.Map{
		"chats": chats,
		"count": len(chats),
	})
}

// History returns a chat together with its messages.
func (h *ChatHandler) History(c fiber.Ctx) error {
	chat, ferr := h.ownedChat(c)
	if ferr != nil {
		return writeError(c, ferr)
	}

	turns, err := h.chat.Memory().Store().Turns(c.Context(), chat.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	if turns == nil {
		turns = []domain.Turn{}
	}

	title := chat.Title
	if title == "" {
		title = domain.DefaultChatTitle
	}
	return c.JSON(fiber.Map{
		"chat_id":    chat.ID,
		"title":      title,
		"messages":   turns,
		"created_at": chat.CreatedAt,
		"updated_at": chat.UpdatedAt,
	})
}

// Delete removes a chat and its messages.
func (h *ChatHandler) Delete(c fiber.Ctx) error {
	chat, ferr := h.ownedChat(c)
	if ferr != nil {
		return writeError(c, ferr)
	}

	if err := h.chats.DeleteChat(c.Context(), chat.UserID, chat.ID); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	// Turns may live outside the chat table.
	if err := h.chat.Memory().Store().Delete(c.Context(), chat.ID); err != nil {
		slog.Warn("delete conversation turns failed", "chat_id", chat.ID, "error", err)
	}

	h.auditor.Record(c, domain.AuditActionChatDeleted, "chat", chat.ID, nil)
	return c.JSON(fiber.Map{"deleted": true})
}

// Ask answers a question inside a chat.
func (h *ChatHandler) Ask(c fiber.Ctx) error {
	chat, ferr := h.ownedChat(c)
	if ferr != nil {
		return writeError(c, ferr)
	}

	var body struct {
		Message string `json:"message"`
	}
	if err := c.Bind().JSON(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	ctx := c.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	ans, err := h.chat.RetrieveAndAnswer(ctx, chat.ID, body.Message, "")
	if err != nil {
		return writeAnswerError(c, chat.ID, err)
	}

	if err := h.chats.TouchChat(c.Context(), chat.ID); err != nil {
		slog.Warn("touch chat failed", "chat_id", chat.ID, "error", err)
	}

	h.auditor.Record(c, domain.AuditActionQuestion, "chat", chat.ID, map[string]any{
		"sources": len(ans.Sources),
	})
	if ans.Emergency {
		h.auditor.Record(c, domain.AuditActionEmergency, "chat", chat.ID, nil)
	}
	return c.JSON(answerBody(ans))
}

// Title returns the chat's title, deriving it from the first question when
// none is stored yet.
func (h *ChatHandler) Title(c fiber.Ctx) error {
	chat, ferr := h.ownedChat(c)
	if ferr != nil {
		return writeError(c, ferr)
	}

	title, err := h.chat.Memory().Title(c.Context(), chat.ID)
	if err != nil {
		slog.Warn("title derivation failed", "chat_id", chat.ID, "error", err)
		title = domain.DefaultChatTitle
	}
	return c.JSON(fiber.Map{"chat_id": chat.ID, "title": title})
}

// ownedChat loads the caller's :id chat.
func (h *ChatHandler) ownedChat(c fiber.Ctx) (*domain.Chat, *fiber.Error) {
	uc := middleware.GetUserContext(c)
	if uc == nil {
		return nil, fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	chat, err := h.chats.GetChat(c.Context(), uc.UserID, c.Params("id"))
	if errors.Is(err, port.ErrChatNotFound) {
		return nil, fiber.NewError(fiber.StatusNotFound, "chat not found")
	}
	if err != nil {
		return nil, fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return chat, nil
}

func writeError(c fiber.Ctx, fe *fiber.Error) error {
	return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
}

func answerBody(ans service.Answer) fiber.Map {
	sources := make([]fiber.Map, len(ans.Sources))
	for i, s := range ans.Sources {
		sources[i] = fiber.Map{
			"source_id":   s.SourceID,
			"chunk_index": s.Index,
			"score":       s.Score,
		}
	}
	return fiber.Map{
		"response":  ans.Text,
		"sources":   sources,
		"emergency": ans.Emergency,
	}
}

// writeAnswerError maps a failed answer to a status code. Generation
// details stay in the log.
func writeAnswerError(c fiber.Ctx, conversationID string, err error) error {
	switch {
	case errors.Is(err, service.ErrEmptyQuestion):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "message must not be empty"})
	case errors.Is(err, port.ErrConversationNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "chat not found"})
	case errors.Is(err, context.DeadlineExceeded):
		slog.Warn("answer timed out", "conversation_id", conversationID)
		return c.Status(fiber.StatusGatewayTimeout).JSON(fiber.Map{"error": service.AnswerFailedMessage})
	default:
		slog.Error("answer failed", "conversation_id", conversationID, "error", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": service.AnswerFailedMessage})
	}
}
