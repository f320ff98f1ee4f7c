package handler

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/viveksaraswat123/medical-chatbot/internal/domain"
	"github.com/viveksaraswat123/medical-chatbot/internal/middleware"
	"github.com/viveksaraswat123/medical-chatbot/internal/port"
	"github.com/viveksaraswat123/medical-chatbot/internal/service"
)

const maxSearchK = 20

// KnowledgeHandler searches the knowledge base without generating an answer.
type KnowledgeHandler struct {
	retriever service.Retriever
	auditor   *middleware.Auditor
}

// NewKnowledgeHandler creates a new knowledge search handler.
func NewKnowledgeHandler(retriever service.Retriever, auditor *middleware.Auditor) *KnowledgeHandler {
	return &KnowledgeHandler{retriever: retriever, auditor: auditor}
}

// Register sets up knowledge routes.
func (h *KnowledgeHandler) Register(router fiber.Router) {
	knowledge := router.Group("/knowledge")
	knowledge.Post("/search", h.Search)
}

// Search returns the chunks closest to a query.
func (h *KnowledgeHandler) Search(c fiber.Ctx) error {
	var body struct {
		Query string `json:"query"`
		K     int    `json:"k"`
	}
	if err := c.Bind().JSON(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if strings.TrimSpace(body.Query) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "query must not be empty"})
	}
	if body.K < 0 || body.K > maxSearchK {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "k must be between 0 and 20; 0 uses the default"})
	}

	chunks, err := h.retriever.RetrieveScored(c.Context(), body.Query, body.K)
	switch {
	case errors.Is(err, port.ErrCorpusEmpty), errors.Is(err, port.ErrIndexLoad):
		slog.Error("knowledge base unavailable", "error", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "knowledge base unavailable"})
	case err != nil:
		slog.Error("knowledge search failed", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "search failed"})
	}

	sources := make([]fiber.Map, len(chunks))
	for i, chunk := range chunks {
		sources[i] = fiber.Map{
			"source_id":   chunk.SourceID,
			"chunk_index": chunk.Index,
			"text":        chunk.Text,
			"score":       chunk.Score,
		}
	}

	h.auditor.Record(c, domain.AuditActionKnowledgeQuery, "knowledge", "", map[string]any{
		"k":       body.K,
		"results": len(chunks),
	})
	return c.JSON(fiber.Map{
		"results": sources,
		"count":   len(sources),
	})
}
