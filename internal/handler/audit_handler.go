package handler

import (
	"strconv"

	"github.com/gofiber/fiber/v3"

	"github.com/viveksaraswat123/medical-chatbot/internal/domain"
	"github.com/viveksaraswat123/medical-chatbot/internal/port"
)

const maxAuditLimit = 1000

// AuditHandler handles audit log endpoints.
type AuditHandler struct {
	logs port.AuditReader
}

// NewAuditHandler creates a new audit handler.
func NewAuditHandler(logs port.AuditReader) *AuditHandler {
	return &AuditHandler{logs: logs}
}

// Register sets up audit routes.
func (h *AuditHandler) Register(router fiber.Router) {
	router.Get("/audit", h.ListLogs)
}

// ListLogs returns audit logs, newest first, optionally filtered by action.
func (h *AuditHandler) ListLogs(c fiber.Ctx) error {
	limit, err := strconv.Atoi(c.Query("limit", "100"))
	if err != nil || limit < 1 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "limit must be a positive integer"})
	}
	limit = min(limit, maxAuditLimit)
	action := c.Query("action", "")

	logs, err := h.logs.ListAuditLogs(c.Context(), limit, action)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	if logs == nil {
		logs = []domain.AuditLog{}
	}

	return c.JSON(fiber.Map{
		"logs":  logs,
		"count": len(logs),
	})
}
