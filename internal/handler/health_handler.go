package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/viveksaraswat123/medical-chatbot/internal/rag"
)

// Pinger reports whether a backing database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports liveness together with index and database state.
type HealthHandler struct {
	index *rag.Manager
	db    Pinger
}

// NewHealthHandler creates a health handler. db may be nil.
func NewHealthHandler(index *rag.Manager, db Pinger) *HealthHandler {
	return &HealthHandler{index: index, db: db}
}

// Register sets up the health route.
func (h *HealthHandler) Register(router fiber.Router) {
	router.Get("/health", h.Health)
}

// Health always answers 200 while the process serves requests; details
// describe the dependencies.
func (h *HealthHandler) Health(c fiber.Ctx) error {
	database := "disabled"
	if h.db != nil {
		ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
		defer cancel()
		database = "ok"
		if err := h.db.Ping(ctx); err != nil {
			database = "unavailable"
		}
	}

	return c.JSON(fiber.Map{
		"status":   "ok",
		"index":    h.index.Status(),
		"database": database,
	})
}
