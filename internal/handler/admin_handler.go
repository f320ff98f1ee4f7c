package handler

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/viveksaraswat123/medical-chatbot/internal/domain"
	"github.com/viveksaraswat123/medical-chatbot/internal/middleware"
	"github.com/viveksaraswat123/medical-chatbot/internal/rag"
)

const jobKindRebuild = "index_rebuild"

// AdminHandler exposes index maintenance to admins.
type AdminHandler struct {
	index   *rag.Manager
	tracker *JobTracker
	auditor *middleware.Auditor
	timeout time.Duration
}

// NewAdminHandler creates an admin handler. timeout bounds one rebuild.
func NewAdminHandler(index *rag.Manager, tracker *JobTracker, auditor *middleware.Auditor, timeout time.Duration) *AdminHandler {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &AdminHandler{index: index, tracker: tracker, auditor: auditor, timeout: timeout}
}

// Register sets up the index routes on an admin-only router.
func (h *AdminHandler) Register(router fiber.Router) {
	index := router.Group("/index")
	index.Get("/", h.Status)
	index.Post("/rebuild", h.Rebuild)
}

// Status returns the index lifecycle state.
func (h *AdminHandler) Status(c fiber.Ctx) error {
	return c.JSON(h.index.Status())
}

// Rebuild starts a background rebuild and returns its job id. A rebuild
// already in progress is reported instead of starting another.
func (h *AdminHandler) Rebuild(c fiber.Ctx) error {
	requestedBy := "anonymous"
	if uc := middleware.GetUserContext(c); uc != nil {
		requestedBy = uc.UserID
	}

	job, started := h.tracker.StartJob(uuid.NewString(), jobKindRebuild, requestedBy)
	if !started {
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"job_id":  job.ID,
			"status":  job.Status,
			"message": "rebuild already running",
		})
	}

	h.auditor.Record(c, domain.AuditActionIndexRebuild, "index", job.ID, nil)
	go h.runRebuild(job.ID, requestedBy)

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"job_id": job.ID,
		"status": JobRunning,
	})
}

func (h *AdminHandler) runRebuild(jobID, requestedBy string) {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	ctx = rag.WithProgress(ctx, func(done, total int) {
		h.tracker.Progress(jobID, done, total)
	})

	slog.Info("🔨 Index rebuild started", "job_id", jobID, "requested_by", requestedBy)
	start := time.Now()

	idx, err := h.index.Rebuild(ctx)
	if err != nil {
		slog.Error("index rebuild failed", "job_id", jobID, "error", err)
		h.tracker.Finish(jobID, 0, err)
		return
	}

	slog.Info("✅ Index rebuild complete", "job_id", jobID, "entries", idx.Len(), "duration", time.Since(start))
	h.tracker.Finish(jobID, idx.Len(), nil)
}
