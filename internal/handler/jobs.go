package handler

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v3"
)

// Job states.
const (
	JobRunning  = "running"
	JobComplete = "complete"
	JobError    = "error"
)

// JobStatus represents the current state of a background index job.
type JobStatus struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	RequestedBy string    `json:"requested_by"`
	Status      string    `json:"status"`
	Done        int       `json:"done"`
	Total       int       `json:"total"`
	Entries     int       `json:"entries"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

func (j *JobStatus) finished() bool {
	return j.Status == JobComplete || j.Status == JobError
}

// JobTracker manages background jobs in memory.
type JobTracker struct {
	mu   sync.RWMutex
	jobs map[string]*JobStatus
	subs map[string][]chan JobStatus // subscribers per job
}

// NewJobTracker creates a new job tracker.
func NewJobTracker() *JobTracker {
	return &JobTracker{
		jobs: make(map[string]*JobStatus),
		subs: make(map[string][]chan JobStatus),
	}
}

// StartJob registers a running job unless a job of the same kind is still
// running, in which case that job is returned and started is false.
func (t *JobTracker) StartJob(id, kind, requestedBy string) (job JobStatus, started bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, existing := range t.jobs {
		if existing.Kind == kind && existing.Status == JobRunning {
			return *existing, false
		}
	}
	created := &JobStatus{
		ID:          id,
		Kind:        kind,
		RequestedBy: requestedBy,
		Status:      JobRunning,
		StartedAt:   time.Now(),
	}
	t.jobs[id] = created
	return *created, true
}

// Progress records how many of total items are done.
func (t *JobTracker) Progress(id string, done, total int) {
	t.update(id, func(job *JobStatus) {
		job.Done = done
		job.Total = total
	})
}

// Finish marks a job complete, or failed when err is non-nil.
func (t *JobTracker) Finish(id string, entries int, err error) {
	t.update(id, func(job *JobStatus) {
		job.Entries = entries
		job.Status = JobComplete
		if err != nil {
			job.Status = JobError
			job.Error = err.Error()
		}
		job.CompletedAt = time.Now()
	})
}

// update applies fn to a running job and notifies subscribers.
func (t *JobTracker) update(id string, fn func(*JobStatus)) {
	t.mu.Lock()
	job, ok := t.jobs[id]
	if !ok || job.finished() {
		t.mu.Unlock()
		return
	}
	fn(job)
	snapshot := *job
	subs := t.subs[id]

	// Notify while holding the lock so Unsubscribe cannot close a channel
	// mid-send. Sends never block; a full channel drops progress but makes
	// room for the final status.
	for _, ch := range subs {
		select {
		case ch <- snapshot:
		default:
			if snapshot.finished() {
				select {
				case <-ch:
				default:
				}
				select {
				case ch <- snapshot:
				default:
				}
			}
		}
	}
	t.mu.Unlock()
}

// GetJob returns a job status.
func (t *JobTracker) GetJob(id string) (*JobStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	job, ok := t.jobs[id]
	if !ok {
		return nil, false
	}
	snapshot := *job
	return &snapshot, true
}

// Subscribe returns a channel that receives job updates, together with the
// status at subscription time.
func (t *JobTracker) Subscribe(id string) (chan JobStatus, *JobStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.jobs[id]
	if !ok {
		return nil, nil, false
	}
	snapshot := *job
	ch := make(chan JobStatus, 10)
	t.subs[id] = append(t.subs[id], ch)
	return ch, &snapshot, true
}

// Unsubscribe removes a channel from subscribers.
func (t *JobTracker) Unsubscribe(id string, ch chan JobStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	subs := t.subs[id]
	for i, s := range subs {
		if s == ch {
			t.subs[id] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(t.subs[id]) == 0 {
		delete(t.subs, id)
	}
	close(ch)
}

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	tracker    *JobTracker
	sseTimeout time.Duration
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(tracker *JobTracker) *JobsHandler {
	return &JobsHandler{tracker: tracker, sseTimeout: 10 * time.Minute}
}

// Register sets up job routes.
func (h *JobsHandler) Register(router fiber.Router) {
	jobs := router.Group("/jobs")
	jobs.Get("/:id", h.GetStatus)
	jobs.Get("/:id/stream", h.StreamSSE)
}

// GetStatus returns the current job status.
func (h *JobsHandler) GetStatus(c fiber.Ctx) error {
	job, ok := h.tracker.GetJob(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "job not found"})
	}
	return c.JSON(job)
}

// StreamSSE streams job updates via Server-Sent Events.
func (h *JobsHandler) StreamSSE(c fiber.Ctx) error {
	id := c.Params("id")

	ch, job, ok := h.tracker.Subscribe(id)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "job not found"})
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	// Already finished: send the final status only.
	if job.finished() {
		h.tracker.Unsubscribe(id, ch)
		return c.SendString(sseEvent(job.Status, job))
	}

	return c.SendStreamWriter(func(w *bufio.Writer) {
		defer h.tracker.Unsubscribe(id, ch)

		fmt.Fprint(w, sseEvent("progress", job))
		if err := w.Flush(); err != nil {
			return
		}

		timeout := time.After(h.sseTimeout)
		for {
			select {
			case update := <-ch:
				event := "progress"
				if update.finished() {
					event = update.Status
				}
				fmt.Fprint(w, sseEvent(event, &update))
				if err := w.Flush(); err != nil {
					slog.Debug("SSE client gone", "job_id", id)
					return
				}
				if update.finished() {
					return
				}
			case <-timeout:
				slog.Warn("SSE timeout", "job_id", id)
				return
			}
		}
	})
}

func sseEvent(event string, job *JobStatus) string {
	data, _ := json.Marshal(job)
	return fmt.Sprintf("event: %s\ndata: %s\n\n", event, data)
}
