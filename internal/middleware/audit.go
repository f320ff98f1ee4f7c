package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/viveksaraswat123/medical-chatbot/internal/metrics"
	"github.com/viveksaraswat123/medical-chatbot/internal/port"
)

// Auditor writes audit records in the background so a slow database never
// delays a response. A nil writer disables auditing.
type Auditor struct {
	writer port.AuditWriter
}

// NewAuditor creates an auditor. writer may be nil.
func NewAuditor(writer port.AuditWriter) *Auditor {
	return &Auditor{writer: writer}
}

// Record writes a domain event (chat_created, question_answered, …) for the
// current request. Values are captured before the goroutine starts because
// Fiber reuses context objects.
func (a *Auditor) Record(c fiber.Ctx, action, resource, resourceID string, details map[string]any) {
	if a == nil || a.writer == nil {
		return
	}

	userID := "anonymous"
	if uc := GetUserContext(c); uc != nil {
		userID = uc.UserID
	}
	ip := c.IP()
	userAgent := c.Get("User-Agent")
	a.write(userID, action, resource, resourceID, details, ip, userAgent)
}

// RecordSystem writes an event that has no HTTP request, e.g. from the MCP server.
func (a *Auditor) RecordSystem(userID, action, resource, resourceID string, details map[string]any) {
	if a == nil || a.writer == nil {
		return
	}
	a.write(userID, action, resource, resourceID, details, "", "")
}

func (a *Auditor) write(userID, action, resource, resourceID string, details map[string]any, ip, userAgent string) {
	detailsJSON := []byte("{}")
	if len(details) > 0 {
		if b, err := json.Marshal(details); err == nil {
			detailsJSON = b
		}
	}

	go func() {
		if err := a.writer.WriteAudit(userID, action, resource, resourceID, string(detailsJSON), ip, userAgent); err != nil {
			slog.Error("failed to write audit log", "action", action, "error", err)
		}
	}()
}

// AuditMiddleware records every state-changing request (anything but GET,
// HEAD and OPTIONS) as an "http_request" audit entry, and every request in
// the HTTP metrics.
func AuditMiddleware(a *Auditor, m *metrics.Metrics) fiber.Handler {
	return func(c fiber.Ctx) error {
		start := time.Now()

		// Capture request data BEFORE handler execution (Fiber reuses context objects)
		method := c.Method()
		path := c.Path()

		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}
		elapsed := time.Since(start)

		route := path
		if r := c.Route(); r != nil && r.Path != "" {
			route = r.Path
		}
		m.ObserveHTTP(method, route, status, elapsed)

		switch method {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
		default:
			a.Record(c, "http_request", "api", path, map[string]any{
				"method":      method,
				"path":        path,
				"status":      status,
				"duration_ms": elapsed.Milliseconds(),
			})
		}

		return err
	}
}
