package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ogirardi/vigil/internal/core/domain"
)

// maxAuditEvents bounds the in-memory ring of recent events.
const maxAuditEvents = 256

// AuditRepository is the minimal persistence interface for audit events.
type AuditRepository interface {
	SaveAuditEvent(ctx context.Context, ev domain.AuditEvent) error
}

// AuditRecorder is an append-only, fire-and-forget sink for proactive-run
// events. Recent events stay in a ring buffer for the status API; each
// event is persisted asynchronously so recording never blocks a cycle.
type AuditRecorder struct {
	mu     sync.RWMutex
	logger *slog.Logger
	repo   AuditRepository // optional; nil disables persistence
	events []domain.AuditEvent
}

func NewAuditRecorder(logger *slog.Logger, repo AuditRepository) *AuditRecorder {
	return &AuditRecorder{
		logger: logger,
		repo:   repo,
		events: make([]domain.AuditEvent, 0, maxAuditEvents),
	}
}

// Record appends one event. Failures are logged, never surfaced.
func (a *AuditRecorder) Record(_ context.Context, ev domain.AuditEvent) {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}

	a.mu.Lock()
	if len(a.events) >= maxAuditEvents {
		a.events = a.events[1:]
	}
	a.events = append(a.events, ev)
	a.mu.Unlock()

	if a.repo == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.repo.SaveAuditEvent(ctx, ev); err != nil {
			a.logger.Warn("failed to persist audit event",
				"session_id", ev.SessionID, "run_id", ev.RunID, "error", err)
		}
	}()
}

// Recent returns up to limit events, newest first.
func (a *AuditRecorder) Recent(limit int) []domain.AuditEvent {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if limit <= 0 || limit > len(a.events) {
		limit = len(a.events)
	}

	result := make([]domain.AuditEvent, 0, limit)
	for i := len(a.events) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, a.events[i])
	}
	return result
}
