package services

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ogirardi/vigil/internal/core/domain"
)

// QueueStatus is an observability snapshot of the delegation queue.
type QueueStatus struct {
	Queued int `json:"queued"`
	Active int `json:"active"`
}

// DelegationQueue runs background jobs up to a concurrency cap, starting
// them in FIFO submission order. The queue is memory-resident and
// best-effort: nothing survives a restart.
type DelegationQueue struct {
	logger        *slog.Logger
	enabled       bool
	maxConcurrent int

	mu      sync.Mutex
	pending []domain.DelegationJob
	active  int
}

func NewDelegationQueue(logger *slog.Logger, enabled bool, maxConcurrent int) *DelegationQueue {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &DelegationQueue{
		logger:        logger,
		enabled:       enabled,
		maxConcurrent: maxConcurrent,
	}
}

// Enqueue accepts a job for eventual execution and returns immediately.
// When delegation is disabled the job is dropped rather than buffered —
// the queue never accumulates work it will never run.
func (q *DelegationQueue) Enqueue(ctx context.Context, job domain.DelegationJob) {
	if !q.enabled {
		q.logger.Info("delegation disabled, dropping job", "job_id", job.ID)
		return
	}

	q.mu.Lock()
	q.pending = append(q.pending, job)
	q.pumpLocked(ctx)
	q.mu.Unlock()
}

// Status returns the current queue depth and active-job count. Never blocks
// on job execution; only the bookkeeping lock is taken.
func (q *DelegationQueue) Status() QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStatus{Queued: len(q.pending), Active: q.active}
}

// pumpLocked admits pending jobs while capacity exists. Must be called with
// q.mu held; both Enqueue and job completion re-invoke it, so a redundant
// call with no capacity or no work is a no-op.
func (q *DelegationQueue) pumpLocked(ctx context.Context) {
	for q.active < q.maxConcurrent && len(q.pending) > 0 {
		job := q.pending[0]
		q.pending = q.pending[1:]
		q.active++
		go q.execute(ctx, job)
	}
}

// execute runs one job and, on completion, frees its slot and re-pumps.
// A job's failure or panic is captured here and counts as a normal
// completion — it never reaches the caller or other jobs.
func (q *DelegationQueue) execute(ctx context.Context, job domain.DelegationJob) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("delegation job panicked", "job_id", job.ID, "panic", r)
		}
		q.mu.Lock()
		q.active--
		q.pumpLocked(ctx)
		q.mu.Unlock()
	}()

	if err := job.Run(ctx); err != nil {
		q.logger.Error("delegation job failed", "job_id", job.ID, "error", err)
		return
	}
	q.logger.Debug("delegation job completed", "job_id", job.ID)
}
