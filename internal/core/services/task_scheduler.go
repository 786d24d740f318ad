package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/ogirardi/vigil/internal/core/domain"
	"github.com/ogirardi/vigil/internal/core/ports"
)

// TaskRepository defines persistence for scheduled tasks as seen by the
// scheduler loop.
type TaskRepository interface {
	DueTasks(ctx context.Context, now time.Time) ([]domain.ScheduledTask, error)
	SaveTask(ctx context.Context, task *domain.ScheduledTask) error
	DeleteTask(ctx context.Context, id domain.TaskID) error
}

// TaskSchedulerOptions carries the agent-invocation defaults used when a
// task fires.
type TaskSchedulerOptions struct {
	Tick       time.Duration // due-task poll interval, 1 minute default
	Model      string
	ChatbotID  string
	RAGEnabled bool
}

// TaskScheduler fires persisted tasks when they come due. Execution is
// submitted to the delegation queue, so task work shares the same
// concurrency cap as every other background job. Rearm wakes the loop
// early so newly added or removed tasks take effect without waiting for
// the next natural tick.
type TaskScheduler struct {
	logger *slog.Logger
	repo   TaskRepository
	runner ports.AgentRunner
	queue  *DelegationQueue
	bus    *EventBus
	audit  ports.AuditLog
	opts   TaskSchedulerOptions
	wake   chan struct{}
}

func NewTaskScheduler(logger *slog.Logger, repo TaskRepository, runner ports.AgentRunner, queue *DelegationQueue, bus *EventBus, audit ports.AuditLog, opts TaskSchedulerOptions) *TaskScheduler {
	if opts.Tick <= 0 {
		opts.Tick = time.Minute
	}
	return &TaskScheduler{
		logger: logger,
		repo:   repo,
		runner: runner,
		queue:  queue,
		bus:    bus,
		audit:  audit,
		opts:   opts,
		wake:   make(chan struct{}, 1),
	}
}

// Rearm signals the scheduler to reconsider the task set now. Idempotent
// and non-blocking; redundant signals collapse into one wakeup.
func (s *TaskScheduler) Rearm() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run starts the scheduler loop. Blocks until ctx is cancelled.
func (s *TaskScheduler) Run(ctx context.Context) error {
	s.logger.Info("task scheduler started", "tick", s.opts.Tick)
	ticker := time.NewTicker(s.opts.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("task scheduler stopped")
			return nil
		case <-ticker.C:
			s.dispatchDue(ctx)
		case <-s.wake:
			s.dispatchDue(ctx)
		}
	}
}

// dispatchDue advances each due task's schedule and hands its execution to
// the delegation queue. Rescheduling happens at dispatch time so a slow run
// cannot make the same occurrence fire twice.
func (s *TaskScheduler) dispatchDue(ctx context.Context) {
	now := time.Now()
	due, err := s.repo.DueTasks(ctx, now)
	if err != nil {
		s.logger.Error("failed to load due tasks", "error", err)
		return
	}
	if len(due) == 0 {
		return
	}

	s.logger.Info("dispatching due tasks", "count", len(due))

	for _, task := range due {
		task := task
		if err := s.advanceSchedule(ctx, &task, now); err != nil {
			s.logger.Error("failed to reschedule task", "task_id", task.ID, "error", err)
			continue
		}
		s.queue.Enqueue(ctx, domain.DelegationJob{
			ID: "task:" + string(task.ID),
			Run: func(ctx context.Context) error {
				return s.executeTask(ctx, &task)
			},
		})
	}
}

// advanceSchedule computes and persists the task's next occurrence: one-off
// tasks complete, interval tasks shift by their period, cron tasks follow
// their expression.
func (s *TaskScheduler) advanceSchedule(ctx context.Context, task *domain.ScheduledTask, now time.Time) error {
	switch {
	case task.RunAt != nil:
		task.Status = domain.TaskStatusCompleted
	case task.EveryMS > 0:
		task.NextRun = now.Add(time.Duration(task.EveryMS) * time.Millisecond)
	case task.CronExpr != "":
		sched, err := cron.ParseStandard(task.CronExpr)
		if err != nil {
			task.Status = domain.TaskStatusFailed
			task.LastResult = fmt.Sprintf("invalid cron expression: %v", err)
			if saveErr := s.repo.SaveTask(ctx, task); saveErr != nil {
				return saveErr
			}
			return fmt.Errorf("invalid cron expression %q: %w", task.CronExpr, err)
		}
		task.NextRun = sched.Next(now)
	default:
		// No schedule left; treat as a completed one-off.
		task.Status = domain.TaskStatusCompleted
	}
	return s.repo.SaveTask(ctx, task)
}

// executeTask runs one due task through the agent and records the outcome.
func (s *TaskScheduler) executeTask(ctx context.Context, task *domain.ScheduledTask) error {
	runID := uuid.New().String()
	chatbotID := s.opts.ChatbotID
	if chatbotID == "" {
		chatbotID = string(task.SessionID)
	}

	start := time.Now()
	out, runErr := s.runner.Run(ctx, domain.AgentRunRequest{
		SessionID:  task.SessionID,
		Messages:   []domain.Message{{Role: domain.RoleUser, Content: task.Prompt}},
		ChatbotID:  chatbotID,
		RAGEnabled: s.opts.RAGEnabled,
		Model:      s.opts.Model,
		AgentID:    chatbotID,
		ChannelID:  task.ChannelID,
	})
	elapsed := time.Since(start)

	now := time.Now()
	task.LastRun = &now
	task.RunCount++

	status := string(out.Status)
	switch {
	case runErr != nil:
		status = "invocation_failed"
		task.LastResult = fmt.Sprintf("ERROR: %v", runErr)
		s.logger.Error("scheduled task failed", "task_id", task.ID, "run_id", runID, "error", runErr)
	case out.Status == domain.AgentStatusError:
		task.LastResult = "ERROR: " + out.Error
		s.logger.Warn("scheduled task: agent reported error", "task_id", task.ID, "run_id", runID, "agent_error", out.Error)
	default:
		task.LastResult = truncateResult(out.Result)
		s.logger.Info("scheduled task completed", "task_id", task.ID, "run_id", runID, "duration", elapsed)
		if out.Result != "" {
			s.bus.PublishMessage(task.SessionID, task.ChannelID, "scheduled_task", out.Result)
		}
	}

	s.audit.Record(ctx, domain.AuditEvent{
		SessionID:  task.SessionID,
		RunID:      runID,
		Kind:       "scheduled_task",
		Status:     status,
		Detail:     string(task.ID),
		DurationMS: elapsed.Milliseconds(),
		CreatedAt:  now,
	})

	if err := s.repo.SaveTask(ctx, task); err != nil {
		s.logger.Error("failed to save task after execution", "task_id", task.ID, "error", err)
	}
	return runErr
}

func truncateResult(s string) string {
	const maxStored = 4096
	if len(s) <= maxStored {
		return s
	}
	return s[:maxStored] + "... (truncated)"
}
