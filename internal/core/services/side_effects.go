package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/ogirardi/vigil/internal/core/domain"
	"github.com/ogirardi/vigil/internal/core/ports"
)

// SideEffectBridge translates agent-declared scheduling intents into task
// store mutations and, when anything actually changed, a single scheduler
// re-arm signal.
type SideEffectBridge struct {
	logger    *slog.Logger
	tasks     ports.TaskStore
	scheduler ports.Scheduler
}

func NewSideEffectBridge(logger *slog.Logger, tasks ports.TaskStore, scheduler ports.Scheduler) *SideEffectBridge {
	return &SideEffectBridge{
		logger:    logger,
		tasks:     tasks,
		scheduler: scheduler,
	}
}

// Apply processes every scheduling intent carried by the output. Each intent
// is applied independently: one failure is logged and never blocks the rest
// of the batch. Exactly one re-arm is issued when at least one intent
// succeeded; none when the whole batch failed.
func (b *SideEffectBridge) Apply(ctx context.Context, out domain.AgentOutput, sessionID domain.SessionID, channelID string) {
	if out.SideEffects == nil || len(out.SideEffects.Schedules) == 0 {
		return
	}

	applied := 0
	for _, eff := range out.SideEffects.Schedules {
		switch eff.Kind {
		case domain.ScheduleEffectAdd:
			var runAt *time.Time
			if eff.RunAtMS > 0 {
				t := time.UnixMilli(eff.RunAtMS)
				runAt = &t
			}
			id, err := b.tasks.CreateTask(ctx, sessionID, channelID, eff.CronExpr, eff.Prompt, runAt, eff.EveryMS)
			if err != nil {
				b.logger.Error("failed to add scheduled task",
					"session_id", sessionID, "cron_expr", eff.CronExpr, "every_ms", eff.EveryMS, "error", err)
				continue
			}
			b.logger.Info("scheduled task added", "task_id", id, "session_id", sessionID)
			applied++

		case domain.ScheduleEffectRemove:
			if err := b.tasks.DeleteTask(ctx, eff.TaskID); err != nil {
				b.logger.Error("failed to remove scheduled task",
					"task_id", eff.TaskID, "session_id", sessionID, "error", err)
				continue
			}
			b.logger.Info("scheduled task removed", "task_id", eff.TaskID, "session_id", sessionID)
			applied++

		default:
			b.logger.Warn("unknown schedule effect kind", "kind", eff.Kind, "session_id", sessionID)
		}
	}

	if applied > 0 {
		b.scheduler.Rearm()
	}
}
