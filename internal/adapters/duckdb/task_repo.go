package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/ogirardi/vigil/internal/core/domain"
)

const scheduledTaskColumns = `SELECT id, session_id, channel_id, prompt, cron_expr, run_at, every_ms, next_run, last_run, last_result, run_count, status, created_at, created_by`

// CreateTask persists a new active task and computes its first occurrence.
// Precedence when several schedule fields are set: run_at, then every_ms,
// then the cron expression.
func (r *Repository) CreateTask(ctx context.Context, sessionID domain.SessionID, channelID, cronExpr, prompt string, runAt *time.Time, everyMS int64) (domain.TaskID, error) {
	nextRun, err := firstOccurrence(cronExpr, runAt, everyMS, time.Now())
	if err != nil {
		return "", err
	}

	id := domain.TaskID(uuid.New().String())
	query := `
	INSERT INTO scheduled_tasks (id, session_id, channel_id, prompt, cron_expr, run_at, every_ms, next_run, run_count, status, created_by)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		string(id), string(sessionID), channelID, prompt, cronExpr,
		runAt, everyMS, nextRun, string(domain.TaskStatusActive), "agent",
	)
	if err != nil {
		return "", fmt.Errorf("failed to create task: %w", err)
	}
	return id, nil
}

func firstOccurrence(cronExpr string, runAt *time.Time, everyMS int64, now time.Time) (time.Time, error) {
	switch {
	case runAt != nil:
		return *runAt, nil
	case everyMS > 0:
		return now.Add(time.Duration(everyMS) * time.Millisecond), nil
	case cronExpr != "":
		sched, err := cron.ParseStandard(cronExpr)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
		}
		return sched.Next(now), nil
	default:
		return time.Time{}, fmt.Errorf("task has no schedule: need run_at, every_ms or cron_expr")
	}
}

// SaveTask upserts the task's mutable scheduling state.
func (r *Repository) SaveTask(ctx context.Context, task *domain.ScheduledTask) error {
	query := `
	INSERT INTO scheduled_tasks (id, session_id, channel_id, prompt, cron_expr, run_at, every_ms, next_run, last_run, last_result, run_count, status, created_at, created_by)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		next_run = excluded.next_run,
		last_run = excluded.last_run,
		last_result = excluded.last_result,
		run_count = excluded.run_count,
		status = excluded.status;
	`
	createdAt := task.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx, query,
		string(task.ID), string(task.SessionID), task.ChannelID, task.Prompt,
		task.CronExpr, task.RunAt, task.EveryMS,
		task.NextRun, task.LastRun, task.LastResult,
		task.RunCount, string(task.Status), createdAt, task.CreatedBy,
	)
	return err
}

// GetTask returns one task by id.
func (r *Repository) GetTask(ctx context.Context, id domain.TaskID) (*domain.ScheduledTask, error) {
	query := scheduledTaskColumns + ` FROM scheduled_tasks WHERE id = ?`
	row := r.db.QueryRowContext(ctx, query, string(id))

	task, err := scanScheduledTask(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrTaskNotFound
		}
		return nil, err
	}
	return task, nil
}

// ListTasks returns every task, soonest first.
func (r *Repository) ListTasks(ctx context.Context) ([]domain.ScheduledTask, error) {
	query := scheduledTaskColumns + ` FROM scheduled_tasks ORDER BY next_run ASC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanScheduledTasks(rows)
}

// DueTasks returns active tasks whose next occurrence is at or before now.
func (r *Repository) DueTasks(ctx context.Context, now time.Time) ([]domain.ScheduledTask, error) {
	query := scheduledTaskColumns + ` FROM scheduled_tasks WHERE status = 'active' AND next_run <= ? ORDER BY next_run ASC`
	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanScheduledTasks(rows)
}

// DeleteTask removes a task. Deleting an unknown id is an error so callers
// can report it.
func (r *Repository) DeleteTask(ctx context.Context, id domain.TaskID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM scheduled_tasks WHERE id = ?`, string(id))
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrTaskNotFound
	}
	return nil
}

func scanScheduledTask(row *sql.Row) (*domain.ScheduledTask, error) {
	var t domain.ScheduledTask
	var idStr, sessionIDStr, statusStr string
	var channelID, cronExpr, lastResult, createdBy sql.NullString
	var runAt, lastRun sql.NullTime

	err := row.Scan(
		&idStr, &sessionIDStr, &channelID, &t.Prompt, &cronExpr,
		&runAt, &t.EveryMS, &t.NextRun, &lastRun, &lastResult,
		&t.RunCount, &statusStr, &t.CreatedAt, &createdBy,
	)
	if err != nil {
		return nil, err
	}
	applyScannedFields(&t, idStr, sessionIDStr, statusStr, channelID, cronExpr, lastResult, createdBy, runAt, lastRun)
	return &t, nil
}

func scanScheduledTasks(rows *sql.Rows) ([]domain.ScheduledTask, error) {
	var tasks []domain.ScheduledTask
	for rows.Next() {
		var t domain.ScheduledTask
		var idStr, sessionIDStr, statusStr string
		var channelID, cronExpr, lastResult, createdBy sql.NullString
		var runAt, lastRun sql.NullTime

		err := rows.Scan(
			&idStr, &sessionIDStr, &channelID, &t.Prompt, &cronExpr,
			&runAt, &t.EveryMS, &t.NextRun, &lastRun, &lastResult,
			&t.RunCount, &statusStr, &t.CreatedAt, &createdBy,
		)
		if err != nil {
			return nil, err
		}
		applyScannedFields(&t, idStr, sessionIDStr, statusStr, channelID, cronExpr, lastResult, createdBy, runAt, lastRun)
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func applyScannedFields(t *domain.ScheduledTask, id, sessionID, status string, channelID, cronExpr, lastResult, createdBy sql.NullString, runAt, lastRun sql.NullTime) {
	t.ID = domain.TaskID(id)
	t.SessionID = domain.SessionID(sessionID)
	t.Status = domain.TaskStatus(status)
	t.ChannelID = channelID.String
	t.CronExpr = cronExpr.String
	t.LastResult = lastResult.String
	t.CreatedBy = createdBy.String
	if runAt.Valid {
		at := runAt.Time
		t.RunAt = &at
	}
	if lastRun.Valid {
		at := lastRun.Time
		t.LastRun = &at
	}
}
