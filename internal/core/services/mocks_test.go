package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/ogirardi/vigil/internal/core/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeTaskStore records CreateTask/DeleteTask calls and can be programmed
// to fail per call.
type fakeTaskStore struct {
	mu          sync.Mutex
	created     []domain.ScheduledTask
	deleted     []domain.TaskID
	failCreate  bool
	failDelete  bool
	nextID      int
}

func (f *fakeTaskStore) CreateTask(_ context.Context, sessionID domain.SessionID, channelID, cronExpr, prompt string, runAt *time.Time, everyMS int64) (domain.TaskID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate {
		return "", fmt.Errorf("task store unavailable")
	}
	f.nextID++
	id := domain.TaskID(fmt.Sprintf("task-%d", f.nextID))
	f.created = append(f.created, domain.ScheduledTask{
		ID:        id,
		SessionID: sessionID,
		ChannelID: channelID,
		CronExpr:  cronExpr,
		Prompt:    prompt,
		RunAt:     runAt,
		EveryMS:   everyMS,
	})
	return id, nil
}

func (f *fakeTaskStore) DeleteTask(_ context.Context, id domain.TaskID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDelete {
		return domain.ErrTaskNotFound
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeTaskStore) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

// fakeScheduler counts re-arm signals.
type fakeScheduler struct {
	mu     sync.Mutex
	rearms int
}

func (f *fakeScheduler) Rearm() {
	f.mu.Lock()
	f.rearms++
	f.mu.Unlock()
}

func (f *fakeScheduler) rearmCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rearms
}

// fakeSessionStore keeps sessions and messages in memory. History is
// returned most-recent-first, matching the store contract.
type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[domain.SessionID]bool
	messages map[domain.SessionID][]domain.Message
	tasks    map[domain.SessionID][]domain.ScheduledTask
	failHist bool
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{
		sessions: make(map[domain.SessionID]bool),
		messages: make(map[domain.SessionID][]domain.Message),
		tasks:    make(map[domain.SessionID][]domain.ScheduledTask),
	}
}

func (f *fakeSessionStore) EnsureSession(_ context.Context, id domain.SessionID, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[id] = true
	return nil
}

func (f *fakeSessionStore) GetHistory(_ context.Context, id domain.SessionID, limit int) ([]domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failHist {
		return nil, fmt.Errorf("history unavailable")
	}
	msgs := f.messages[id]
	out := make([]domain.Message, 0, limit)
	for i := len(msgs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, msgs[i])
	}
	return out, nil
}

func (f *fakeSessionStore) StoreMessage(_ context.Context, id domain.SessionID, _, _ string, role domain.MessageRole, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[id] = append(f.messages[id], domain.Message{Role: role, Content: content, CreatedAt: time.Now()})
	return nil
}

func (f *fakeSessionStore) ScheduledTasks(_ context.Context, id domain.SessionID) ([]domain.ScheduledTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tasks[id], nil
}

func (f *fakeSessionStore) storedCount(id domain.SessionID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages[id])
}

// fakeRunner returns a programmed output, optionally blocking until
// released so overlap behavior can be observed.
type fakeRunner struct {
	mu      sync.Mutex
	out     domain.AgentOutput
	err     error
	calls   int
	lastReq domain.AgentRunRequest
	block   chan struct{} // when non-nil, Run waits for close
}

func (f *fakeRunner) Run(_ context.Context, req domain.AgentRunRequest) (domain.AgentOutput, error) {
	f.mu.Lock()
	f.calls++
	f.lastReq = req
	block := f.block
	out, err := f.out, f.err
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	return out, err
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeRunner) request() domain.AgentRunRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastReq
}

// fakeAudit collects recorded events.
type fakeAudit struct {
	mu     sync.Mutex
	events []domain.AuditEvent
}

func (f *fakeAudit) Record(_ context.Context, ev domain.AuditEvent) {
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
}

func (f *fakeAudit) recorded() []domain.AuditEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.AuditEvent, len(f.events))
	copy(out, f.events)
	return out
}
