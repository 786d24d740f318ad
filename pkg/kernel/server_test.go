package kernel

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ogirardi/vigil/internal/core/domain"
	"github.com/ogirardi/vigil/internal/core/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// memTaskRepo is an in-memory TaskRepo for handler tests.
type memTaskRepo struct {
	mu     sync.Mutex
	tasks  map[domain.TaskID]domain.ScheduledTask
	nextID int
}

func newMemTaskRepo() *memTaskRepo {
	return &memTaskRepo{tasks: make(map[domain.TaskID]domain.ScheduledTask)}
}

func (m *memTaskRepo) CreateTask(_ context.Context, sessionID domain.SessionID, channelID, cronExpr, prompt string, runAt *time.Time, everyMS int64) (domain.TaskID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cronExpr == "" && runAt == nil && everyMS <= 0 {
		return "", fmt.Errorf("task has no schedule")
	}
	m.nextID++
	id := domain.TaskID(fmt.Sprintf("task-%d", m.nextID))
	m.tasks[id] = domain.ScheduledTask{
		ID: id, SessionID: sessionID, ChannelID: channelID,
		CronExpr: cronExpr, Prompt: prompt, RunAt: runAt, EveryMS: everyMS,
		Status: domain.TaskStatusActive,
	}
	return id, nil
}

func (m *memTaskRepo) ListTasks(_ context.Context) ([]domain.ScheduledTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ScheduledTask, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t)
	}
	return out, nil
}

func (m *memTaskRepo) DeleteTask(_ context.Context, id domain.TaskID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[id]; !ok {
		return domain.ErrTaskNotFound
	}
	delete(m.tasks, id)
	return nil
}

type countingScheduler struct {
	mu     sync.Mutex
	rearms int
}

func (c *countingScheduler) Rearm() {
	c.mu.Lock()
	c.rearms++
	c.mu.Unlock()
}

func (c *countingScheduler) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rearms
}

type serverFixture struct {
	server  *Server
	repo    *memTaskRepo
	sched   *countingScheduler
	bus     *services.EventBus
	audit   *services.AuditRecorder
	handler http.Handler
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	logger := testLogger()

	f := &serverFixture{
		repo:  newMemTaskRepo(),
		sched: &countingScheduler{},
		bus:   services.NewEventBus(logger),
		audit: services.NewAuditRecorder(logger, nil),
	}

	queue := services.NewDelegationQueue(logger, true, 2)
	hours := services.NewActiveHours(logger, services.ActiveHoursConfig{Enabled: false})
	hb := services.NewHeartbeat(logger, nil, nil, nil, nil, nil, services.HeartbeatOptions{
		AgentID:  "agent-1",
		Interval: time.Hour,
	})

	f.server = NewServer(logger, queue, hb, hours, f.bus, f.audit, f.repo, f.sched, nil)
	f.handler = f.server.Handler()
	return f
}

func TestServer_Status(t *testing.T) {
	f := newServerFixture(t)

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.Queue.Queued)
	assert.Equal(t, 0, resp.Queue.Active)
	assert.False(t, resp.Heartbeat.Started)
	assert.Equal(t, "1h0m0s", resp.Heartbeat.Interval)
	assert.Equal(t, "always", resp.ActiveWindow)
	assert.True(t, resp.DeliverableNow)
}

func TestServer_CreateListDeleteTask(t *testing.T) {
	f := newServerFixture(t)

	body, _ := json.Marshal(createTaskRequest{
		SessionID: "sess-1",
		ChannelID: "chan-1",
		Prompt:    "morning brief",
		CronExpr:  "0 9 * * *",
	})
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/tasks", bytes.NewReader(body)))

	require.Equal(t, http.StatusCreated, rec.Code)
	var created map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created["id"])
	assert.Equal(t, 1, f.sched.count(), "task creation re-arms the scheduler")

	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/tasks", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var tasks []domain.ScheduledTask
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tasks))
	require.Len(t, tasks, 1)
	assert.Equal(t, "morning brief", tasks[0].Prompt)

	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest("DELETE", "/v1/tasks/"+created["id"], nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 2, f.sched.count(), "task deletion re-arms the scheduler")
}

func TestServer_CreateTaskValidation(t *testing.T) {
	f := newServerFixture(t)

	for name, body := range map[string]string{
		"missing prompt":   `{"session_id":"sess-1"}`,
		"missing session":  `{"prompt":"x","every_ms":1000}`,
		"invalid json":     `{`,
		"no schedule kind": `{"session_id":"sess-1","prompt":"x"}`,
	} {
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/tasks", strings.NewReader(body)))
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
	}
	assert.Equal(t, 0, f.sched.count(), "failed creations never re-arm")
}

func TestServer_DeleteUnknownTask(t *testing.T) {
	f := newServerFixture(t)

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest("DELETE", "/v1/tasks/no-such", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 0, f.sched.count())
}

func TestServer_Audit(t *testing.T) {
	f := newServerFixture(t)

	f.audit.Record(context.Background(), domain.AuditEvent{RunID: "run-1", Kind: "heartbeat", Status: "success"})
	f.audit.Record(context.Background(), domain.AuditEvent{RunID: "run-2", Kind: "scheduled_task", Status: "success"})

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/audit", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var events []domain.AuditEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 2)
	assert.Equal(t, "run-2", events[0].RunID, "newest first")
}

func TestServer_EventsSSE(t *testing.T) {
	f := newServerFixture(t)

	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Give the handler a moment to subscribe before publishing.
	time.Sleep(50 * time.Millisecond)
	f.bus.PublishMessage("sess-1", "heartbeat", "heartbeat", "Your build finished.")

	reader := bufio.NewReader(resp.Body)
	deadline := time.After(2 * time.Second)
	lines := make(chan string, 10)
	go func() {
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				close(lines)
				return
			}
			lines <- strings.TrimRight(line, "\n")
		}
	}()

	var event, data string
	for event == "" || data == "" {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatal("stream closed before event arrived")
			}
			if strings.HasPrefix(line, "event: ") {
				event = strings.TrimPrefix(line, "event: ")
			}
			if strings.HasPrefix(line, "data: ") {
				data = strings.TrimPrefix(line, "data: ")
			}
		case <-deadline:
			t.Fatal("timed out waiting for SSE event")
		}
	}

	assert.Equal(t, string(services.EventTypeNewMessage), event)
	assert.Contains(t, data, "Your build finished.")
}

func TestServer_Health(t *testing.T) {
	f := newServerFixture(t)

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
