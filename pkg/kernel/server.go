package kernel

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rs/cors"

	"github.com/ogirardi/vigil/internal/core/domain"
	"github.com/ogirardi/vigil/internal/core/ports"
	"github.com/ogirardi/vigil/internal/core/services"
)

// TaskRepo is the persistence slice the HTTP surface needs.
type TaskRepo interface {
	CreateTask(ctx context.Context, sessionID domain.SessionID, channelID, cronExpr, prompt string, runAt *time.Time, everyMS int64) (domain.TaskID, error)
	ListTasks(ctx context.Context) ([]domain.ScheduledTask, error)
	DeleteTask(ctx context.Context, id domain.TaskID) error
}

// Server exposes the kernel's observation and control surface over HTTP.
type Server struct {
	logger    *slog.Logger
	queue     *services.DelegationQueue
	heartbeat *services.Heartbeat
	hours     *services.ActiveHours
	bus       *services.EventBus
	audit     *services.AuditRecorder
	repo      TaskRepo
	scheduler ports.Scheduler
	origins   []string
}

func NewServer(
	logger *slog.Logger,
	queue *services.DelegationQueue,
	heartbeat *services.Heartbeat,
	hours *services.ActiveHours,
	bus *services.EventBus,
	audit *services.AuditRecorder,
	repo TaskRepo,
	scheduler ports.Scheduler,
	origins []string,
) *Server {
	return &Server{
		logger:    logger,
		queue:     queue,
		heartbeat: heartbeat,
		hours:     hours,
		bus:       bus,
		audit:     audit,
		repo:      repo,
		scheduler: scheduler,
		origins:   origins,
	}
}

// Handler builds the routed, CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/status", s.handleStatus)
	mux.HandleFunc("/v1/tasks", s.handleTasks)
	mux.HandleFunc("/v1/tasks/", s.handleTaskByID)
	mux.HandleFunc("/v1/audit", s.handleAudit)
	mux.HandleFunc("/v1/events", s.handleEventsSSE)

	c := cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	Queue struct {
		Queued int `json:"queued"`
		Active int `json:"active"`
	} `json:"queue"`
	Heartbeat struct {
		Started  bool   `json:"started"`
		InFlight bool   `json:"in_flight"`
		Interval string `json:"interval"`
	} `json:"heartbeat"`
	ActiveWindow   string `json:"active_window"`
	DeliverableNow bool   `json:"deliverable_now"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var resp statusResponse
	qs := s.queue.Status()
	resp.Queue.Queued = qs.Queued
	resp.Queue.Active = qs.Active
	resp.Heartbeat.Started = s.heartbeat.Started()
	resp.Heartbeat.InFlight = s.heartbeat.InFlight()
	resp.Heartbeat.Interval = s.heartbeat.Interval().String()
	resp.ActiveWindow = s.hours.WindowLabel()
	resp.DeliverableNow = s.hours.IsActive(time.Now())

	writeJSON(w, http.StatusOK, resp)
}

type createTaskRequest struct {
	SessionID string `json:"session_id"`
	ChannelID string `json:"channel_id"`
	Prompt    string `json:"prompt"`
	CronExpr  string `json:"cron_expr,omitempty"`
	RunAtMS   int64  `json:"run_at_ms,omitempty"`
	EveryMS   int64  `json:"every_ms,omitempty"`
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		tasks, err := s.repo.ListTasks(r.Context())
		if err != nil {
			s.logger.Error("failed to list tasks", "error", err)
			http.Error(w, "failed to list tasks", http.StatusInternalServerError)
			return
		}
		if tasks == nil {
			tasks = []domain.ScheduledTask{}
		}
		writeJSON(w, http.StatusOK, tasks)

	case http.MethodPost:
		var req createTaskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.Prompt == "" || req.SessionID == "" {
			http.Error(w, "session_id and prompt are required", http.StatusBadRequest)
			return
		}

		var runAt *time.Time
		if req.RunAtMS > 0 {
			t := time.UnixMilli(req.RunAtMS)
			runAt = &t
		}

		id, err := s.repo.CreateTask(r.Context(), domain.SessionID(req.SessionID), req.ChannelID, req.CronExpr, req.Prompt, runAt, req.EveryMS)
		if err != nil {
			s.logger.Error("failed to create task", "error", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.scheduler.Rearm()

		writeJSON(w, http.StatusCreated, map[string]string{"id": string(id)})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/v1/tasks/")
	if id == "" {
		http.Error(w, "missing task id", http.StatusBadRequest)
		return
	}

	if err := s.repo.DeleteTask(r.Context(), domain.TaskID(id)); err != nil {
		if err == domain.ErrTaskNotFound {
			http.Error(w, "task not found", http.StatusNotFound)
			return
		}
		s.logger.Error("failed to delete task", "task_id", id, "error", err)
		http.Error(w, "failed to delete task", http.StatusInternalServerError)
		return
	}
	s.scheduler.Rearm()

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	events := s.audit.Recent(100)
	if events == nil {
		events = []domain.AuditEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
