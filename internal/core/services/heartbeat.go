package services

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/ogirardi/vigil/internal/core/domain"
	"github.com/ogirardi/vigil/internal/core/ports"
)

// heartbeatPrompt is the fixed instruction sent on every poll cycle.
const heartbeatPrompt = "Check whether any periodic tasks, reminders or follow-ups need attention right now. If nothing needs attention, reply with exactly HEARTBEAT_OK."

// heartbeatOKToken is the canonical "nothing to report" reply.
const heartbeatOKToken = "HEARTBEAT_OK"

// historyWindow bounds how many past turns are replayed into the prompt.
const historyWindow = 5

// DeliverFunc surfaces a proactive reply to the outside world. The caller
// that wires it owns transport and active-hours gating.
type DeliverFunc func(sessionID domain.SessionID, channelID, content string)

// HeartbeatOptions configures one heartbeat loop.
type HeartbeatOptions struct {
	AgentID         string
	Interval        time.Duration
	ChannelOverride string // effective delivery channel; defaults to "heartbeat"
	ChatbotID       string // optional override; falls back to AgentID
	Model           string
	RAGEnabled      bool
	Bootstrap       string // optional system context
	Skills          string // optional skills descriptions
}

// Heartbeat periodically polls the agent without external stimulus so it can
// act on its own schedule. Ticks never overlap: a tick arriving while a
// cycle is in flight is skipped, not queued.
type Heartbeat struct {
	logger  *slog.Logger
	store   ports.SessionStore
	runner  ports.AgentRunner
	bridge  *SideEffectBridge
	audit   ports.AuditLog
	deliver DeliverFunc
	opts    HeartbeatOptions

	running atomic.Bool // guards one tick body at a time

	mu      sync.Mutex
	started bool
	stop    chan struct{}
}

func NewHeartbeat(logger *slog.Logger, store ports.SessionStore, runner ports.AgentRunner, bridge *SideEffectBridge, audit ports.AuditLog, deliver DeliverFunc, opts HeartbeatOptions) *Heartbeat {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Minute
	}
	return &Heartbeat{
		logger:  logger,
		store:   store,
		runner:  runner,
		bridge:  bridge,
		audit:   audit,
		deliver: deliver,
		opts:    opts,
	}
}

// Start arms the recurring timer. Idempotent.
func (h *Heartbeat) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return
	}
	h.started = true
	h.stop = make(chan struct{})

	h.logger.Info("heartbeat started", "agent_id", h.opts.AgentID, "interval", h.opts.Interval)
	go h.run(h.stop)
}

// Stop disarms the timer. An in-flight cycle is allowed to finish naturally.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started {
		return
	}
	h.started = false
	close(h.stop)
	h.logger.Info("heartbeat stopped", "agent_id", h.opts.AgentID)
}

// Started reports whether the timer is armed.
func (h *Heartbeat) Started() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.started
}

// InFlight reports whether a cycle is currently executing.
func (h *Heartbeat) InFlight() bool {
	return h.running.Load()
}

// Interval returns the configured tick interval.
func (h *Heartbeat) Interval() time.Duration {
	return h.opts.Interval
}

// run keeps the ticker firing on schedule; each tick is handed off so a
// slow cycle delays nothing and overlapping ticks are skipped by the guard.
func (h *Heartbeat) run(stop chan struct{}) {
	ticker := time.NewTicker(h.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			go h.Tick()
		}
	}
}

// Tick attempts one poll cycle. If the previous cycle has not finished the
// tick is skipped entirely; heartbeats are best-effort, not accumulative.
func (h *Heartbeat) Tick() {
	if !h.running.CompareAndSwap(false, true) {
		h.logger.Debug("heartbeat cycle in progress, skipping tick", "agent_id", h.opts.AgentID)
		return
	}
	defer func() {
		// The guard must clear on every exit path or future ticks wedge.
		if r := recover(); r != nil {
			h.logger.Error("heartbeat cycle panicked", "agent_id", h.opts.AgentID, "panic", r)
		}
		h.running.Store(false)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), h.opts.Interval)
	defer cancel()
	h.cycle(ctx)
}

func (h *Heartbeat) cycle(ctx context.Context) {
	sessionID := domain.HeartbeatSessionID(h.opts.AgentID)
	channelID := h.opts.ChannelOverride
	if channelID == "" {
		channelID = domain.HeartbeatChannel
	}
	chatbotID := h.opts.ChatbotID
	if chatbotID == "" {
		chatbotID = h.opts.AgentID
	}
	runID := uuid.New().String()

	if err := h.store.EnsureSession(ctx, sessionID, "", domain.HeartbeatChannel); err != nil {
		h.logger.Error("heartbeat: failed to ensure session", "session_id", sessionID, "error", err)
		return
	}

	messages, err := h.assembleMessages(ctx, sessionID)
	if err != nil {
		h.logger.Error("heartbeat: failed to assemble prompt", "session_id", sessionID, "error", err)
		return
	}

	tasks, err := h.store.ScheduledTasks(ctx, sessionID)
	if err != nil {
		h.logger.Warn("heartbeat: failed to load scheduled tasks", "session_id", sessionID, "error", err)
		tasks = nil
	}

	start := time.Now()
	out, runErr := h.runner.Run(ctx, domain.AgentRunRequest{
		SessionID:      sessionID,
		Messages:       messages,
		ChatbotID:      chatbotID,
		RAGEnabled:     h.opts.RAGEnabled,
		Model:          h.opts.Model,
		AgentID:        h.opts.AgentID,
		ChannelID:      channelID,
		ScheduledTasks: tasks,
	})
	elapsed := time.Since(start)

	// The exchange is audited regardless of outcome.
	status := string(out.Status)
	detail := ""
	if runErr != nil {
		status = "invocation_failed"
		detail = runErr.Error()
	} else if out.Status == domain.AgentStatusError {
		detail = out.Error
	}
	h.audit.Record(ctx, domain.AuditEvent{
		SessionID:  sessionID,
		RunID:      runID,
		Kind:       "heartbeat",
		Status:     status,
		Detail:     detail,
		DurationMS: elapsed.Milliseconds(),
		CreatedAt:  time.Now(),
	})

	if runErr != nil {
		h.logger.Error("heartbeat: agent invocation failed",
			"session_id", sessionID, "run_id", runID, "duration", elapsed, "error", runErr)
		return
	}

	// Schedule changes may accompany either a "nothing to report" or a
	// substantive reply, so the bridge sees every output.
	h.bridge.Apply(ctx, out, sessionID, channelID)

	if out.Status == domain.AgentStatusError {
		h.logger.Warn("heartbeat: agent reported error",
			"session_id", sessionID, "run_id", runID, "agent_error", out.Error)
		return
	}

	reply := strings.TrimSpace(out.Result)
	if isHeartbeatOK(reply) {
		h.logger.Debug("heartbeat: nothing to report",
			"session_id", sessionID, "run_id", runID, "duration", elapsed)
		return
	}

	if err := h.store.StoreMessage(ctx, sessionID, domain.HeartbeatChannel, h.opts.AgentID, domain.RoleUser, heartbeatPrompt); err != nil {
		h.logger.Error("heartbeat: failed to persist prompt turn", "session_id", sessionID, "error", err)
	}
	if err := h.store.StoreMessage(ctx, sessionID, domain.HeartbeatChannel, h.opts.AgentID, domain.RoleAssistant, reply); err != nil {
		h.logger.Error("heartbeat: failed to persist reply turn", "session_id", sessionID, "error", err)
	}

	h.deliver(sessionID, channelID, reply)
	h.logger.Info("heartbeat: proactive reply delivered",
		"session_id", sessionID, "run_id", runID, "duration", elapsed, "reply_len", len(reply))
}

// assembleMessages builds the ordered prompt: optional system context, the
// last turns oldest-first, then the fixed instruction.
func (h *Heartbeat) assembleMessages(ctx context.Context, sessionID domain.SessionID) ([]domain.Message, error) {
	var messages []domain.Message

	var parts []string
	if s := strings.TrimSpace(h.opts.Bootstrap); s != "" {
		parts = append(parts, s)
	}
	if s := strings.TrimSpace(h.opts.Skills); s != "" {
		parts = append(parts, s)
	}
	if len(parts) > 0 {
		messages = append(messages, domain.Message{
			Role:    domain.RoleSystem,
			Content: strings.Join(parts, "\n\n"),
		})
	}

	history, err := h.store.GetHistory(ctx, sessionID, historyWindow)
	if err != nil {
		return nil, err
	}
	// The store returns most-recent-first; the prompt wants chronological.
	for i := len(history) - 1; i >= 0; i-- {
		messages = append(messages, history[i])
	}

	messages = append(messages, domain.Message{Role: domain.RoleUser, Content: heartbeatPrompt})
	return messages, nil
}

// isHeartbeatOK classifies a reply as "nothing to report". Both sides are
// reduced to their letters before the case-insensitive comparison, so
// whitespace, punctuation and underscore spelling around the token never
// break the match. Extra letters do: "HEARTBEAT_OK but also X" is a real
// reply.
func isHeartbeatOK(reply string) bool {
	return strings.EqualFold(lettersOnly(reply), lettersOnly(heartbeatOKToken))
}

func lettersOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
