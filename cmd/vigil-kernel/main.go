package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ogirardi/vigil/internal/adapters/duckdb"
	"github.com/ogirardi/vigil/internal/adapters/llm"
	"github.com/ogirardi/vigil/internal/config"
	"github.com/ogirardi/vigil/internal/core/domain"
	"github.com/ogirardi/vigil/internal/core/services"
	"github.com/ogirardi/vigil/pkg/kernel"
)

func main() {
	// Optional .env; real environments set variables directly.
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger.Info("starting vigil kernel")

	if err := run(logger); err != nil {
		logger.Error("kernel startup failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info("shutting down")
		cancel()
	}()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	repo, err := duckdb.NewRepository(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to init repository: %w", err)
	}
	defer repo.Close()

	runner, err := llm.NewRunner(cfg.LLMProvider, cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.Model)
	if err != nil {
		return fmt.Errorf("failed to build llm runner: %w", err)
	}

	eventBus := services.NewEventBus(logger)
	queue := services.NewDelegationQueue(logger, cfg.DelegationEnabled, cfg.MaxConcurrentJobs)
	audit := services.NewAuditRecorder(logger, repo)

	hours := services.NewActiveHours(logger, services.ActiveHoursConfig{
		Enabled:   cfg.ActiveHoursEnabled,
		StartHour: cfg.ActiveStartHour,
		EndHour:   cfg.ActiveEndHour,
		Timezone:  cfg.ActiveTimezone,
	})

	scheduler := services.NewTaskScheduler(logger, repo, runner, queue, eventBus, audit, services.TaskSchedulerOptions{
		Tick:       cfg.SchedulerTick,
		Model:      cfg.Model,
		ChatbotID:  cfg.ChatbotID,
		RAGEnabled: cfg.RAGEnabled,
	})

	bridge := services.NewSideEffectBridge(logger, repo, scheduler)

	// Proactive replies are delivered on the bus, gated by active hours.
	// Ticking continues outside the window; only delivery is suppressed.
	deliver := func(sessionID domain.SessionID, channelID, content string) {
		if !hours.IsActive(time.Now()) {
			logger.Info("suppressing proactive delivery outside active hours",
				"session_id", sessionID, "window", hours.WindowLabel())
			return
		}
		eventBus.PublishMessage(sessionID, channelID, "heartbeat", content)
	}

	heartbeat := services.NewHeartbeat(logger, repo, runner, bridge, audit, deliver, services.HeartbeatOptions{
		AgentID:         cfg.AgentID,
		Interval:        cfg.HeartbeatInterval,
		ChannelOverride: cfg.HeartbeatChannel,
		ChatbotID:       cfg.ChatbotID,
		Model:           cfg.Model,
		RAGEnabled:      cfg.RAGEnabled,
		Bootstrap:       readOptionalFile(logger, cfg.BootstrapFile),
		Skills:          readOptionalFile(logger, cfg.SkillsFile),
	})

	apiServer := kernel.NewServer(logger, queue, heartbeat, hours, eventBus, audit, repo, scheduler, cfg.AllowedOrigins)

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: apiServer.Handler(),
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return scheduler.Run(gCtx)
	})

	g.Go(func() error {
		if !cfg.HeartbeatEnabled {
			logger.Info("heartbeat disabled by config")
			return nil
		}
		heartbeat.Start()
		<-gCtx.Done()
		heartbeat.Stop()
		return nil
	})

	g.Go(func() error {
		logger.Info("starting api server", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// readOptionalFile loads prompt context; a missing file just means no
// context of that kind.
func readOptionalFile(logger *slog.Logger, path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("failed to read context file", "path", path, "error", err)
		return ""
	}
	return strings.TrimSpace(string(data))
}
