package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full configuration surface of the kernel. Loaded once at
// startup; immutable for the process lifetime.
type Config struct {
	// Persistence
	DBPath string

	// HTTP surface
	ListenAddr     string
	AllowedOrigins []string

	// Delegation queue
	DelegationEnabled bool
	MaxConcurrentJobs int

	// Heartbeat
	HeartbeatEnabled  bool
	HeartbeatInterval time.Duration
	HeartbeatChannel  string // optional delivery channel override
	AgentID           string

	// Active hours (gates proactive delivery, not the ticker)
	ActiveHoursEnabled bool
	ActiveStartHour    int
	ActiveEndHour      int
	ActiveTimezone     string

	// Agent invocation defaults
	Model      string
	ChatbotID  string // optional override; falls back to AgentID
	RAGEnabled bool

	// LLM endpoint
	LLMProvider string // "openai" or "ollama"
	LLMBaseURL  string
	LLMAPIKey   string

	// Optional prompt context files
	BootstrapFile string
	SkillsFile    string

	// Scheduler
	SchedulerTick time.Duration
}

// Default returns safe defaults
func Default() *Config {
	return &Config{
		DBPath:             "vigil.db",
		ListenAddr:         ":8080",
		AllowedOrigins:     []string{"http://localhost:5173"},
		DelegationEnabled:  true,
		MaxConcurrentJobs:  4,
		HeartbeatEnabled:   true,
		HeartbeatInterval:  30 * time.Minute,
		AgentID:            "vigil",
		ActiveHoursEnabled: false,
		ActiveStartHour:    9,
		ActiveEndHour:      22,
		ActiveTimezone:     "UTC",
		Model:              "gpt-4",
		RAGEnabled:         false,
		LLMProvider:        "openai",
		LLMBaseURL:         "http://localhost:11434/v1",
		SchedulerTick:      time.Minute,
	}
}

// Load builds the config from defaults plus VIGIL_* environment overrides.
func Load() (*Config, error) {
	cfg := Default()

	if v := os.Getenv("VIGIL_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("VIGIL_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("VIGIL_ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitAndTrim(v)
	}
	if v := os.Getenv("VIGIL_DELEGATION_ENABLED"); v != "" {
		cfg.DelegationEnabled = parseBool(v)
	}
	if v := os.Getenv("VIGIL_MAX_CONCURRENT_JOBS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid VIGIL_MAX_CONCURRENT_JOBS: %q", v)
		}
		cfg.MaxConcurrentJobs = n
	}
	if v := os.Getenv("VIGIL_HEARTBEAT_ENABLED"); v != "" {
		cfg.HeartbeatEnabled = parseBool(v)
	}
	if v := os.Getenv("VIGIL_HEARTBEAT_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid VIGIL_HEARTBEAT_INTERVAL: %q", v)
		}
		cfg.HeartbeatInterval = d
	}
	if v := os.Getenv("VIGIL_HEARTBEAT_CHANNEL"); v != "" {
		cfg.HeartbeatChannel = v
	}
	if v := os.Getenv("VIGIL_AGENT_ID"); v != "" {
		cfg.AgentID = v
	}
	if v := os.Getenv("VIGIL_ACTIVE_HOURS_ENABLED"); v != "" {
		cfg.ActiveHoursEnabled = parseBool(v)
	}
	if v := os.Getenv("VIGIL_ACTIVE_START_HOUR"); v != "" {
		h, err := parseHour(v)
		if err != nil {
			return nil, fmt.Errorf("invalid VIGIL_ACTIVE_START_HOUR: %q", v)
		}
		cfg.ActiveStartHour = h
	}
	if v := os.Getenv("VIGIL_ACTIVE_END_HOUR"); v != "" {
		h, err := parseHour(v)
		if err != nil {
			return nil, fmt.Errorf("invalid VIGIL_ACTIVE_END_HOUR: %q", v)
		}
		cfg.ActiveEndHour = h
	}
	if v := os.Getenv("VIGIL_ACTIVE_TIMEZONE"); v != "" {
		cfg.ActiveTimezone = v
	}
	if v := os.Getenv("VIGIL_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("VIGIL_CHATBOT_ID"); v != "" {
		cfg.ChatbotID = v
	}
	if v := os.Getenv("VIGIL_RAG_ENABLED"); v != "" {
		cfg.RAGEnabled = parseBool(v)
	}
	if v := os.Getenv("VIGIL_LLM_PROVIDER"); v != "" {
		cfg.LLMProvider = v
	}
	if v := os.Getenv("VIGIL_LLM_BASE_URL"); v != "" {
		cfg.LLMBaseURL = v
	}
	if v := os.Getenv("VIGIL_LLM_API_KEY"); v != "" {
		cfg.LLMAPIKey = v
	}
	if v := os.Getenv("VIGIL_BOOTSTRAP_FILE"); v != "" {
		cfg.BootstrapFile = v
	}
	if v := os.Getenv("VIGIL_SKILLS_FILE"); v != "" {
		cfg.SkillsFile = v
	}
	if v := os.Getenv("VIGIL_SCHEDULER_TICK"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid VIGIL_SCHEDULER_TICK: %q", v)
		}
		cfg.SchedulerTick = d
	}

	return cfg, nil
}

func parseBool(s string) bool {
	return s == "true" || s == "1" || s == "yes"
}

func splitAndTrim(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseHour(s string) (int, error) {
	h, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if h < 0 || h > 23 {
		return 0, fmt.Errorf("hour out of range: %d", h)
	}
	return h, nil
}
