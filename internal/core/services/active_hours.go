package services

import (
	"fmt"
	"log/slog"
	"time"
)

// ActiveHoursConfig defines the time-of-day window during which proactive
// output may be surfaced. Loaded once; immutable for the process lifetime.
type ActiveHoursConfig struct {
	Enabled   bool
	StartHour int // 0–23
	EndHour   int // 0–23
	Timezone  string
}

// ActiveHours decides whether proactively generated output should be
// delivered right now. It gates delivery only — the heartbeat ticker keeps
// firing regardless.
type ActiveHours struct {
	cfg ActiveHoursConfig
	loc *time.Location // nil when timezone resolution failed
}

func NewActiveHours(logger *slog.Logger, cfg ActiveHoursConfig) *ActiveHours {
	var loc *time.Location
	if cfg.Enabled && cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			// Degrade to the local hour rather than failing callers.
			logger.Warn("active hours: unknown timezone, falling back to local time",
				"timezone", cfg.Timezone, "error", err)
		} else {
			loc = l
		}
	}
	return &ActiveHours{cfg: cfg, loc: loc}
}

// IsActive reports whether now falls inside the configured window.
// A disabled policy and a degenerate start==end window are always active.
// Wrapping windows (start > end) span midnight.
func (a *ActiveHours) IsActive(now time.Time) bool {
	if !a.cfg.Enabled {
		return true
	}
	if a.cfg.StartHour == a.cfg.EndHour {
		return true
	}

	hour := now.Hour()
	if a.loc != nil {
		hour = now.In(a.loc).Hour()
	}

	if a.cfg.StartHour < a.cfg.EndHour {
		return hour >= a.cfg.StartHour && hour < a.cfg.EndHour
	}
	return hour >= a.cfg.StartHour || hour < a.cfg.EndHour
}

// WindowLabel returns a display string for the configured window.
func (a *ActiveHours) WindowLabel() string {
	if !a.cfg.Enabled || a.cfg.StartHour == a.cfg.EndHour {
		return "always"
	}
	tz := a.cfg.Timezone
	if a.loc == nil {
		tz = "local"
	}
	return fmt.Sprintf("%02d:00-%02d:00 %s", a.cfg.StartHour, a.cfg.EndHour, tz)
}
