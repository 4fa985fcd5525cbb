package config

import (
	"fmt"
	"strings"
	"time"
)

// Validate checks bounds and parses every duration field. It expects
// ApplyDefaults to have run.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	durations := []struct{ path, raw string }{
		{"telegram.poll_timeout", cfg.Telegram.PollTimeout},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
		{"task_engine.default_timeout", cfg.TaskEngine.DefaultTimeout},
		{"drawing.external_timeout", cfg.Drawing.ExternalTimeout},
		{"drawing.max_duration", cfg.Drawing.MaxDuration},
		{"drawing.retention", cfg.Drawing.Retention},
		{"moderation.warn_ttl", cfg.Moderation.WarnTTL},
		{"pprof.read_timeout", cfg.Pprof.ReadTimeout},
		{"pprof.write_timeout", cfg.Pprof.WriteTimeout},
		{"pprof.idle_timeout", cfg.Pprof.IdleTimeout},
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}
	if _, err := ParseDurationList("drawing.external_backoff", cfg.Drawing.ExternalBackoff); err != nil {
		return err
	}

	switch cfg.Storage.Driver {
	case "file":
		if strings.TrimSpace(cfg.Storage.Dir) == "" {
			return fmt.Errorf("storage.dir is required when storage.driver=file")
		}
	case "sqlite":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			return fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
	default:
		return fmt.Errorf("unknown storage.driver: %s", cfg.Storage.Driver)
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}

	te := cfg.TaskEngine
	switch {
	case te.Workers < 0:
		return fmt.Errorf("task_engine.workers must be >= 0")
	case te.QueueSize < 0:
		return fmt.Errorf("task_engine.queue_size must be >= 0")
	case te.HistorySize < 0:
		return fmt.Errorf("task_engine.history_size must be >= 0")
	case te.RetryMax < 0:
		return fmt.Errorf("task_engine.retry_max must be >= 0")
	}

	if cfg.Drawing.MaxWinners < 1 {
		return fmt.Errorf("drawing.max_winners must be >= 1")
	}
	if cfg.Notifier.RatePerSec < 0 {
		return fmt.Errorf("notifier.rate_per_sec must be >= 0")
	}
	if th := cfg.Moderation.Threshold; th <= 0 || th > 1 {
		return fmt.Errorf("moderation.threshold must be in (0, 1]")
	}
	if cfg.Logging.Telegram.Enabled && strings.TrimSpace(cfg.Telegram.GroupLog) != "" {
		if _, err := ParseChatID("telegram.group_log", cfg.Telegram.GroupLog); err != nil {
			return err
		}
	}
	return nil
}
