package config

import "strings"

// ApplyDefaults fills omitted fields in place.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}
	if strings.TrimSpace(cfg.Telegram.PollTimeout) == "" {
		cfg.Telegram.PollTimeout = "10s"
	}
	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = "info"
	}

	st := &cfg.Storage
	st.Driver = strings.ToLower(strings.TrimSpace(st.Driver))
	if st.Driver == "" {
		st.Driver = "file"
	}
	if st.Driver == "sqlite3" {
		st.Driver = "sqlite"
	}
	if strings.TrimSpace(st.Dir) == "" {
		st.Dir = "./data"
	}
	if st.Driver == "sqlite" && strings.TrimSpace(st.Path) == "" {
		st.Path = strings.TrimRight(st.Dir, "/") + "/drawbot.db"
	}
	if strings.TrimSpace(st.BusyTimeout) == "" {
		st.BusyTimeout = "5s"
	}

	if strings.TrimSpace(cfg.Scheduler.SweepSchedule) == "" {
		cfg.Scheduler.SweepSchedule = "1h"
	}
	if strings.TrimSpace(cfg.Scheduler.PruneSchedule) == "" {
		cfg.Scheduler.PruneSchedule = "30 3 * * *"
	}

	te := &cfg.TaskEngine
	if te.Workers == 0 {
		te.Workers = 2
	}
	if te.QueueSize == 0 {
		te.QueueSize = 256
	}
	if strings.TrimSpace(te.DefaultTimeout) == "" {
		te.DefaultTimeout = "2m"
	}
	if te.HistorySize == 0 {
		te.HistorySize = 200
	}
	if te.RetryMax == 0 {
		te.RetryMax = 3
	}

	d := &cfg.Drawing
	if strings.TrimSpace(d.ExternalTimeout) == "" {
		d.ExternalTimeout = "10s"
	}
	if d.ExternalBackoff == nil {
		d.ExternalBackoff = []string{"1s", "2s"}
	}
	if strings.TrimSpace(d.MaxDuration) == "" {
		d.MaxDuration = "720h"
	}
	if d.MaxWinners == 0 {
		d.MaxWinners = 50
	}
	if strings.TrimSpace(d.Retention) == "" {
		d.Retention = "720h"
	}

	if cfg.Notifier.RatePerSec == 0 {
		cfg.Notifier.RatePerSec = 3
	}
	if cfg.Notifier.HistorySize == 0 {
		cfg.Notifier.HistorySize = 100
	}
	if strings.TrimSpace(cfg.Notifier.ParseMode) == "" {
		cfg.Notifier.ParseMode = "HTML"
	}

	if cfg.Moderation.Threshold == 0 {
		cfg.Moderation.Threshold = 0.6
	}
	if cfg.Moderation.ExemptOwners == nil {
		t := true
		cfg.Moderation.ExemptOwners = &t
	}
	if strings.TrimSpace(cfg.Moderation.WarnTTL) == "" {
		cfg.Moderation.WarnTTL = "30s"
	}
}
