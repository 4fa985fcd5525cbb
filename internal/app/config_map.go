package app

import (
	"fmt"
	"strings"
	"time"

	"drawbot/internal/bot"
	"drawbot/internal/config"
	"drawbot/internal/drawing"
	"drawbot/internal/moderation"
	"drawbot/internal/notifier"
	"drawbot/internal/observability/pprof"
	"drawbot/internal/storage"
	"drawbot/internal/task/engine"
	"drawbot/internal/task/scheduler"
	logx "drawbot/pkg/logx"
)

const (
	auditKeep      = 5000
	moderationKeep = 5000
	muteFor        = 10 * time.Minute
)

// schema merges the collections owned by every component.
func schema() storage.Schema {
	out := storage.Schema{storage.AuditCollection: storage.ShapeSequence}
	for _, s := range []storage.Schema{drawing.Schema(), moderation.Schema()} {
		for name, shape := range s {
			out[name] = shape
		}
	}
	return out
}

// OpenStore opens the configured store with every collection the app uses.
func OpenStore(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	return storage.Open(sc, schema(), log)
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	switch sc.Driver {
	case "file":
		return storage.Config{Driver: "file", Dir: strings.TrimSpace(sc.Dir)}, nil
	case "sqlite":
		return storage.Config{Driver: "sqlite", Path: strings.TrimSpace(sc.Path), BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver %q", sc.Driver)
	}
}

func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	te := cfg.TaskEngine
	timeout, err := config.ParseDurationField("task_engine.default_timeout", te.DefaultTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		Workers:        te.Workers,
		QueueSize:      te.QueueSize,
		DefaultTimeout: timeout,
		HistorySize:    te.HistorySize,
		RetryMax:       te.RetryMax,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		Enabled:  cfg.Scheduler.Enabled,
		Timezone: strings.TrimSpace(cfg.Scheduler.Timezone),
	}
}

func mapDrawingConfig(cfg *config.Config) (drawing.Config, error) {
	d := cfg.Drawing
	ext, err := config.ParseDurationField("drawing.external_timeout", d.ExternalTimeout)
	if err != nil {
		return drawing.Config{}, err
	}
	backoff, err := config.ParseDurationList("drawing.external_backoff", d.ExternalBackoff)
	if err != nil {
		return drawing.Config{}, err
	}
	maxDur, err := config.ParseDurationField("drawing.max_duration", d.MaxDuration)
	if err != nil {
		return drawing.Config{}, err
	}
	jobTimeout, err := config.ParseDurationField("task_engine.default_timeout", cfg.TaskEngine.DefaultTimeout)
	if err != nil {
		return drawing.Config{}, err
	}
	return drawing.Config{
		ExternalTimeout: ext,
		ExternalBackoff: backoff,
		MaxDuration:     maxDur,
		MaxWinners:      d.MaxWinners,
		JobTimeout:      jobTimeout,
	}, nil
}

func mapRetention(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationField("drawing.retention", cfg.Drawing.Retention)
}

// mapNotifierConfig enables the operator notifier only when a log chat is set.
func mapNotifierConfig(cfg *config.Config) (notifier.Config, notifier.AnnouncerConfig, int64, error) {
	chatID, err := config.ParseChatID("telegram.group_log", cfg.Telegram.GroupLog)
	if err != nil {
		return notifier.Config{}, notifier.AnnouncerConfig{}, 0, err
	}
	n := cfg.Notifier
	return notifier.Config{
			Enabled:     chatID != 0,
			RatePerSec:  n.RatePerSec,
			HistorySize: n.HistorySize,
		}, notifier.AnnouncerConfig{
			RatePerSec:  n.RatePerSec,
			HistorySize: n.HistorySize,
			Timezone:    strings.TrimSpace(cfg.Scheduler.Timezone),
		}, chatID, nil
}

func mapGuardConfig(cfg *config.Config) (moderation.GuardConfig, error) {
	m := cfg.Moderation
	ttl, err := config.ParseDurationField("moderation.warn_ttl", m.WarnTTL)
	if err != nil {
		return moderation.GuardConfig{}, err
	}
	return moderation.GuardConfig{
		Enabled:   m.Enabled,
		Threshold: m.Threshold,
		MuteFor:   muteFor,
		WarnTTL:   ttl,
		Keep:      moderationKeep,
	}, nil
}

func mapBotConfig(cfg *config.Config, dc drawing.Config) bot.Config {
	// start, end and reroll wait on up to one announce plus its retries
	var wait time.Duration
	for _, b := range dc.ExternalBackoff {
		wait += b
	}
	wait += dc.ExternalTimeout * time.Duration(len(dc.ExternalBackoff)+1)
	return bot.Config{
		Timezone:       strings.TrimSpace(cfg.Scheduler.Timezone),
		AuditKeep:      auditKeep,
		ExemptOwners:   cfg.Moderation.ExemptOwners == nil || *cfg.Moderation.ExemptOwners,
		CommandTimeout: wait + 10*time.Second,
	}
}

func mapPprofConfig(cfg *config.Config) (pprof.Config, error) {
	p := cfg.Pprof
	read, err := config.ParseDurationOrDefault("pprof.read_timeout", p.ReadTimeout, 5*time.Second)
	if err != nil {
		return pprof.Config{}, err
	}
	// profile and trace stream for up to 30s by default
	write, err := config.ParseDurationOrDefault("pprof.write_timeout", p.WriteTimeout, 40*time.Second)
	if err != nil {
		return pprof.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("pprof.idle_timeout", p.IdleTimeout, time.Minute)
	if err != nil {
		return pprof.Config{}, err
	}
	return pprof.Config{
		Enabled:              p.Enabled,
		Addr:                 p.Addr,
		Prefix:               p.Prefix,
		Token:                p.Token,
		AllowInsecure:        p.AllowInsecure,
		Metrics:              p.Metrics,
		ReadTimeout:          read,
		WriteTimeout:         write,
		IdleTimeout:          idle,
		MutexProfileFraction: p.MutexProfileFraction,
		BlockProfileRate:     p.BlockProfileRate,
		MemProfileRate:       p.MemProfileRate,
	}, nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	chatID, _ := config.ParseChatID("telegram.group_log", cfg.Telegram.GroupLog)
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Chat: logx.ChatConfig{
			Enabled:    l.Telegram.Enabled,
			ChatID:     chatID,
			ThreadID:   l.Telegram.ThreadID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

// validate rejects a reloaded config that any component would refuse.
func validate(cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapEngineConfig(cfg); err != nil {
		return err
	}
	if _, err := mapDrawingConfig(cfg); err != nil {
		return err
	}
	if _, err := mapRetention(cfg); err != nil {
		return err
	}
	if _, _, _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, err := mapGuardConfig(cfg); err != nil {
		return err
	}
	for _, s := range []struct{ path, raw string }{
		{"scheduler.sweep_schedule", cfg.Scheduler.SweepSchedule},
		{"scheduler.prune_schedule", cfg.Scheduler.PruneSchedule},
	} {
		if _, err := scheduler.ParseSchedule(s.raw); err != nil {
			return fmt.Errorf("%s: %w", s.path, err)
		}
	}
	_, err := mapPprofConfig(cfg)
	return err
}
