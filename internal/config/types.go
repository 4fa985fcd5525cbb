package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Telegram   TelegramConfig   `json:"telegram"`
	Logging    LoggingConfig    `json:"logging"`
	Storage    StorageConfig    `json:"storage"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	TaskEngine TaskEngineConfig `json:"task_engine"`
	Drawing    DrawingConfig    `json:"drawing"`
	Notifier   NotifierConfig   `json:"notifier"`
	Moderation ModerationConfig `json:"moderation"`
	Pprof      PprofConfig      `json:"pprof,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// GroupLog is the chat id receiving relayed log records ("" disables).
	GroupLog    string `json:"group_log"`
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the record store backend.
//
// Example:
//
//	"storage": { "driver": "file", "dir": "./data" }
//	"storage": { "driver": "sqlite", "path": "./data/drawbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Dir         string `json:"dir,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// SchedulerConfig controls housekeeping triggers. One-shot drawing timers are
// always armed; Enabled only gates the cron jobs.
type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"`
	// Schedules accept cron expressions, Go durations ("15m") or "HH:MM".
	SweepSchedule string `json:"sweep_schedule,omitempty"`
	PruneSchedule string `json:"prune_schedule,omitempty"`
}

// TaskEngineConfig controls the worker pool that runs fired jobs.
//
// Defaults: workers 2, queue_size 256, default_timeout "2m",
// history_size 200, retry_max 3.
type TaskEngineConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
	RetryMax       int    `json:"retry_max,omitempty"`
}

// DrawingConfig tunes the drawing engine.
type DrawingConfig struct {
	// ExternalTimeout bounds each notifier or participant source call.
	ExternalTimeout string `json:"external_timeout,omitempty"`
	// ExternalBackoff lists the waits between retries of an external call.
	ExternalBackoff []string `json:"external_backoff,omitempty"`
	MaxDuration     string   `json:"max_duration,omitempty"`
	MaxWinners      int      `json:"max_winners,omitempty"`
	// Retention is how long completed drawings are kept before pruning ("0s" keeps forever).
	Retention string `json:"retention,omitempty"`
	// Seed fixes the winner picker's random source. 0 seeds from the clock.
	Seed int64 `json:"seed,omitempty"`
}

type NotifierConfig struct {
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	HistorySize int    `json:"history_size,omitempty"`
	ParseMode   string `json:"parse_mode,omitempty"`
}

// ModerationConfig controls automatic moderation of group messages.
type ModerationConfig struct {
	Enabled      bool    `json:"enabled"`
	Threshold    float64 `json:"threshold,omitempty"`
	ExemptOwners *bool   `json:"exempt_owners,omitempty"`
	WarnTTL      string  `json:"warn_ttl,omitempty"`
}

// PprofConfig controls the diagnostics HTTP server (pprof, /healthz, /metrics).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Prefix        string `json:"prefix,omitempty"`
	Token         string `json:"token,omitempty"` // never logged
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Metrics       bool   `json:"metrics,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
	MemProfileRate       int `json:"mem_profile_rate,omitempty"`
}
