package config

import (
	"reflect"
	"sort"
	"strings"

	logx "drawbot/pkg/logx"
)

// SummarizeConfigChange lists the changed top-level sections and returns
// log fields describing the new values. Secrets are reported only as *_set flags.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	o, n := oldCfg.Telegram, newCfg.Telegram
	if strings.TrimSpace(o.PollTimeout) != strings.TrimSpace(n.PollTimeout) ||
		!reflect.DeepEqual(o.OwnerUserIDs, n.OwnerUserIDs) ||
		strings.TrimSpace(o.GroupLog) != strings.TrimSpace(n.GroupLog) ||
		o.Token != n.Token {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(n.PollTimeout)),
			logx.Int("telegram.owner_count", len(n.OwnerUserIDs)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(n.GroupLog) != ""),
			logx.Bool("telegram.token_changed", o.Token != n.Token),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		l := newCfg.Logging
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", l.Level),
			logx.Bool("logging.console", l.Console),
			logx.Bool("logging.file_enabled", l.File.Enabled),
			logx.Bool("logging.telegram_enabled", l.Telegram.Enabled),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		s := newCfg.Storage
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", s.Driver),
			logx.Bool("storage.path_set", strings.TrimSpace(s.Path) != ""),
			logx.String("storage.busy_timeout", s.BusyTimeout),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		s := newCfg.Scheduler
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", s.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(s.Timezone)),
			logx.String("scheduler.sweep_schedule", s.SweepSchedule),
			logx.String("scheduler.prune_schedule", s.PruneSchedule),
		)
	}

	if oldCfg.TaskEngine != newCfg.TaskEngine {
		te := newCfg.TaskEngine
		changed = append(changed, "task_engine")
		attrs = append(attrs,
			logx.Int("task_engine.workers", te.Workers),
			logx.Int("task_engine.queue_size", te.QueueSize),
			logx.String("task_engine.default_timeout", te.DefaultTimeout),
			logx.Int("task_engine.retry_max", te.RetryMax),
		)
	}

	if !reflect.DeepEqual(oldCfg.Drawing, newCfg.Drawing) {
		d := newCfg.Drawing
		changed = append(changed, "drawing")
		attrs = append(attrs,
			logx.String("drawing.external_timeout", d.ExternalTimeout),
			logx.Strings("drawing.external_backoff", d.ExternalBackoff),
			logx.String("drawing.max_duration", d.MaxDuration),
			logx.Int("drawing.max_winners", d.MaxWinners),
		)
	}

	if oldCfg.Notifier != newCfg.Notifier {
		nc := newCfg.Notifier
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Int("notifier.rate_per_sec", nc.RatePerSec),
			logx.String("notifier.parse_mode", nc.ParseMode),
		)
	}

	if !reflect.DeepEqual(oldCfg.Moderation, newCfg.Moderation) {
		m := newCfg.Moderation
		changed = append(changed, "moderation")
		attrs = append(attrs,
			logx.Bool("moderation.enabled", m.Enabled),
			logx.Float64("moderation.threshold", m.Threshold),
		)
	}

	op, np := oldCfg.Pprof, newCfg.Pprof
	tokenSetOld, tokenSetNew := strings.TrimSpace(op.Token) != "", strings.TrimSpace(np.Token) != ""
	op.Token, np.Token = "", ""
	if op != np || tokenSetOld != tokenSetNew {
		changed = append(changed, "pprof")
		attrs = append(attrs,
			logx.Bool("pprof.enabled", np.Enabled),
			logx.String("pprof.addr", strings.TrimSpace(np.Addr)),
			logx.Bool("pprof.metrics", np.Metrics),
			logx.Bool("pprof.token_set", tokenSetNew),
			logx.Bool("pprof.allow_insecure", np.AllowInsecure),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired reports sections that cannot be applied live.
func RestartRequired(sections []string) []string {
	var out []string
	for _, s := range sections {
		switch s {
		case "storage", "task_engine":
			out = append(out, s)
		}
	}
	return out
}
