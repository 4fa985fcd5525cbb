package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"drawbot/internal/config"
	"drawbot/internal/storage"
	logx "drawbot/pkg/logx"
)

const (
	jobSweepTemp = "store.sweep_tmp"
	jobPrune     = "drawings.prune"
)

type housekeepingSpec struct {
	sweep, prune string
}

func housekeepingFrom(cfg *config.Config) housekeepingSpec {
	return housekeepingSpec{
		sweep: strings.TrimSpace(cfg.Scheduler.SweepSchedule),
		prune: strings.TrimSpace(cfg.Scheduler.PruneSchedule),
	}
}

// registerHousekeeping (re)registers the cron jobs when their specs changed.
func (a *App) registerHousekeeping(cfg *config.Config) error {
	spec := housekeepingFrom(cfg)
	if a.hk != nil && *a.hk == spec {
		return nil
	}
	a.sched.Remove(jobSweepTemp)
	a.sched.Remove(jobPrune)

	if _, err := a.sched.AddSchedule(jobSweepTemp, spec.sweep, time.Minute, a.sweepTemp); err != nil {
		return fmt.Errorf("scheduler.sweep_schedule: %w", err)
	}
	if _, err := a.sched.AddSchedule(jobPrune, spec.prune, 5*time.Minute, a.prune); err != nil {
		return fmt.Errorf("scheduler.prune_schedule: %w", err)
	}
	a.hk = &spec
	return nil
}

func (a *App) sweepTemp(ctx context.Context) error {
	n, err := storage.SweepTemp(ctx, a.store)
	if err != nil {
		return err
	}
	if n > 0 {
		a.log.Info("stale temp files removed", logx.Int("count", n))
	}
	return nil
}

// prune drops completed drawings older than drawing.retention. A zero
// retention keeps everything.
func (a *App) prune(ctx context.Context) error {
	retention, err := mapRetention(a.cfgm.Get())
	if err != nil || retention <= 0 {
		return err
	}
	n, err := a.drawings.Prune(ctx, retention)
	e := storage.AuditEntry{
		At:     time.Now().UTC(),
		Action: "drawing.prune",
		OK:     err == nil,
		Detail: fmt.Sprintf("retention=%s removed=%d", retention, n),
	}
	if err != nil {
		e.Error = err.Error()
	}
	if aerr := storage.AppendAudit(ctx, a.store, e, auditKeep); aerr != nil {
		a.log.Warn("audit append failed", logx.String("action", e.Action), logx.Err(aerr))
	}
	if err != nil {
		return err
	}
	if n > 0 {
		a.log.Info("completed drawings pruned", logx.Int("count", n), logx.Duration("retention", retention))
	}
	return nil
}
