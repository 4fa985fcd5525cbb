package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"drawbot/internal/app"

	"github.com/coreos/go-systemd/v22/daemon"
)

type RunCmd struct {
	StopTimeout time.Duration `name:"stop-timeout" help:"Upper bound for graceful shutdown." default:"15s"`
}

func (r *RunCmd) Run(cli *CLI) error {
	a, err := app.New(cli.Config)
	if err != nil {
		return err
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		_ = r.stop(a, app.StopFatalError)
		return err
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	go watchdog(ctx)

	var reason app.StopReason
	select {
	case s := <-sigs:
		reason = app.StopSIGTERM
		if s == os.Interrupt {
			reason = app.StopSIGINT
		}
	case <-a.Done():
		reason = app.StopFatalError
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err := r.stop(a, reason); err != nil {
		return err
	}
	if reason == app.StopFatalError {
		return a.Err()
	}
	return nil
}

func (r *RunCmd) stop(a *app.App, reason app.StopReason) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.StopTimeout)
	defer cancel()
	return a.Stop(ctx, reason)
}

// watchdog pings systemd at half of WatchdogSec when the unit sets it.
func watchdog(ctx context.Context) {
	every, err := daemon.SdWatchdogEnabled(false)
	if err != nil || every <= 0 {
		return
	}
	t := time.NewTicker(every / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}
