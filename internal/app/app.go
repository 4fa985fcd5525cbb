// Package app assembles drawbot: store, scheduler, drawing engine, chat
// transport and the operator surfaces, and drives their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"drawbot/internal/bot"
	"drawbot/internal/config"
	"drawbot/internal/drawing"
	"drawbot/internal/eventbus"
	"drawbot/internal/moderation"
	"drawbot/internal/notifier"
	"drawbot/internal/observability/metrics"
	"drawbot/internal/observability/pprof"
	rtsup "drawbot/internal/runtime/supervisor"
	"drawbot/internal/storage"
	"drawbot/internal/task/engine"
	"drawbot/internal/task/scheduler"
	kit "drawbot/internal/transport"
	telegram "drawbot/internal/transport/telegram/adapter"
	"drawbot/internal/transport/telegram/router"
	logx "drawbot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor
	regs *rtsup.Registry

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter kit.Adapter

	engine    *engine.Service
	sched     *scheduler.Service
	drawings  *drawing.Engine
	announcer *notifier.Announcer
	notif     *notifier.Service
	guard     *moderation.Guard
	router    *router.Router
	bot       *bot.Bot
	metrics   *metrics.Recorder
	diag      *pprof.Service

	updates   chan kit.Update
	startedAt time.Time
	ready     atomic.Bool
	hk        *housekeepingSpec

	relayMu     sync.Mutex
	relayCancel context.CancelFunc
	relayChat   int64
}

// Option customizes New. Tests use it to swap the chat transport.
type Option func(*options)

type options struct {
	adapter kit.Adapter
	env     func(string) (string, bool)
}

// WithAdapter replaces the Telegram adapter.
func WithAdapter(ad kit.Adapter) Option { return func(o *options) { o.adapter = ad } }

// WithEnvLookup replaces os.LookupEnv for DRAWBOT_* overrides.
func WithEnvLookup(fn func(string) (string, bool)) Option { return func(o *options) { o.env = fn } }

func New(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	if o.env != nil {
		cfgm.SetEnvLookup(o.env)
	}
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	// The chat log sink needs the adapter, and the adapter needs a logger.
	logSvc, log := logx.New(mapLogConfig(cfg), nil)
	ad := o.adapter
	if ad == nil {
		pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
		if err != nil {
			return nil, err
		}
		tg, err := telegram.New(telegram.Config{
			Token:       cfg.Telegram.Token,
			PollTimeout: pollTimeout,
		}, log.With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, err
		}
		ad = tg
	}
	logSvc.SetSender(ad)

	a := &App{
		cfgm:    cfgm,
		regs:    rtsup.NewRegistry(),
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		bus:     eventbus.New(),
		adapter: ad,
		updates: make(chan kit.Update, 256),
	}
	if err := a.build(cfg, log); err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config, log logx.Logger) error {
	st, err := OpenStore(cfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return err
	}
	a.store = st
	a.log.Info("storage opened", logx.String("driver", st.Stats().Driver))

	engCfg, err := mapEngineConfig(cfg)
	if err != nil {
		return err
	}
	a.engine = engine.New(engCfg, log.With(logx.String("comp", "taskengine")), a.bus)
	a.sched = scheduler.New(mapSchedulerConfig(cfg), a.engine, log.With(logx.String("comp", "scheduler")), a.bus)

	ncfg, acfg, _, err := mapNotifierConfig(cfg)
	if err != nil {
		return err
	}
	a.announcer = notifier.NewAnnouncer(acfg, a.adapter, log.With(logx.String("comp", "announcer")), a.bus)
	a.notif = notifier.New(ncfg, a.adapter, log.With(logx.String("comp", "notifier")), a.bus)

	dcfg, err := mapDrawingConfig(cfg)
	if err != nil {
		return err
	}
	book := drawing.NewEntryBook(st)
	a.drawings = drawing.New(dcfg, drawing.Deps{
		Store:     st,
		Notifier:  a.announcer,
		Source:    book,
		Entries:   book,
		Scheduler: a.sched,
		Picker:    drawing.NewPicker(cfg.Drawing.Seed),
		Bus:       a.bus,
		Log:       log.With(logx.String("comp", "drawing")),
	})

	gcfg, err := mapGuardConfig(cfg)
	if err != nil {
		return err
	}
	a.guard = moderation.NewGuard(gcfg, st, a.adapter, log.With(logx.String("comp", "moderation")))

	a.bot = bot.New(mapBotConfig(cfg, dcfg), bot.Deps{
		Drawings:  a.drawings,
		Moderator: a.guard,
		Store:     st,
		Health:    a.health,
		Log:       log.With(logx.String("comp", "bot")),
	})
	a.router = router.New(router.Config{}, a.adapter, cfg.Telegram.OwnerUserIDs, log.With(logx.String("comp", "router")))
	a.router.SetMessageHook(a.bot.MessageHook())
	a.router.SetRegistry(a.bot.Commands(), a.bot.Callbacks())

	a.metrics = metrics.New(metrics.Sources{
		Scheduler: a.sched.Snapshot,
		Store:     st.Stats,
		BusDrops:  a.bus.Dropped,
	})
	pcfg, err := mapPprofConfig(cfg)
	if err != nil {
		return err
	}
	a.diag = pprof.New(pcfg, log, pprof.WithMetrics(a.metrics.Handler()), pprof.WithReadiness(a.readiness))
	return nil
}

// Done is closed when the app context is canceled by a fatal error or Stop.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) readiness() error {
	if !a.ready.Load() {
		return errors.New("starting or stopping")
	}
	return nil
}

func (a *App) Start(ctx context.Context) error {
	a.startedAt = time.Now()
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.regs.Set("app", a.sup)
	runCtx := a.sup.Context()
	cfg := a.cfgm.Get()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, c *config.Config) error { return validate(c) })

	a.engine.Start(runCtx)
	a.regs.Set("task.engine", a.engine.Supervisor())
	a.sched.Start(runCtx)
	if err := a.registerHousekeeping(cfg); err != nil {
		return err
	}

	armed, err := a.sched.ReconcileOnStartup(runCtx, a.drawings)
	if err != nil {
		// Jobs that failed to arm are retried on the next start.
		a.log.Warn("reconcile incomplete", logx.Int("armed", armed), logx.Err(err))
	}

	if a.notif.Enabled() {
		a.notif.Start(runCtx)
		a.regs.Set("notifier", a.notif.Supervisor())
	}
	_, _, chatID, _ := mapNotifierConfig(cfg)
	a.setRelay(chatID)

	a.sup.Go0("metrics.events", func(c context.Context) { a.metrics.Run(c, a.bus) })
	if a.diag.Enabled() {
		pcfg, _ := mapPprofConfig(cfg)
		a.diag.Apply(runCtx, pcfg)
		a.regs.Set("diag", a.diag.Supervisor())
	}

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		return err
	}
	if sp, ok := a.adapter.(interface{ Supervisor() *rtsup.Supervisor }); ok {
		a.regs.Set("telegram.adapter", sp.Supervisor())
	}
	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.router.Run(c, a.updates)
	})

	a.sup.Go0("eventbus.log", a.logEvents)
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.reload(c, last, next)
				last = next
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.ready.Store(true)
	a.log.Info("app started", logx.Int("armed_drawings", armed), logx.Int("owners", len(cfg.Telegram.OwnerUserIDs)))
	return nil
}

func (a *App) logEvents(ctx context.Context) {
	events, unsubscribe := a.bus.Subscribe(128)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
		}
	}
}

// setRelay points drawing and task failure notifications at chatID, or
// stops relaying when it is 0.
func (a *App) setRelay(chatID int64) {
	a.relayMu.Lock()
	defer a.relayMu.Unlock()
	if chatID == a.relayChat && (chatID == 0 || a.relayCancel != nil) {
		return
	}
	if a.relayCancel != nil {
		a.relayCancel()
		a.relayCancel = nil
	}
	a.relayChat = chatID
	if chatID == 0 {
		return
	}
	ctx, cancel := context.WithCancel(a.sup.Context())
	a.relayCancel = cancel
	a.sup.Go0(fmt.Sprintf("notifier.relay.%d", chatID), func(context.Context) {
		notifier.Relay(ctx, a.bus, a.notif, kit.ChatTarget{ChatID: chatID})
	})
}

func (a *App) reload(ctx context.Context, prev, next *config.Config) {
	sections, fields := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if need := config.RestartRequired(sections); len(need) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.Strings("sections", need))
	}

	a.logs.Apply(mapLogConfig(next))
	a.router.SetOwners(next.Telegram.OwnerUserIDs)

	a.sched.Apply(mapSchedulerConfig(next))
	if err := a.registerHousekeeping(next); err != nil {
		a.log.Warn("housekeeping schedule rejected; keeping previous", logx.Err(err))
	}

	if dcfg, err := mapDrawingConfig(next); err != nil {
		a.log.Warn("invalid drawing config; keeping previous", logx.Err(err))
	} else {
		a.drawings.Apply(dcfg)
		a.bot.Apply(mapBotConfig(next, dcfg))
	}

	if ncfg, acfg, chatID, err := mapNotifierConfig(next); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		wasEnabled := a.notif.Enabled()
		a.notif.Apply(ncfg)
		a.announcer.Apply(acfg)
		switch {
		case wasEnabled && !ncfg.Enabled:
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
		case !wasEnabled && ncfg.Enabled:
			a.notif.Start(ctx)
			a.regs.Set("notifier", a.notif.Supervisor())
		}
		a.setRelay(chatID)
	}

	if gcfg, err := mapGuardConfig(next); err != nil {
		a.log.Warn("invalid moderation config; keeping previous", logx.Err(err))
	} else {
		a.guard.Apply(gcfg)
	}

	if pcfg, err := mapPprofConfig(next); err != nil {
		a.log.Warn("invalid pprof config; keeping previous", logx.Err(err))
	} else {
		a.diag.Apply(ctx, pcfg)
		a.regs.Set("diag", a.diag.Supervisor())
	}

	a.log.Info("config reloaded", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, fields...)...)
}

// health collects the /health snapshot.
func (a *App) health(ctx context.Context) bot.Health {
	h := bot.Health{
		StartedAt:   a.startedAt,
		Supervisors: a.regs.Snapshots(),
		Scheduler:   a.sched.Snapshot(),
		Store:       a.store.Stats(),
	}
	// the router creates its supervisor inside Run
	if rs := a.router.Supervisor(); rs != nil && h.Supervisors != nil {
		h.Supervisors["router"] = rs.Snapshot()
	}
	if open, err := a.drawings.ListActive(ctx, drawing.Scope{}); err == nil {
		h.OpenCount = len(open)
	}
	return h
}

// Stop shuts components down in dependency order. Each step is bounded
// and never extends ctx's deadline.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.ready.Store(false)
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			limit = min(limit, time.Until(dl))
		}
		if limit <= 0 {
			a.log.Warn("stop step skipped: deadline reached", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
			go func() {
				if err := <-done; err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
				}
			}()
		}
	}

	step("adapter", 2*time.Second, a.adapter.Stop)
	step("scheduler", 3*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("taskengine", 3*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("notifier", time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("diag", time.Second, func(c context.Context) error { a.diag.Stop(c); return nil })
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped", logx.String("reason", string(reason)))
	return a.logs.Close()
}
