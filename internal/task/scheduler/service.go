package scheduler

import (
	"context"
	"strings"
	"time"

	"drawbot/internal/eventbus"
	"drawbot/internal/task/engine"
	logx "drawbot/pkg/logx"

	"github.com/robfig/cron/v3"
)

func New(cfg Config, eng *engine.Service, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg,
		log:    log,
		bus:    bus,
		engine: eng,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser:      cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		jobs:        map[string]*oneShot{},
		lastEnqWarn: map[string]time.Time{},
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the config. A timezone change or an enable toggle restarts
// cron with the registered schedules.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.cfg
	s.cfg = cfg
	if !s.startedLocked() {
		return
	}
	if strings.TrimSpace(old.Timezone) != strings.TrimSpace(cfg.Timezone) || old.Enabled != cfg.Enabled {
		s.restartLocked()
	}
}

func (s *Service) startedLocked() bool {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	return s.running
}

// Start opens the timer table and starts cron when enabled.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tmu.Lock()
	if s.running {
		s.tmu.Unlock()
		return
	}
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.running = true
	s.tmu.Unlock()

	s.loc = s.loadLocationLocked()
	if s.cfg.Enabled {
		s.startCronLocked()
	}
	s.log.Info("scheduler started",
		logx.String("tz", s.loc.String()),
		logx.Bool("housekeeping", s.cfg.Enabled),
		logx.Int("schedules", len(s.defs)),
	)
}

// Stop stops accepting jobs, stops cron and every armed timer, then waits
// for due handlers to finish, bounded by ctx. Pending jobs are dropped from
// memory; their owners re-arm them on the next start.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()

	s.tmu.Lock()
	if !s.running {
		s.tmu.Unlock()
		return
	}
	s.running = false
	armed := 0
	for id, j := range s.jobs {
		if j.state == StatePending {
			j.timer.Stop()
			delete(s.jobs, id)
			armed++
		}
	}
	runCancel := s.cancel
	s.tmu.Unlock()

	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}

	drained := make(chan struct{})
	go func() {
		s.due.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		s.log.Warn("scheduler drain timed out", logx.Int("due", s.dueCount()))
	}
	runCancel()

	s.log.Info("scheduler stopped", logx.Int("disarmed", armed), logx.Duration("took", time.Since(start)))
}

func (s *Service) dueCount() int {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	n := 0
	for _, j := range s.jobs {
		if j.state == StateDue {
			n++
		}
	}
	return n
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
