package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"drawbot/internal/eventbus"
	rtsup "drawbot/internal/runtime/supervisor"
	logx "drawbot/pkg/logx"
)

type Service struct {
	mu        sync.Mutex
	cfg       Config
	log       logx.Logger
	bus       eventbus.Bus
	q         chan queuedTask
	sup       *rtsup.Supervisor
	stopCh    chan struct{}
	accepting bool

	// work counts tasks accepted but not yet finished. Adds happen under mu
	// while accepting, so Stop can wait on it after closing the gate.
	work sync.WaitGroup

	hmu     sync.Mutex
	history []HistoryItem

	idSeq     atomic.Uint64
	inFlight  atomic.Int64
	completed atomic.Uint64
	failed    atomic.Uint64
	panics    atomic.Uint64
}

type queuedTask struct {
	task       Task
	enqueuedAt time.Time
	timeout    time.Duration
	opt        TaskOptions
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	return &Service{cfg: cfg.withDefaults(), log: log, bus: bus}
}

// Supervisor returns the worker supervisor, or nil when stopped.
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepting
}

// Start launches the workers. It is a no-op when already running. The
// workers outlive ctx cancellation; only Stop ends them, after the drain.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	cfg := s.cfg
	s.q = make(chan queuedTask, cfg.QueueSize)
	s.stopCh = make(chan struct{})
	s.accepting = true
	s.sup = rtsup.New(context.WithoutCancel(ctx),
		rtsup.WithLogger(s.log.With(logx.String("comp", "taskengine.sup"))),
		rtsup.WithCancelOnError(false),
	)

	queue, stopCh := s.q, s.stopCh
	for i := 0; i < cfg.Workers; i++ {
		idx := i
		s.sup.GoRestart(fmt.Sprintf("worker.%d", idx), func(c context.Context) error {
			s.worker(c, stopCh, queue, idx)
			select {
			case <-stopCh:
				return context.Canceled
			default:
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("worker exited unexpectedly")
		}, rtsup.WithPublishFirstError(true))
	}
	s.log.Info("task engine started", logx.Int("workers", cfg.Workers), logx.Int("queue", cfg.QueueSize))
}

// Stop stops accepting tasks, lets queued and running tasks finish, then
// stops the workers. When ctx expires first, running tasks see their
// context canceled.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	stopCh, sup, queue := s.stopCh, s.sup, s.q
	s.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		s.work.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		s.log.Debug("task engine drained")
	case <-ctx.Done():
		s.log.Warn("task engine drain timed out; canceling in-flight tasks", logx.Int64("in_flight", s.inFlight.Load()))
	}

	close(stopCh)
	sup.Cancel()
	if err := sup.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("task engine stop incomplete", logx.Err(err))
	}
	for abandoned := 0; ; abandoned++ {
		select {
		case qt := <-queue:
			if qt.task.Done != nil {
				qt.task.Done(ErrStopped)
			}
			s.work.Done()
			continue
		default:
		}
		if abandoned > 0 {
			s.log.Warn("queued tasks abandoned at stop", logx.Int("count", abandoned))
		}
		break
	}

	s.mu.Lock()
	s.q, s.stopCh, s.sup = nil, nil, nil
	s.mu.Unlock()
	s.log.Info("task engine stopped")
}

// Enqueue adds t without blocking and fails with ErrQueueFull when full.
func (s *Service) Enqueue(t Task) error { return s.enqueue(context.Background(), t, false) }

// Submit blocks until t is queued, ctx is done, or the engine stops.
func (s *Service) Submit(ctx context.Context, t Task) error { return s.enqueue(ctx, t, true) }

func (s *Service) enqueue(ctx context.Context, t Task, block bool) error {
	if t.Run == nil {
		return fmt.Errorf("task Run is nil")
	}
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return fmt.Errorf("task Name is required")
	}
	now := time.Now()
	if strings.TrimSpace(t.ID) == "" {
		t.ID = s.newTaskID(now)
	}

	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	if !s.accepting {
		s.mu.Unlock()
		return ErrStopping
	}
	cfg, q, stopCh := s.cfg, s.q, s.stopCh
	s.work.Add(1)
	s.mu.Unlock()

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = cfg.DefaultTimeout
	}
	qt := queuedTask{task: t, enqueuedAt: now, timeout: timeout, opt: t.Opt.withDefaults(cfg)}

	if !block {
		select {
		case q <- qt:
			return nil
		default:
			s.work.Done()
			s.log.Warn("task dropped: queue full", logx.String("task", t.Name), logx.Int("queue_cap", cap(q)))
			return ErrQueueFull
		}
	}
	select {
	case q <- qt:
		return nil
	case <-ctx.Done():
		s.work.Done()
		return ctx.Err()
	case <-stopCh:
		s.work.Done()
		return ErrStopping
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg, q, running := s.cfg, s.q, s.accepting
	s.mu.Unlock()

	s.hmu.Lock()
	h := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()

	snap := Snapshot{
		Running:        running,
		Workers:        cfg.Workers,
		InFlight:       s.inFlight.Load(),
		Completed:      s.completed.Load(),
		Failed:         s.failed.Load(),
		Panics:         s.panics.Load(),
		DefaultTimeout: cfg.DefaultTimeout,
		RetryMax:       cfg.RetryMax,
		History:        h,
	}
	if q != nil {
		snap.QueueLen, snap.QueueCap = len(q), cap(q)
	}
	return snap
}

func (s *Service) record(item HistoryItem) {
	s.mu.Lock()
	limit := s.cfg.HistorySize
	s.mu.Unlock()

	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > limit {
		s.history = s.history[len(s.history)-limit:]
	}
	s.hmu.Unlock()
}

func (s *Service) publish(typ string, ev TaskEvent) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: ev})
	}
}

func (s *Service) newTaskID(now time.Time) string {
	return fmt.Sprintf("tsk-%x-%x", now.UnixNano(), s.idSeq.Add(1))
}
