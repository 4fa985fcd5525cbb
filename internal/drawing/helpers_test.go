package drawing

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"drawbot/internal/eventbus"
	"drawbot/internal/storage"
	"drawbot/internal/task/scheduler"
	logx "drawbot/pkg/logx"

	"github.com/stretchr/testify/require"
)

type fakeNotifier struct {
	mu          sync.Mutex
	nextMsg     int
	announceErr []error // consumed one per call
	updateErr   error
	opened      []Drawing
	updates     []Announcement
}

func (n *fakeNotifier) Announce(_ context.Context, owner Owner, a Announcement) (AnnouncementRef, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.announceErr) > 0 {
		err := n.announceErr[0]
		n.announceErr = n.announceErr[1:]
		if err != nil {
			return AnnouncementRef{}, err
		}
	}
	n.nextMsg++
	n.opened = append(n.opened, a.Drawing)
	return AnnouncementRef{ChatID: owner.ChatID, ThreadID: owner.ThreadID, MessageID: 100 + n.nextMsg}, nil
}

func (n *fakeNotifier) Update(_ context.Context, _ AnnouncementRef, a Announcement) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updates = append(n.updates, a)
	return n.updateErr
}

func (n *fakeNotifier) kinds() []AnnouncementKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]AnnouncementKind, 0, len(n.updates))
	for _, u := range n.updates {
		out = append(out, u.Kind)
	}
	return out
}

// fakeSource wraps an EntryBook and can inject failures or extra ids.
type fakeSource struct {
	*EntryBook
	mu    sync.Mutex
	errs  []error
	calls int
	block chan struct{}
}

func (s *fakeSource) Fetch(ctx context.Context, ref AnnouncementRef) ([]string, error) {
	s.mu.Lock()
	s.calls++
	var err error
	if len(s.errs) > 0 {
		err, s.errs = s.errs[0], s.errs[1:]
	}
	block := s.block
	s.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return s.EntryBook.Fetch(ctx, ref)
}

type fakeScheduler struct {
	mu       sync.Mutex
	armed    map[string]time.Time
	handlers map[string]scheduler.Handler
	err      error
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{armed: map[string]time.Time{}, handlers: map[string]scheduler.Handler{}}
}

func (s *fakeScheduler) Schedule(id string, at time.Time, run scheduler.Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.armed[id] = at
	s.handlers[id] = run
	return nil
}

func (s *fakeScheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.armed[id]
	delete(s.armed, id)
	return ok
}

func (s *fakeScheduler) isArmed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.armed[id]
	return ok
}

// fire runs the armed handler as the scheduler would.
func (s *fakeScheduler) fire(ctx context.Context, id string) error {
	s.mu.Lock()
	h := s.handlers[id]
	delete(s.armed, id)
	s.mu.Unlock()
	if h == nil {
		return errors.New("not armed")
	}
	return h(ctx)
}

// faultyStore fails drawing transactions while a fault is set.
type faultyStore struct {
	storage.Store
	mu    sync.Mutex
	fault error
}

func (s *faultyStore) failWith(err error) {
	s.mu.Lock()
	s.fault = err
	s.mu.Unlock()
}

func (s *faultyStore) Transact(ctx context.Context, name string, fn storage.TxFunc) (storage.Content, error) {
	s.mu.Lock()
	err := s.fault
	s.mu.Unlock()
	if err != nil && name == CollectionDrawings {
		return storage.Content{}, err
	}
	return s.Store.Transact(ctx, name, fn)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	eng   *Engine
	st    storage.Store
	store *faultyStore
	notif *fakeNotifier
	src   *fakeSource
	sched *fakeScheduler
	clock *clock
	bus   eventbus.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := storage.Open(storage.Config{Dir: t.TempDir()}, Schema(), logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	f := &fixture{
		st:    st,
		store: &faultyStore{Store: st},
		notif: &fakeNotifier{},
		src:   &fakeSource{EntryBook: NewEntryBook(st)},
		sched: newFakeScheduler(),
		clock: &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		bus:   eventbus.New(),
	}
	f.eng = New(Config{ExternalTimeout: time.Second, ExternalBackoff: []time.Duration{time.Millisecond, 2 * time.Millisecond}}, Deps{
		Store:     f.store,
		Notifier:  f.notif,
		Source:    f.src,
		Entries:   f.src.EntryBook,
		Scheduler: f.sched,
		Picker:    NewPicker(42),
		Bus:       f.bus,
		Now:       f.clock.Now,
	})
	return f
}

func (f *fixture) start(t *testing.T, winners int) Drawing {
	t.Helper()
	d, err := f.eng.Start(context.Background(), StartRequest{
		Owner:    Owner{ChatID: -100, UserID: 7},
		Prize:    "X",
		Winners:  winners,
		Duration: time.Second,
	})
	require.NoError(t, err)
	return d
}

// seed writes d straight to the store, bypassing Start.
func (f *fixture) seed(t *testing.T, d Drawing) {
	t.Helper()
	_, err := f.st.Transact(context.Background(), CollectionDrawings, func(c storage.Content) (storage.Content, error) {
		return c, storage.SetRecord(&c, d.ID, d)
	})
	require.NoError(t, err)
}

func (f *fixture) enter(t *testing.T, id string, users ...int) {
	t.Helper()
	for _, u := range users {
		_, err := f.eng.Enter(context.Background(), id, strconv.Itoa(u))
		require.NoError(t, err)
	}
}
