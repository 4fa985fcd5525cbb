package drawing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"drawbot/internal/storage"
	"drawbot/internal/task/engine"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartValidates(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	cases := []StartRequest{
		{Prize: "X", Winners: 0, Duration: time.Minute},
		{Prize: "X", Winners: 1, Duration: 0},
		{Prize: "X", Winners: 1, Duration: -time.Second},
		{Prize: "  ", Winners: 1, Duration: time.Minute},
		{Prize: "X", Winners: 51, Duration: time.Minute},
		{Prize: "X", Winners: 1, Duration: 31 * 24 * time.Hour},
	}
	for _, req := range cases {
		_, err := f.eng.Start(context.Background(), req)
		require.ErrorIs(t, err, ErrInvalidArgument, "%+v", req)
	}
	all, err := f.eng.List(context.Background(), Scope{})
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestStartPersistsAnnouncesAndArms(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	events, unsub := f.bus.Subscribe(4, EventStarted)
	defer unsub()

	d := f.start(t, 2)
	require.NotEmpty(t, d.ID)
	require.False(t, d.Announcement.IsZero())
	require.Equal(t, f.clock.Now().Add(time.Second), d.DueAt)
	require.True(t, f.sched.isArmed(d.ID))

	got, err := f.eng.Get(context.Background(), d.ID)
	require.NoError(t, err)
	require.Equal(t, d.Announcement, got.Announcement)
	require.False(t, got.Completed)
	require.Empty(t, got.Winners)

	select {
	case e := <-events:
		require.Equal(t, d.ID, e.Data.(Event).ID)
	case <-time.After(time.Second):
		t.Fatal("no drawing.started event")
	}
}

func TestStartRollsBackWhenAnnouncementFails(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	down := errors.New("telegram down")
	f.notif.announceErr = []error{down, down, down}

	_, err := f.eng.Start(context.Background(), StartRequest{Owner: Owner{ChatID: 1}, Prize: "X", Winners: 1, Duration: time.Minute})
	require.ErrorIs(t, err, ErrExternalUnavailable)
	require.ErrorIs(t, err, down)
	require.True(t, IsRetryable(err))

	all, err := f.eng.List(context.Background(), Scope{})
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestStartRetriesAnnouncement(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.notif.announceErr = []error{errors.New("flaky"), nil}

	d := f.start(t, 1)
	require.False(t, d.Announcement.IsZero())
}

func TestCompleteFiveCandidatesTwoWinners(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	d := f.start(t, 2)
	f.enter(t, d.ID, 1, 2, 3, 4, 5)

	f.clock.Advance(time.Second)
	require.NoError(t, f.sched.fire(context.Background(), d.ID))

	got, err := f.eng.Get(context.Background(), d.ID)
	require.NoError(t, err)
	require.True(t, got.Completed)
	require.Len(t, got.Winners, 2)
	require.NotEqual(t, got.Winners[0], got.Winners[1])
	for _, w := range got.Winners {
		require.Contains(t, []string{"1", "2", "3", "4", "5"}, w)
	}
	require.Equal(t, 5, got.Entrants)
	require.True(t, d.DueAt.Equal(got.DueAt))
	require.Equal(t, []AnnouncementKind{AnnounceClosed}, f.notif.kinds())
}

func TestCompleteWithoutCandidates(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	d := f.start(t, 3)

	got, err := f.eng.Complete(context.Background(), d.ID)
	require.NoError(t, err)
	require.True(t, got.Completed)
	require.NotNil(t, got.Winners)
	require.Empty(t, got.Winners)
	require.False(t, f.sched.isArmed(d.ID), "manual completion disarms the job")
}

func TestCompleteCapsWinnersToCandidates(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	d := f.start(t, 10)
	f.enter(t, d.ID, 1, 2, 3)

	got, err := f.eng.Complete(context.Background(), d.ID)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"1", "2", "3"}, got.Winners)
}

func TestCompleteTwice(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	d := f.start(t, 1)
	f.enter(t, d.ID, 1, 2)

	first, err := f.eng.Complete(context.Background(), d.ID)
	require.NoError(t, err)

	_, err = f.eng.Complete(context.Background(), d.ID)
	require.ErrorIs(t, err, ErrAlreadyCompleted)
	require.Equal(t, KindAlreadyCompleted, KindOf(err))

	after, err := f.eng.Get(context.Background(), d.ID)
	require.NoError(t, err)
	require.Equal(t, first.Winners, after.Winners)
	require.True(t, first.CompletedAt.Equal(after.CompletedAt))
}

func TestConcurrentCompleteOnlyOneWins(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	d := f.start(t, 1)
	f.enter(t, d.ID, 1, 2, 3)

	// Both callers pass the fast check, then race on the commit.
	f.src.block = make(chan struct{})
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.eng.Complete(context.Background(), d.ID)
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}()
	}
	require.Eventually(t, func() bool {
		f.src.mu.Lock()
		defer f.src.mu.Unlock()
		return f.src.calls == 2
	}, time.Second, 5*time.Millisecond)
	close(f.src.block)
	wg.Wait()

	var ok, already int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrAlreadyCompleted):
			already++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, 1, already)
}

func TestCompleteUnknown(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.eng.Complete(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
	require.False(t, IsRetryable(err))
}

func TestCompleteSourceUnavailable(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	d := f.start(t, 1)
	down := errors.New("source down")
	f.src.errs = []error{down, down, down}

	_, err := f.eng.Complete(context.Background(), d.ID)
	require.ErrorIs(t, err, ErrExternalUnavailable)
	require.Equal(t, 3, f.src.calls, "one call plus two retries")

	got, err := f.eng.Get(context.Background(), d.ID)
	require.NoError(t, err)
	require.False(t, got.Completed)
	require.True(t, f.sched.isArmed(d.ID), "manual completion failure re-arms the job")
}

func TestCompleteSourceTimeout(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.eng.Apply(Config{ExternalTimeout: 10 * time.Millisecond, ExternalBackoff: []time.Duration{}})
	d := f.start(t, 1)
	f.src.block = make(chan struct{})
	defer close(f.src.block)

	_, err := f.eng.Complete(context.Background(), d.ID)
	require.ErrorIs(t, err, ErrTimeout)
	require.True(t, IsRetryable(err))
}

func TestResultAnnouncementFailureIsNotReturned(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	d := f.start(t, 1)
	f.notif.updateErr = errors.New("edit failed")

	got, err := f.eng.Complete(context.Background(), d.ID)
	require.NoError(t, err)
	require.True(t, got.Completed)
}

func TestRerollReplacesWinners(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	d := f.start(t, 1)
	f.enter(t, d.ID, 1)

	done, err := f.eng.Complete(context.Background(), d.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"1"}, done.Winners)

	// Entries are closed for users, but the book can still gain ids.
	_, err = f.src.EntryBook.Remove(context.Background(), d.Announcement, "1")
	require.NoError(t, err)
	_, err = f.src.EntryBook.Add(context.Background(), d.Announcement, "2")
	require.NoError(t, err)

	rr, err := f.eng.Reroll(context.Background(), d.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"2"}, rr.Winners)
	require.True(t, rr.Completed)
	require.True(t, done.DueAt.Equal(rr.DueAt))
	require.Equal(t, 1, rr.RerollCount)
	require.False(t, f.sched.isArmed(d.ID))
	require.Equal(t, []AnnouncementKind{AnnounceClosed, AnnounceRerolled}, f.notif.kinds())
}

func TestRerollErrors(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.eng.Reroll(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)

	d := f.start(t, 1)
	_, err = f.eng.Reroll(context.Background(), d.ID)
	require.ErrorIs(t, err, ErrNotCompleted)

	_, err = f.eng.Complete(context.Background(), d.ID)
	require.NoError(t, err)
	_, err = f.eng.Reroll(context.Background(), d.ID)
	require.ErrorIs(t, err, ErrInvalidArgument, "nobody entered")
}

func TestEnterAndLeave(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	d := f.start(t, 1)
	ctx := context.Background()

	res, err := f.eng.Enter(ctx, d.ID, "5")
	require.NoError(t, err)
	require.Equal(t, EntryResult{Count: 1, Changed: true}, res)

	res, err = f.eng.Enter(ctx, d.ID, "5")
	require.NoError(t, err)
	require.Equal(t, EntryResult{Count: 1, Changed: false}, res)

	res, err = f.eng.Enter(ctx, d.ID, "3")
	require.NoError(t, err)
	require.Equal(t, 2, res.Count)

	ids, err := f.src.EntryBook.Fetch(ctx, d.Announcement)
	require.NoError(t, err)
	require.Equal(t, []string{"3", "5"}, ids)

	res, err = f.eng.Leave(ctx, d.ID, "5")
	require.NoError(t, err)
	require.Equal(t, EntryResult{Count: 1, Changed: true}, res)

	f.clock.Advance(time.Second)
	_, err = f.eng.Enter(ctx, d.ID, "9")
	require.ErrorIs(t, err, ErrAlreadyCompleted, "entries close at the due time")

	_, err = f.eng.Enter(ctx, "missing", "9")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListActiveScopesAndSorts(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	late, err := f.eng.Start(ctx, StartRequest{Owner: Owner{ChatID: 1}, Prize: "late", Winners: 1, Duration: time.Hour})
	require.NoError(t, err)
	soon, err := f.eng.Start(ctx, StartRequest{Owner: Owner{ChatID: 1}, Prize: "soon", Winners: 1, Duration: time.Minute})
	require.NoError(t, err)
	_, err = f.eng.Start(ctx, StartRequest{Owner: Owner{ChatID: 2}, Prize: "other", Winners: 1, Duration: time.Minute})
	require.NoError(t, err)
	_, err = f.eng.Complete(ctx, late.ID)
	require.NoError(t, err)

	active, err := f.eng.ListActive(ctx, Scope{ChatID: 1})
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, soon.ID, active[0].ID)

	all, err := f.eng.List(ctx, Scope{ChatID: 1})
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, soon.ID, all[0].ID)

	everywhere, err := f.eng.ListActive(ctx, Scope{})
	require.NoError(t, err)
	require.Len(t, everywhere, 2)
}

func TestPendingJobsRecoverOverdueDrawing(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	d := f.start(t, 2)
	f.enter(t, d.ID, 1, 2, 3, 4, 5)

	// Simulate a restart: the timer table is gone and the drawing is overdue.
	f.sched = newFakeScheduler()
	f.clock.Advance(time.Hour)

	jobs, err := f.eng.PendingJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, d.ID, jobs[0].ID)
	require.True(t, d.DueAt.Equal(jobs[0].FireAt))

	require.NoError(t, jobs[0].Run(ctx))
	got, err := f.eng.Get(ctx, d.ID)
	require.NoError(t, err)
	require.True(t, got.Completed)
	require.Len(t, got.Winners, 2)

	// A duplicate firing is a successful no-op.
	require.NoError(t, jobs[0].Run(ctx))
	jobs, err = f.eng.PendingJobs(ctx)
	require.NoError(t, err)
	require.Empty(t, jobs)
}

func TestCompletionJobErrorClasses(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.eng.completionJob("deleted")(ctx))

	d := f.start(t, 1)
	down := errors.New("down")
	f.src.errs = []error{down, down, down}
	err := f.eng.completionJob(d.ID)(ctx)
	require.Error(t, err)
	require.False(t, engine.IsNoRetry(err))
	require.ErrorIs(t, err, ErrExternalUnavailable)
}

func TestPrune(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	old := f.start(t, 1)
	f.enter(t, old.ID, 1)
	_, err := f.eng.Complete(ctx, old.ID)
	require.NoError(t, err)

	f.clock.Advance(48 * time.Hour)
	fresh := f.start(t, 1)
	_, err = f.eng.Complete(ctx, fresh.ID)
	require.NoError(t, err)
	open := f.start(t, 1)

	n, err := f.eng.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = f.eng.Get(ctx, old.ID)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = f.eng.Get(ctx, fresh.ID)
	require.NoError(t, err)
	_, err = f.eng.Get(ctx, open.ID)
	require.NoError(t, err)

	c, err := f.st.Get(ctx, CollectionEntries)
	require.NoError(t, err)
	_, ok, err := storage.GetRecord[[]string](c, old.Announcement.Key())
	require.NoError(t, err)
	assert.False(t, ok)

	n, err = f.eng.Prune(ctx, 0)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestCompleteStorageFailureKeepsJobArmed(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	d := f.start(t, 1)
	f.enter(t, d.ID, 1)
	require.True(t, f.sched.isArmed(d.ID))

	f.store.failWith(errors.New("disk full"))
	_, err := f.eng.Complete(ctx, d.ID)
	require.ErrorIs(t, err, ErrStorageIO)
	require.True(t, IsRetryable(err))
	f.store.failWith(nil)

	got, err := f.eng.Get(ctx, d.ID)
	require.NoError(t, err)
	require.False(t, got.Completed)
	require.True(t, f.sched.isArmed(d.ID), "open drawing keeps its completion job")

	require.NoError(t, f.sched.fire(ctx, d.ID))
	got, err = f.eng.Get(ctx, d.ID)
	require.NoError(t, err)
	require.True(t, got.Completed)
	require.Equal(t, []string{"1"}, got.Winners)
}

func TestCompleteAlreadyCompletedDoesNotRearm(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	d := f.start(t, 1)
	_, err := f.eng.Complete(ctx, d.ID)
	require.NoError(t, err)
	require.False(t, f.sched.isArmed(d.ID))

	_, err = f.eng.Complete(ctx, d.ID)
	require.ErrorIs(t, err, ErrAlreadyCompleted)
	require.False(t, f.sched.isArmed(d.ID))
}

func TestDrawingWithoutAnnouncementHasNoEntrants(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	now := f.clock.Now()

	// Entries left under the zero announcement key must never be drawn from.
	_, err := f.st.Transact(ctx, CollectionEntries, func(c storage.Content) (storage.Content, error) {
		return c, storage.SetRecord(&c, AnnouncementRef{}.Key(), []string{"1", "2"})
	})
	require.NoError(t, err)
	f.seed(t, Drawing{ID: "bare", Owner: Owner{ChatID: -100}, Prize: "X", WinnersRequested: 1, CreatedAt: now, DueAt: now.Add(time.Hour), Winners: []string{}})

	_, err = f.eng.Enter(ctx, "bare", "3")
	require.ErrorIs(t, err, ErrInvalidArgument)

	got, err := f.eng.Complete(ctx, "bare")
	require.NoError(t, err)
	require.True(t, got.Completed)
	require.Empty(t, got.Winners)
	require.Zero(t, got.Entrants)

	_, err = f.eng.Reroll(ctx, "bare")
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestPruneCountsDrawingsWithoutAnnouncement(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	old := f.clock.Now().Add(-72 * time.Hour)

	f.seed(t, Drawing{ID: "bare", Prize: "X", WinnersRequested: 1, DueAt: old, Completed: true, CompletedAt: old, Winners: []string{}})
	d := f.start(t, 1)
	_, err := f.eng.Complete(ctx, d.ID)
	require.NoError(t, err)
	f.clock.Advance(48 * time.Hour)

	n, err := f.eng.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}
