package drawing

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"drawbot/internal/eventbus"
	"drawbot/internal/storage"
	"drawbot/internal/task/engine"
	"drawbot/internal/task/scheduler"
	logx "drawbot/pkg/logx"

	"github.com/google/uuid"
)

const (
	maxPrizeLen       = 256
	maxDescriptionLen = 1024
)

// Config tunes the engine. Zero fields take defaults in New.
type Config struct {
	ExternalTimeout time.Duration
	ExternalBackoff []time.Duration
	MaxDuration     time.Duration
	MaxWinners      int
	// JobTimeout bounds one attempt of the scheduled completion job.
	JobTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.ExternalTimeout <= 0 {
		c.ExternalTimeout = 10 * time.Second
	}
	if c.ExternalBackoff == nil {
		c.ExternalBackoff = []time.Duration{time.Second, 2 * time.Second}
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = 30 * 24 * time.Hour
	}
	if c.MaxWinners <= 0 {
		c.MaxWinners = 50
	}
	return c
}

// Deps are the collaborators of an Engine. Store, Notifier and Source are
// required. Entries defaults to Source when it can record entries.
type Deps struct {
	Store     storage.Store
	Notifier  Notifier
	Source    ParticipantSource
	Entries   EntryRecorder
	Scheduler Scheduler
	Picker    *Picker
	Bus       eventbus.Bus
	Log       logx.Logger
	Now       func() time.Time
}

type Engine struct {
	cfg   atomic.Pointer[Config]
	st    storage.Store
	notif Notifier
	src   ParticipantSource
	book  EntryRecorder
	sched Scheduler
	pick  *Picker
	bus   eventbus.Bus
	log   logx.Logger
	now   func() time.Time
}

func New(cfg Config, d Deps) *Engine {
	if d.Picker == nil {
		d.Picker = NewPicker(0)
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Entries == nil {
		d.Entries, _ = d.Source.(EntryRecorder)
	}
	e := &Engine{
		st:    d.Store,
		notif: d.Notifier,
		src:   d.Source,
		book:  d.Entries,
		sched: d.Scheduler,
		pick:  d.Picker,
		bus:   d.Bus,
		log:   d.Log,
		now:   d.Now,
	}
	e.Apply(cfg)
	return e
}

// Apply swaps the tunables.
func (e *Engine) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	e.cfg.Store(&cfg)
}

func (e *Engine) conf() Config { return *e.cfg.Load() }

// Start persists a new drawing, announces it and arms its completion job.
// When the announcement fails the record is removed again.
func (e *Engine) Start(ctx context.Context, req StartRequest) (Drawing, error) {
	req.Prize = strings.TrimSpace(req.Prize)
	req.Description = strings.TrimSpace(req.Description)
	cfg := e.conf()
	switch {
	case req.Winners < 1:
		return Drawing{}, invalid("winners must be at least 1")
	case req.Winners > cfg.MaxWinners:
		return Drawing{}, invalid("winners must be at most %d", cfg.MaxWinners)
	case req.Duration <= 0:
		return Drawing{}, invalid("duration must be positive")
	case req.Duration > cfg.MaxDuration:
		return Drawing{}, invalid("duration must be at most %s", cfg.MaxDuration)
	case req.Prize == "":
		return Drawing{}, invalid("prize is required")
	case utf8.RuneCountInString(req.Prize) > maxPrizeLen:
		return Drawing{}, invalid("prize is longer than %d characters", maxPrizeLen)
	case utf8.RuneCountInString(req.Description) > maxDescriptionLen:
		return Drawing{}, invalid("description is longer than %d characters", maxDescriptionLen)
	}

	now := e.now()
	d := Drawing{
		ID:               uuid.NewString(),
		Owner:            req.Owner,
		Prize:            req.Prize,
		Description:      req.Description,
		WinnersRequested: req.Winners,
		CreatedAt:        now,
		DueAt:            now.Add(req.Duration),
		Winners:          []string{},
	}
	log := e.log.With(logx.String("drawing", d.ID))

	if err := e.put(ctx, d); err != nil {
		return Drawing{}, err
	}

	var ref AnnouncementRef
	err := e.callExternal(ctx, d.ID, "announce", func(ctx context.Context) error {
		var err error
		ref, err = e.notif.Announce(ctx, d.Owner, Announcement{Kind: AnnounceOpened, Drawing: d})
		return err
	})
	if err != nil {
		if rbErr := e.remove(context.WithoutCancel(ctx), d.ID); rbErr != nil {
			log.Error("rollback after failed announcement failed", logx.Err(rbErr))
		}
		return Drawing{}, err
	}
	d.Announcement = ref
	if err := e.put(ctx, d); err != nil {
		return Drawing{}, err
	}

	if err := e.arm(d); err != nil {
		log.Warn("completion job not armed; it is re-armed on next start", logx.Err(err))
	}
	e.publish(EventStarted, d)
	log.Info("drawing started",
		logx.String("prize", d.Prize),
		logx.Int("winners", d.WinnersRequested),
		logx.Time("due_at", d.DueAt),
		logx.Int64("chat_id", d.Owner.ChatID),
	)
	return d, nil
}

// Complete draws the winners of an open drawing. A concurrent second call
// fails with AlreadyCompleted and changes nothing. When a failure leaves
// the drawing open, a completion job this call disarmed is armed again.
func (e *Engine) Complete(ctx context.Context, id string) (_ Drawing, err error) {
	d, err := e.Get(ctx, id)
	if err != nil {
		return Drawing{}, err
	}
	if d.Completed {
		return Drawing{}, newError(KindAlreadyCompleted, id, "", nil)
	}
	if e.sched != nil && e.sched.Cancel(id) {
		open := d
		defer func() {
			if err == nil || errors.Is(err, ErrAlreadyCompleted) || errors.Is(err, ErrNotFound) {
				return
			}
			if armErr := e.arm(open); armErr != nil {
				e.log.Warn("completion job not re-armed", logx.String("drawing", id), logx.Err(armErr))
			}
		}()
	}

	candidates, err := e.candidates(ctx, d)
	if err != nil {
		return Drawing{}, err
	}
	winners := e.pick.Pick(candidates, d.WinnersRequested)

	d, err = e.update(ctx, id, func(cur *Drawing) error {
		if cur.Completed {
			return newError(KindAlreadyCompleted, id, "", nil)
		}
		cur.Completed = true
		cur.CompletedAt = e.now()
		cur.Winners = winners
		cur.Entrants = len(candidates)
		return nil
	})
	if err != nil {
		return Drawing{}, err
	}

	e.announceResult(ctx, d, AnnounceClosed)
	e.publish(EventCompleted, d)
	e.log.Info("drawing completed",
		logx.String("drawing", id),
		logx.Int("entrants", d.Entrants),
		logx.Strings("winners", d.Winners),
	)
	return d, nil
}

// Reroll replaces the winners of a completed drawing.
func (e *Engine) Reroll(ctx context.Context, id string) (Drawing, error) {
	d, err := e.Get(ctx, id)
	if err != nil {
		return Drawing{}, err
	}
	if !d.Completed {
		return Drawing{}, newError(KindNotCompleted, id, "", nil)
	}
	candidates, err := e.candidates(ctx, d)
	if err != nil {
		return Drawing{}, err
	}
	if len(candidates) == 0 {
		return Drawing{}, newError(KindInvalidArgument, id, "no participants to draw from", nil)
	}
	winners := e.pick.Pick(candidates, d.WinnersRequested)

	d, err = e.update(ctx, id, func(cur *Drawing) error {
		if !cur.Completed {
			return newError(KindNotCompleted, id, "", nil)
		}
		cur.Winners = winners
		cur.Entrants = len(candidates)
		cur.RerollCount++
		return nil
	})
	if err != nil {
		return Drawing{}, err
	}

	e.announceResult(ctx, d, AnnounceRerolled)
	e.publish(EventRerolled, d)
	e.log.Info("drawing rerolled", logx.String("drawing", id), logx.Int("reroll", d.RerollCount), logx.Strings("winners", d.Winners))
	return d, nil
}

func (e *Engine) Get(ctx context.Context, id string) (Drawing, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Drawing{}, newError(KindNotFound, id, "empty id", nil)
	}
	c, err := e.st.Get(ctx, CollectionDrawings)
	if err != nil {
		return Drawing{}, storageErr(id, "read drawings", err)
	}
	d, ok, err := storage.GetRecord[Drawing](c, id)
	if err != nil {
		return Drawing{}, storageErr(id, "decode drawing", err)
	}
	if !ok {
		return Drawing{}, newError(KindNotFound, id, "", nil)
	}
	return d, nil
}

// ListActive returns the open drawings in scope, soonest due first.
func (e *Engine) ListActive(ctx context.Context, scope Scope) ([]Drawing, error) {
	return e.list(ctx, func(d Drawing) bool { return scope.match(d) && !d.Completed })
}

// List returns every drawing in scope, soonest due first.
func (e *Engine) List(ctx context.Context, scope Scope) ([]Drawing, error) {
	return e.list(ctx, scope.match)
}

func (e *Engine) list(ctx context.Context, keep func(Drawing) bool) ([]Drawing, error) {
	c, err := e.st.Get(ctx, CollectionDrawings)
	if err != nil {
		return nil, storageErr("", "read drawings", err)
	}
	all, err := storage.DecodeRecords[Drawing](c)
	if err != nil {
		return nil, storageErr("", "decode drawings", err)
	}
	out := make([]Drawing, 0, len(all))
	for _, d := range all {
		if keep(d) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DueAt.Equal(out[j].DueAt) {
			return out[i].DueAt.Before(out[j].DueAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Enter adds userID to an open drawing.
func (e *Engine) Enter(ctx context.Context, id, userID string) (EntryResult, error) {
	return e.entry(ctx, id, userID, true)
}

// Leave removes userID from an open drawing.
func (e *Engine) Leave(ctx context.Context, id, userID string) (EntryResult, error) {
	return e.entry(ctx, id, userID, false)
}

func (e *Engine) entry(ctx context.Context, id, userID string, join bool) (EntryResult, error) {
	if strings.TrimSpace(userID) == "" {
		return EntryResult{}, invalid("user id is required")
	}
	d, err := e.Get(ctx, id)
	if err != nil {
		return EntryResult{}, err
	}
	if d.Completed || !e.now().Before(d.DueAt) {
		return EntryResult{}, newError(KindAlreadyCompleted, id, "entries are closed", nil)
	}
	if e.book == nil {
		return EntryResult{}, newError(KindInvalidArgument, id, "entries are not recorded by this bot", nil)
	}
	if d.Announcement.IsZero() {
		return EntryResult{}, newError(KindInvalidArgument, id, "drawing has no announcement to join", nil)
	}
	var res EntryResult
	if join {
		res, err = e.book.Add(ctx, d.Announcement, userID)
	} else {
		res, err = e.book.Remove(ctx, d.Announcement, userID)
	}
	if err != nil {
		return EntryResult{}, storageErr(id, "update entries", err)
	}
	return res, nil
}

// PendingJobs lists a completion job for every open drawing.
func (e *Engine) PendingJobs(ctx context.Context) ([]scheduler.Job, error) {
	open, err := e.ListActive(ctx, Scope{})
	if err != nil {
		return nil, err
	}
	jobs := make([]scheduler.Job, 0, len(open))
	for _, d := range open {
		jobs = append(jobs, scheduler.Job{ID: d.ID, FireAt: d.DueAt, Timeout: e.conf().JobTimeout, Run: e.completionJob(d.ID)})
	}
	return jobs, nil
}

// Prune deletes completed drawings, and their entries, that completed more
// than olderThan ago. olderThan <= 0 keeps everything.
func (e *Engine) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		return 0, nil
	}
	cutoff := e.now().Add(-olderThan)
	var (
		refs    []AnnouncementRef
		deleted int
	)
	_, err := e.st.Transact(ctx, CollectionDrawings, func(c storage.Content) (storage.Content, error) {
		all, err := storage.DecodeRecords[Drawing](c)
		if err != nil {
			return c, err
		}
		for id, d := range all {
			if d.Completed && d.CompletedAt.Before(cutoff) {
				storage.DeleteRecord(&c, id)
				deleted++
				if !d.Announcement.IsZero() {
					refs = append(refs, d.Announcement)
				}
			}
		}
		return c, nil
	})
	if err != nil {
		return 0, storageErr("", "prune drawings", err)
	}
	if e.book != nil && len(refs) > 0 {
		if err := e.book.Drop(ctx, refs...); err != nil {
			return deleted, storageErr("", "prune entries", err)
		}
	}
	if deleted > 0 {
		e.log.Info("drawings pruned", logx.Int("count", deleted), logx.Time("cutoff", cutoff))
	}
	return deleted, nil
}

// completionJob is the scheduled handler for id. Completion of an already
// completed or deleted drawing counts as success.
func (e *Engine) completionJob(id string) scheduler.Handler {
	return func(ctx context.Context) error {
		_, err := e.Complete(ctx, id)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrAlreadyCompleted), errors.Is(err, ErrNotFound):
			e.log.Debug("completion job found nothing to do", logx.String("drawing", id), logx.Err(err))
			return nil
		case IsRetryable(err):
			return err
		default:
			return engine.NoRetry(err)
		}
	}
}

func (e *Engine) arm(d Drawing) error {
	if e.sched == nil {
		return nil
	}
	return e.sched.Schedule(d.ID, d.DueAt, e.completionJob(d.ID))
}

// candidates fetches the entrants of d. A drawing whose announcement was
// never recorded has no join button and so no entrants.
func (e *Engine) candidates(ctx context.Context, d Drawing) ([]string, error) {
	if d.Announcement.IsZero() {
		return []string{}, nil
	}
	var ids []string
	err := e.callExternal(ctx, d.ID, "fetch participants", func(ctx context.Context) error {
		var err error
		ids, err = e.src.Fetch(ctx, d.Announcement)
		return err
	})
	return ids, err
}

// announceResult reports a committed result. Failures are logged only.
func (e *Engine) announceResult(ctx context.Context, d Drawing, kind AnnouncementKind) {
	err := e.callExternal(ctx, d.ID, "announce "+string(kind), func(ctx context.Context) error {
		return e.notif.Update(ctx, d.Announcement, Announcement{Kind: kind, Drawing: d})
	})
	if err != nil {
		e.log.Warn("result announcement failed", logx.String("drawing", d.ID), logx.String("kind", string(kind)), logx.Err(err))
	}
}

// callExternal runs fn under the external timeout, retrying failures after
// each ExternalBackoff wait. The last failure is returned as Timeout or
// ExternalUnavailable.
func (e *Engine) callExternal(ctx context.Context, id, op string, fn func(ctx context.Context) error) error {
	cfg := e.conf()
	backoff := cfg.ExternalBackoff
	for attempt := 0; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, cfg.ExternalTimeout)
		err := fn(callCtx)
		expired := errors.Is(callCtx.Err(), context.DeadlineExceeded)
		cancel()
		if err == nil {
			return nil
		}

		kind := KindExternalUnavailable
		if expired || errors.Is(err, context.DeadlineExceeded) {
			kind = KindTimeout
		}
		if attempt >= len(backoff) || ctx.Err() != nil {
			return newError(kind, id, op, err)
		}
		e.log.Debug("external call failed; retrying",
			logx.String("drawing", id),
			logx.String("op", op),
			logx.Int("attempt", attempt+1),
			logx.Duration("wait", backoff[attempt]),
			logx.Err(err),
		)
		t := time.NewTimer(backoff[attempt])
		select {
		case <-ctx.Done():
			t.Stop()
			return newError(kind, id, op, err)
		case <-t.C:
		}
	}
}

func (e *Engine) put(ctx context.Context, d Drawing) error {
	_, err := e.st.Transact(ctx, CollectionDrawings, func(c storage.Content) (storage.Content, error) {
		return c, storage.SetRecord(&c, d.ID, d)
	})
	return storageErr(d.ID, "write drawing", err)
}

func (e *Engine) remove(ctx context.Context, id string) error {
	_, err := e.st.Transact(ctx, CollectionDrawings, func(c storage.Content) (storage.Content, error) {
		storage.DeleteRecord(&c, id)
		return c, nil
	})
	return storageErr(id, "delete drawing", err)
}

// update applies fn to the stored drawing inside one transaction.
func (e *Engine) update(ctx context.Context, id string, fn func(*Drawing) error) (Drawing, error) {
	var out Drawing
	_, err := e.st.Transact(ctx, CollectionDrawings, func(c storage.Content) (storage.Content, error) {
		d, ok, err := storage.GetRecord[Drawing](c, id)
		if err != nil {
			return c, err
		}
		if !ok {
			return c, newError(KindNotFound, id, "", nil)
		}
		if err := fn(&d); err != nil {
			return c, err
		}
		out = d
		return c, storage.SetRecord(&c, id, d)
	})
	if err != nil {
		return Drawing{}, storageErr(id, "update drawing", err)
	}
	return out, nil
}

func (e *Engine) publish(typ string, d Drawing) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{Type: typ, Time: e.now(), Data: Event{
		ID:       d.ID,
		Prize:    d.Prize,
		ChatID:   d.Owner.ChatID,
		Winners:  d.Winners,
		Entrants: d.Entrants,
	}})
}
