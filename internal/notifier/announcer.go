package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"drawbot/internal/drawing"
	"drawbot/internal/eventbus"
	"drawbot/internal/transport"
	logx "drawbot/pkg/logx"

	"golang.org/x/time/rate"
)

// AnnouncerConfig tunes the Announcer. Zero fields take defaults.
type AnnouncerConfig struct {
	RatePerSec  int
	HistorySize int
	Timezone    string
}

// Announcer implements drawing.Notifier over a chat adapter.
type Announcer struct {
	mu      sync.Mutex
	adapter transport.Adapter
	log     logx.Logger
	bus     eventbus.Bus
	limiter *rate.Limiter
	loc     *time.Location
	now     func() time.Time
	hist    history
}

var _ drawing.Notifier = (*Announcer)(nil)

func NewAnnouncer(cfg AnnouncerConfig, adapter transport.Adapter, log logx.Logger, bus eventbus.Bus) *Announcer {
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Announcer{adapter: adapter, log: log, bus: bus, now: time.Now}
	a.Apply(cfg)
	return a
}

func (a *Announcer) Apply(cfg AnnouncerConfig) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}
	loc := time.UTC
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		} else {
			a.log.Warn("invalid announcer timezone; using UTC", logx.String("tz", tz), logx.Err(err))
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	// Burst equals the per-second rate so short spikes pass unthrottled.
	a.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	a.loc = loc
	a.hist.limit = cfg.HistorySize
}

// SetAdapter swaps the transport, used when the adapter is rebuilt.
func (a *Announcer) SetAdapter(ad transport.Adapter) {
	a.mu.Lock()
	a.adapter = ad
	a.mu.Unlock()
}

func (a *Announcer) snapshot() (transport.Adapter, *rate.Limiter, *time.Location) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.adapter, a.limiter, a.loc
}

// Announce posts the opening message with the Join and Leave buttons.
func (a *Announcer) Announce(ctx context.Context, owner drawing.Owner, ann drawing.Announcement) (drawing.AnnouncementRef, error) {
	ad, lim, loc := a.snapshot()
	if ad == nil {
		return drawing.AnnouncementRef{}, errors.New("notifier: no adapter")
	}
	msg := renderOpened(ann.Drawing, a.now(), loc)
	to := transport.ChatTarget{ChatID: owner.ChatID, ThreadID: owner.ThreadID}

	ref, err := a.send(ctx, ad, lim, to, msg.Text(), msg.Options())
	a.record(string(drawing.AnnounceOpened), ann.Drawing.ID, ref, err)
	if err != nil {
		return drawing.AnnouncementRef{}, err
	}
	return drawing.AnnouncementRef{ChatID: ref.ChatID, ThreadID: ref.ThreadID, MessageID: ref.MessageID}, nil
}

// Update reflects a result. Closing edits the announcement (dropping the
// buttons) and then posts the winners as a reply; a reroll only replies.
// A failed edit is recorded and the winners are posted without the reply.
func (a *Announcer) Update(ctx context.Context, ref drawing.AnnouncementRef, ann drawing.Announcement) error {
	ad, lim, loc := a.snapshot()
	if ad == nil {
		return errors.New("notifier: no adapter")
	}
	mref := transport.MessageRef{ChatID: ref.ChatID, ThreadID: ref.ThreadID, MessageID: ref.MessageID}
	d := ann.Drawing

	switch ann.Kind {
	case drawing.AnnounceClosed:
		replyTo := ref.MessageID
		if !ref.IsZero() {
			closed := renderClosed(d, loc)
			if err := lim.Wait(ctx); err != nil {
				return err
			}
			if err := ad.EditText(ctx, mref, closed.Text(), closed.Options()); err != nil {
				a.record("edit", d.ID, mref, err)
				a.log.Warn("announcement edit failed; posting winners separately", logx.String("drawing", d.ID), logx.Err(err))
				replyTo = 0
			}
		}
		res := renderResult(d, replyTo)
		sent, err := a.send(ctx, ad, lim, mref.Target(), res.Text(), res.Options())
		a.record(string(ann.Kind), d.ID, sent, err)
		return err
	case drawing.AnnounceRerolled:
		res := renderRerolled(d, ref.MessageID)
		sent, err := a.send(ctx, ad, lim, mref.Target(), res.Text(), res.Options())
		a.record(string(ann.Kind), d.ID, sent, err)
		return err
	default:
		return fmt.Errorf("notifier: unsupported announcement kind %q", ann.Kind)
	}
}

func (a *Announcer) send(ctx context.Context, ad transport.Adapter, lim *rate.Limiter, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	if err := lim.Wait(ctx); err != nil {
		return transport.MessageRef{}, err
	}
	return ad.SendText(ctx, to, text, opt)
}

func (a *Announcer) record(kind, id string, ref transport.MessageRef, err error) {
	it := HistoryItem{At: a.now(), Kind: kind, DrawingID: id}
	if !ref.IsZero() {
		it.Ref = ref.Key()
	}
	typ := "notifier.sent"
	if err != nil {
		it.Error = err.Error()
		typ = "notifier.failed"
		a.log.Debug("announcement failed", logx.String("drawing", id), logx.String("kind", kind), logx.Err(err))
	}
	a.mu.Lock()
	a.hist.add(it)
	a.mu.Unlock()

	if a.bus != nil {
		a.bus.Publish(eventbus.Event{Type: typ, Time: it.At, Data: NotificationEvent{
			Channel: "drawing." + kind,
			ChatID:  ref.ChatID,
			Key:     id,
			At:      it.At,
			Error:   it.Error,
		}})
	}
}

// History returns recent announcements, oldest first.
func (a *Announcer) History() []HistoryItem {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hist.snapshot()
}
