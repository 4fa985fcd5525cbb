package notifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"drawbot/internal/drawing"
	"drawbot/internal/eventbus"
	"drawbot/internal/task/engine"
	"drawbot/internal/transport"
	logx "drawbot/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	to   transport.ChatTarget
	text string
	opt  *transport.SendOptions
}

type edit struct {
	ref  transport.MessageRef
	text string
	opt  *transport.SendOptions
}

type fakeAdapter struct {
	mu      sync.Mutex
	next    int
	sendErr []error
	editErr error
	sends   []sent
	edits   []edit
}

func (a *fakeAdapter) Start(context.Context, chan<- transport.Update) error { return nil }
func (a *fakeAdapter) Stop(context.Context) error                           { return nil }

func (a *fakeAdapter) SendText(_ context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.sendErr) > 0 {
		err := a.sendErr[0]
		a.sendErr = a.sendErr[1:]
		if err != nil {
			return transport.MessageRef{}, err
		}
	}
	a.next++
	a.sends = append(a.sends, sent{to: to, text: text, opt: opt})
	return transport.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: a.next}, nil
}

func (a *fakeAdapter) EditText(_ context.Context, ref transport.MessageRef, text string, opt *transport.SendOptions) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.editErr != nil {
		return a.editErr
	}
	a.edits = append(a.edits, edit{ref: ref, text: text, opt: opt})
	return nil
}

func (a *fakeAdapter) AnswerCallback(context.Context, string, string) error { return nil }

func (a *fakeAdapter) sentTexts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.sends))
	for _, s := range a.sends {
		out = append(out, s.text)
	}
	return out
}

func sampleDrawing() drawing.Drawing {
	due := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
	return drawing.Drawing{
		ID:               "d-1",
		Owner:            drawing.Owner{ChatID: -100, ThreadID: 5, UserID: 7, Username: "host"},
		Prize:            "Nitro <1 month>",
		WinnersRequested: 2,
		DueAt:            due,
		CreatedAt:        due.Add(-time.Hour),
	}
}

func TestEntryCallbackRoundTrip(t *testing.T) {
	btns := EntryButtons("abc")
	require.Len(t, btns, 2)

	action, id, ok := ParseEntryCallback(btns[0].Data)
	require.True(t, ok)
	require.Equal(t, ActionJoin, action)
	require.Equal(t, "abc", id)

	action, _, ok = ParseEntryCallback(btns[1].Data)
	require.True(t, ok)
	require.Equal(t, ActionLeave, action)

	for _, bad := range []string{"", "drw:join:", "xx:join:abc", "drw:kick:abc"} {
		_, _, ok := ParseEntryCallback(bad)
		require.False(t, ok, bad)
	}
}

func TestRenderEscapesAndMentions(t *testing.T) {
	d := sampleDrawing()
	opened := renderOpened(d, d.DueAt.Add(-90*time.Minute), time.UTC)
	text := opened.Text()
	require.Contains(t, text, "Nitro &lt;1 month&gt;")
	require.Contains(t, text, "2026-03-01 13:00 UTC")
	require.Contains(t, text, "tg://user?id=7")
	require.Len(t, opened.Options().Buttons, 1)

	d.Completed = true
	d.CompletedAt = d.DueAt
	d.Winners = []string{"11", "22"}
	d.Entrants = 4
	closed := renderClosed(d, time.UTC).Text()
	require.Contains(t, closed, "tg://user?id=11")
	require.Contains(t, closed, "tg://user?id=22")
	require.Empty(t, renderClosed(d, time.UTC).Options().Buttons)

	d.Winners = nil
	require.Contains(t, renderResult(d, 9).Text(), "without participants")
	require.Equal(t, 9, renderResult(d, 9).Options().ReplyTo)
}

func TestAnnouncerOpensAndCloses(t *testing.T) {
	ad := &fakeAdapter{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8, "notifier.")
	defer unsub()

	a := NewAnnouncer(AnnouncerConfig{RatePerSec: 100}, ad, logx.Nop(), bus)
	d := sampleDrawing()
	ref, err := a.Announce(context.Background(), d.Owner, drawing.Announcement{Kind: drawing.AnnounceOpened, Drawing: d})
	require.NoError(t, err)
	require.Equal(t, drawing.AnnouncementRef{ChatID: -100, ThreadID: 5, MessageID: 1}, ref)

	d.Completed = true
	d.CompletedAt = d.DueAt
	d.Winners = []string{"11"}
	require.NoError(t, a.Update(context.Background(), ref, drawing.Announcement{Kind: drawing.AnnounceClosed, Drawing: d}))

	ad.mu.Lock()
	require.Len(t, ad.edits, 1)
	require.Equal(t, 1, ad.edits[0].ref.MessageID)
	require.Len(t, ad.sends, 2)
	require.Equal(t, 1, ad.sends[1].opt.ReplyTo)
	require.Equal(t, transport.ChatTarget{ChatID: -100, ThreadID: 5}, ad.sends[1].to)
	ad.mu.Unlock()

	require.Len(t, a.History(), 2)
	for i := 0; i < 2; i++ {
		select {
		case e := <-events:
			require.Equal(t, "notifier.sent", e.Type)
		case <-time.After(time.Second):
			t.Fatal("missing notifier event")
		}
	}
}

func TestAnnouncerEditFailureStillPostsWinners(t *testing.T) {
	ad := &fakeAdapter{editErr: errors.New("message to edit not found")}
	a := NewAnnouncer(AnnouncerConfig{RatePerSec: 100}, ad, logx.Nop(), nil)
	d := sampleDrawing()
	d.Completed = true
	d.Winners = []string{"11"}

	err := a.Update(context.Background(), drawing.AnnouncementRef{ChatID: -100, ThreadID: 5, MessageID: 3}, drawing.Announcement{Kind: drawing.AnnounceClosed, Drawing: d})
	require.NoError(t, err)

	texts := ad.sentTexts()
	require.Len(t, texts, 1)
	require.Contains(t, texts[0], "Congratulations")
	ad.mu.Lock()
	require.Zero(t, ad.sends[0].opt.ReplyTo, "the announcement may be gone")
	require.Equal(t, transport.ChatTarget{ChatID: -100, ThreadID: 5}, ad.sends[0].to)
	ad.mu.Unlock()

	h := a.History()
	require.Len(t, h, 2)
	require.Equal(t, "message to edit not found", h[0].Error)
	require.Equal(t, string(drawing.AnnounceClosed), h[1].Kind)
	require.Empty(t, h[1].Error)
}

func TestAnnouncerRerollRepliesOnly(t *testing.T) {
	ad := &fakeAdapter{}
	a := NewAnnouncer(AnnouncerConfig{RatePerSec: 100}, ad, logx.Nop(), nil)
	d := sampleDrawing()
	d.Winners = []string{"33"}

	require.NoError(t, a.Update(context.Background(), drawing.AnnouncementRef{ChatID: -100, MessageID: 3}, drawing.Announcement{Kind: drawing.AnnounceRerolled, Drawing: d}))
	require.Empty(t, ad.edits)
	texts := ad.sentTexts()
	require.Len(t, texts, 1)
	require.Contains(t, texts[0], "New winners")
}

func newService(t *testing.T, cfg Config, ad transport.Adapter) *Service {
	t.Helper()
	cfg.Enabled = true
	if cfg.RatePerSec == 0 {
		cfg.RatePerSec = 1000
	}
	s := New(cfg, ad, logx.Nop(), nil)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func TestServiceDeliversWithPriorityPrefix(t *testing.T) {
	ad := &fakeAdapter{}
	s := newService(t, Config{}, ad)

	require.NoError(t, s.Notify(context.Background(), Notification{Channel: "x", Text: "disk low", Priority: 9}))
	require.Eventually(t, func() bool { return len(ad.sentTexts()) == 1 }, time.Second, 5*time.Millisecond)
	require.True(t, strings.HasSuffix(ad.sentTexts()[0], "disk low"))
	require.NotEqual(t, "disk low", ad.sentTexts()[0])
}

func TestServiceRetriesThenSucceeds(t *testing.T) {
	ad := &fakeAdapter{sendErr: []error{errors.New("a"), errors.New("b")}}
	s := newService(t, Config{RetryMax: 2, RetryBase: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond}, ad)

	require.NoError(t, s.Notify(context.Background(), Notification{Text: "hi"}))
	require.Eventually(t, func() bool { return len(ad.sentTexts()) == 1 }, time.Second, 5*time.Millisecond)
	h := s.History()
	require.Len(t, h, 1)
	require.Empty(t, h[0].Error)
}

func TestServiceDedupsWithinWindow(t *testing.T) {
	ad := &fakeAdapter{}
	s := newService(t, Config{DedupWindow: time.Minute}, ad)

	n := Notification{Channel: "dup", Text: "same"}
	require.NoError(t, s.Notify(context.Background(), n))
	require.NoError(t, s.Notify(context.Background(), n))
	require.NoError(t, s.Notify(context.Background(), Notification{Channel: "dup", Text: "other"}))

	require.Eventually(t, func() bool { return len(ad.sentTexts()) == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	require.Len(t, ad.sentTexts(), 2)
}

func TestServiceDisabledAndStopped(t *testing.T) {
	s := New(Config{}, &fakeAdapter{}, logx.Nop(), nil)
	require.ErrorIs(t, s.Notify(context.Background(), Notification{Text: "x"}), ErrDisabled)

	s.Apply(Config{Enabled: true})
	require.ErrorIs(t, s.Notify(context.Background(), Notification{Text: "x"}), ErrStopped)

	s.Start(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	require.ErrorIs(t, s.Notify(context.Background(), Notification{Text: "x"}), ErrStopped)
}

func TestRelayForwardsDrawingAndTaskEvents(t *testing.T) {
	ad := &fakeAdapter{}
	s := newService(t, Config{}, ad)
	bus := eventbus.New()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		Relay(ctx, bus, s, transport.ChatTarget{ChatID: 42})
	}()
	defer func() {
		cancel()
		<-done
	}()

	// Relay subscribes asynchronously; publish until the first message lands.
	require.Eventually(t, func() bool {
		bus.Publish(eventbus.Event{Type: drawing.EventCompleted, Data: drawing.Event{ID: "d-9", Prize: "Cake", Entrants: 3, Winners: []string{"1"}}})
		return len(ad.sentTexts()) > 0
	}, time.Second, 10*time.Millisecond)

	bus.Publish(eventbus.Event{Type: engine.EventFailed, Data: engine.TaskEvent{Name: "job:d-9", Attempts: 3, Error: "timeout"}})
	require.Eventually(t, func() bool {
		for _, txt := range ad.sentTexts() {
			if strings.Contains(txt, "Task failed") {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	ad.mu.Lock()
	defer ad.mu.Unlock()
	for _, m := range ad.sends {
		assert.Equal(t, int64(42), m.to.ChatID)
	}
	assert.Contains(t, ad.sends[0].text, "Cake")
}
