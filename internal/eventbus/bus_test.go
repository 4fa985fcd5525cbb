package eventbus

import "testing"

func TestPublishFiltersByPrefix(t *testing.T) {
	t.Parallel()

	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	drawings, unsubDrawings := b.Subscribe(4, "drawing.")
	defer unsubDrawings()

	b.Publish(Event{Type: "task.failed"})
	b.Publish(Event{Type: "drawing.completed", Data: "d1"})

	if got := len(all); got != 2 {
		t.Fatalf("all subscriber got %d events, want 2", got)
	}
	if got := len(drawings); got != 1 {
		t.Fatalf("drawing subscriber got %d events, want 1", got)
	}
	e := <-drawings
	if e.Type != "drawing.completed" || e.Data != "d1" || e.Time.IsZero() {
		t.Fatalf("unexpected event %+v", e)
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()

	b := New()
	_, unsub := b.Subscribe(1)
	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})
	if b.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", b.Dropped())
	}
	unsub()
	unsub()
	b.Publish(Event{Type: "c"})
}
