package notifier

import (
	"time"

	"drawbot/internal/transport"
)

// Config controls the async operator notification pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	HistorySize     int
}

// Notification is one operator-facing message.
type Notification struct {
	Channel  string // free-form source tag, part of the dedup key
	Target   transport.ChatTarget
	Text     string
	Priority int // 0-10; >= 5 gets an icon prefix
	Options  *transport.SendOptions
}

type HistoryItem struct {
	At        time.Time `json:"at"`
	Kind      string    `json:"kind"`
	Ref       string    `json:"ref,omitempty"`
	DrawingID string    `json:"drawing_id,omitempty"`
	Text      string    `json:"text,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// NotificationEvent is published on the bus as notifier.*.
type NotificationEvent struct {
	Channel  string    `json:"channel"`
	ChatID   int64     `json:"chat_id"`
	ThreadID int       `json:"thread_id,omitempty"`
	Key      string    `json:"key"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}

// history is a bounded ring of HistoryItem.
type history struct {
	limit int
	items []HistoryItem
}

func (h *history) add(it HistoryItem) {
	if it.At.IsZero() {
		it.At = time.Now()
	}
	h.items = append(h.items, it)
	if h.limit > 0 && len(h.items) > h.limit {
		h.items = h.items[len(h.items)-h.limit:]
	}
}

func (h *history) snapshot() []HistoryItem { return append([]HistoryItem(nil), h.items...) }
