package drawing

import (
	"context"
	"fmt"
	"time"

	"drawbot/internal/storage"
	"drawbot/internal/task/scheduler"
)

const (
	CollectionDrawings = "drawings"
	CollectionEntries  = "entries"
)

// Schema declares the collections this package owns.
func Schema() storage.Schema {
	return storage.Schema{
		CollectionDrawings: storage.ShapeMap,
		CollectionEntries:  storage.ShapeMap,
	}
}

// Owner is where a drawing was started and by whom.
type Owner struct {
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
	UserID   int64  `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
}

// AnnouncementRef locates the announcement message of a drawing.
type AnnouncementRef struct {
	ChatID    int64 `json:"chat_id"`
	ThreadID  int   `json:"thread_id,omitempty"`
	MessageID int   `json:"message_id"`
}

func (r AnnouncementRef) IsZero() bool { return r.ChatID == 0 && r.MessageID == 0 }

// Key is the entries collection key for r.
func (r AnnouncementRef) Key() string { return fmt.Sprintf("%d:%d", r.ChatID, r.MessageID) }

type Drawing struct {
	ID               string          `json:"id"`
	Owner            Owner           `json:"owner"`
	Prize            string          `json:"prize"`
	Description      string          `json:"description,omitempty"`
	WinnersRequested int             `json:"winners_requested"`
	DueAt            time.Time       `json:"due_at"`
	CreatedAt        time.Time       `json:"created_at"`
	Completed        bool            `json:"completed"`
	CompletedAt      time.Time       `json:"completed_at,omitzero"`
	Winners          []string        `json:"winners"`
	Entrants         int             `json:"entrants,omitempty"`
	Announcement     AnnouncementRef `json:"announcement"`
	RerollCount      int             `json:"reroll_count,omitempty"`
}

// Remaining is the time left before d is due, never negative.
func (d Drawing) Remaining(now time.Time) time.Duration {
	return max(d.DueAt.Sub(now), 0)
}

type StartRequest struct {
	Owner       Owner
	Prize       string
	Description string
	Winners     int
	Duration    time.Duration
}

// Scope filters listings. A zero ChatID matches every chat.
type Scope struct {
	ChatID int64
}

func (s Scope) match(d Drawing) bool { return s.ChatID == 0 || d.Owner.ChatID == s.ChatID }

type AnnouncementKind string

const (
	AnnounceOpened   AnnouncementKind = "opened"
	AnnounceClosed   AnnouncementKind = "closed"
	AnnounceRerolled AnnouncementKind = "rerolled"
)

// Announcement is what a Notifier renders.
type Announcement struct {
	Kind    AnnouncementKind
	Drawing Drawing
}

// Notifier publishes drawing announcements to chat.
type Notifier interface {
	Announce(ctx context.Context, owner Owner, a Announcement) (AnnouncementRef, error)
	Update(ctx context.Context, ref AnnouncementRef, a Announcement) error
}

// ParticipantSource returns the ids of the users entered under an
// announcement. An empty result is valid.
type ParticipantSource interface {
	Fetch(ctx context.Context, ref AnnouncementRef) ([]string, error)
}

// EntryRecorder stores entries made through the Join and Leave buttons.
type EntryRecorder interface {
	Add(ctx context.Context, ref AnnouncementRef, userID string) (EntryResult, error)
	Remove(ctx context.Context, ref AnnouncementRef, userID string) (EntryResult, error)
	Drop(ctx context.Context, refs ...AnnouncementRef) error
}

// Scheduler arms and disarms the completion job of a drawing.
type Scheduler interface {
	Schedule(id string, fireAt time.Time, run scheduler.Handler) error
	Cancel(id string) bool
}

// Event types published on the bus.
const (
	EventStarted   = "drawing.started"
	EventCompleted = "drawing.completed"
	EventRerolled  = "drawing.rerolled"
)

type Event struct {
	ID       string   `json:"id"`
	Prize    string   `json:"prize"`
	ChatID   int64    `json:"chat_id"`
	Winners  []string `json:"winners,omitempty"`
	Entrants int      `json:"entrants"`
}

// EntryResult reports an Enter or Leave call.
type EntryResult struct {
	Count   int
	Changed bool
}
