package storage

import (
	"context"
	"time"
)

// AuditCollection is the sequence collection holding operator actions.
const AuditCollection = "audit"

// AuditEntry records one operator action.
type AuditEntry struct {
	At            time.Time `json:"at"`
	ActorID       int64     `json:"actor_id,omitempty"`
	ActorUsername string    `json:"actor_username,omitempty"`
	ChatID        int64     `json:"chat_id,omitempty"`
	Action        string    `json:"action"`
	Target        string    `json:"target,omitempty"`
	OK            bool      `json:"ok"`
	Error         string    `json:"error,omitempty"`
	Detail        string    `json:"detail,omitempty"`
}

// AppendAudit appends e to the audit collection, trimming the oldest
// entries beyond keep (keep <= 0 keeps everything).
func AppendAudit(ctx context.Context, st Store, e AuditEntry, keep int) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := st.Transact(ctx, AuditCollection, func(c Content) (Content, error) {
		if err := AppendEntry(&c, e); err != nil {
			return c, err
		}
		if keep > 0 && len(c.Entries) > keep {
			c.Entries = c.Entries[len(c.Entries)-keep:]
		}
		return c, nil
	})
	return err
}
