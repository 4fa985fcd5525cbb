package storage

import (
	"context"
	"time"
)

// Config selects and configures a backend.
type Config struct {
	Driver      string // "file" (default) or "sqlite"
	Dir         string // file backend directory
	Path        string // sqlite database file
	BusyTimeout time.Duration
}

// Shape is the structural kind of a collection.
type Shape string

const (
	ShapeMap      Shape = "map"
	ShapeSequence Shape = "sequence"
)

// Schema declares every collection the store may hold.
type Schema map[string]Shape

// TxFunc receives a private copy of the current content and returns the
// content to persist. Returning an error leaves the collection unchanged.
type TxFunc func(cur Content) (Content, error)

// Store is the persistence API used by the drawing engine and friends.
type Store interface {
	// Get returns the persisted content or the schema's empty default.
	Get(ctx context.Context, collection string) (Content, error)
	// Put replaces the collection atomically.
	Put(ctx context.Context, collection string, c Content) error
	// Transact runs a serialized read-modify-write and returns the new content.
	Transact(ctx context.Context, collection string, fn TxFunc) (Content, error)
	Schema() Schema
	Stats() Stats
	Close() error
}

// Stats are cumulative operation counters.
type Stats struct {
	Driver       string        `json:"driver"`
	Gets         uint64        `json:"gets"`
	Puts         uint64        `json:"puts"`
	Transactions uint64        `json:"transactions"`
	Aborted      uint64        `json:"aborted"`
	Failures     uint64        `json:"failures"`
	LockWait     time.Duration `json:"lock_wait"`
}
