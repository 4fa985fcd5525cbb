// Package router dispatches Telegram updates to a command tree and to
// callback routes on a bounded worker pool.
package router

import (
	"context"
	"time"

	kit "drawbot/internal/transport"
	logx "drawbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	// AccessAdmin admits owners and administrators of the current chat.
	AccessAdmin
	AccessOwnerOnly
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Command struct {
	// Route is a space separated path, e.g. "drawing start".
	Route       string
	Aliases     []string // root-level shortcuts, e.g. ["gstart"]
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration
	Handle      HandlerFunc
}

// CallbackRoute handles inline button presses whose data is
// "<scope>:<action>:<payload>".
type CallbackRoute struct {
	Scope   string
	Action  string
	Access  Access
	Timeout time.Duration
	// Handle returns the toast shown to the presser.
	Handle func(ctx context.Context, req *Request) (string, error)
}

// MessageHook sees every non-command message before it is dropped.
type MessageHook func(ctx context.Context, req *Request) error

type Request struct {
	Update       kit.Update
	Chat         kit.ChatTarget
	FromID       int64
	FromUsername string
	Path         []string
	Command      string
	Args         []string
	Payload      string

	RawArgs   []string
	Flags     map[string]string
	BoolFlags map[string]bool
	ReqID     string

	Adapter kit.Adapter
	Logger  logx.Logger
	IsOwner bool
}

// Reply sends an HTML message to the request's chat.
func (r *Request) Reply(ctx context.Context, html string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, html, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	return err
}

// Flag returns a string flag, or def when absent.
func (r *Request) Flag(name, def string) string {
	if v, ok := r.Flags[name]; ok {
		return v
	}
	return def
}

type Config struct {
	Workers   int
	QueueSize int
	// BusyText is sent when the job queue is full.
	BusyText string
}
