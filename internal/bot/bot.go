// Package bot wires chat commands, button callbacks and the moderation
// hook onto the drawing engine.
package bot

import (
	"context"
	"strconv"
	"sync"
	"time"

	"drawbot/internal/drawing"
	"drawbot/internal/moderation"
	"drawbot/internal/storage"
	"drawbot/internal/transport"
	"drawbot/internal/transport/telegram/router"
	logx "drawbot/pkg/logx"
)

// Drawings is the engine surface the commands use.
type Drawings interface {
	Start(ctx context.Context, req drawing.StartRequest) (drawing.Drawing, error)
	Complete(ctx context.Context, id string) (drawing.Drawing, error)
	Reroll(ctx context.Context, id string) (drawing.Drawing, error)
	Get(ctx context.Context, id string) (drawing.Drawing, error)
	ListActive(ctx context.Context, scope drawing.Scope) ([]drawing.Drawing, error)
	List(ctx context.Context, scope drawing.Scope) ([]drawing.Drawing, error)
	Enter(ctx context.Context, id, userID string) (drawing.EntryResult, error)
	Leave(ctx context.Context, id, userID string) (drawing.EntryResult, error)
}

type Moderator interface {
	Check(ctx context.Context, m *transport.Message) (moderation.Verdict, bool, error)
}

// HealthFunc collects the /health report.
type HealthFunc func(ctx context.Context) Health

type Config struct {
	// Timezone renders due times; empty means UTC.
	Timezone string
	// AuditKeep bounds the audit collection (0 keeps everything).
	AuditKeep    int
	ExemptOwners bool
	// CommandTimeout bounds start, complete and reroll, which wait on
	// external calls with retries.
	CommandTimeout time.Duration
}

type Deps struct {
	Drawings  Drawings
	Moderator Moderator
	Store     storage.Store
	Health    HealthFunc
	Log       logx.Logger
	Now       func() time.Time
}

type Bot struct {
	mu  sync.RWMutex
	cfg Config
	loc *time.Location

	d   Deps
	log logx.Logger
}

func New(cfg Config, d Deps) *Bot {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	b := &Bot{d: d, log: d.Log}
	b.Apply(cfg)
	return b
}

func (b *Bot) Apply(cfg Config) {
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = time.Minute
	}
	loc := time.UTC
	if cfg.Timezone != "" {
		if l, err := time.LoadLocation(cfg.Timezone); err == nil {
			loc = l
		} else {
			b.log.Warn("invalid bot timezone; using UTC", logx.String("tz", cfg.Timezone), logx.Err(err))
		}
	}
	b.mu.Lock()
	b.cfg, b.loc = cfg, loc
	b.mu.Unlock()
}

func (b *Bot) conf() (Config, *time.Location) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cfg, b.loc
}

// Commands returns the command tree entries.
func (b *Bot) Commands() []router.Command {
	cfg, _ := b.conf()
	long := cfg.CommandTimeout
	return []router.Command{
		{
			Route:       "drawing start",
			Aliases:     []string{"gstart"},
			Description: "start a drawing in this chat",
			Usage:       `/drawing start <duration> <winners> <prize...> [--desc "text"]`,
			Access:      router.AccessAdmin,
			Timeout:     long,
			Handle:      b.handleStart,
		},
		{
			Route:       "drawing end",
			Aliases:     []string{"gend"},
			Description: "close a drawing now and pick winners",
			Usage:       "/drawing end <id>",
			Access:      router.AccessAdmin,
			Timeout:     long,
			Handle:      b.handleComplete,
		},
		{
			Route:       "drawing reroll",
			Aliases:     []string{"greroll"},
			Description: "pick new winners for a closed drawing",
			Usage:       "/drawing reroll <id>",
			Access:      router.AccessAdmin,
			Timeout:     long,
			Handle:      b.handleReroll,
		},
		{
			Route:       "drawing list",
			Aliases:     []string{"glist"},
			Description: "list open drawings in this chat",
			Usage:       "/drawing list [--all]",
			Timeout:     10 * time.Second,
			Handle:      b.handleList,
		},
		{
			Route:       "drawing show",
			Description: "show a drawing and its winners",
			Usage:       "/drawing show <id>",
			Timeout:     10 * time.Second,
			Handle:      b.handleShow,
		},
		{
			Route:       "health",
			Description: "runtime, scheduler and store status",
			Access:      router.AccessOwnerOnly,
			Timeout:     10 * time.Second,
			Handle:      b.handleHealth,
		},
	}
}

// Callbacks returns the Join and Leave button routes.
func (b *Bot) Callbacks() []router.CallbackRoute {
	return []router.CallbackRoute{
		{Scope: "drw", Action: "join", Timeout: 10 * time.Second, Handle: b.handleJoin},
		{Scope: "drw", Action: "leave", Timeout: 10 * time.Second, Handle: b.handleLeave},
	}
}

// MessageHook screens non-command group messages.
func (b *Bot) MessageHook() router.MessageHook {
	return func(ctx context.Context, req *router.Request) error {
		if b.d.Moderator == nil || req.Update.Message == nil {
			return nil
		}
		cfg, _ := b.conf()
		if req.IsOwner && cfg.ExemptOwners {
			return nil
		}
		_, _, err := b.d.Moderator.Check(ctx, req.Update.Message)
		return err
	}
}

func (b *Bot) audit(ctx context.Context, req *router.Request, action, target string, err error, detail string) {
	if b.d.Store == nil {
		return
	}
	cfg, _ := b.conf()
	e := storage.AuditEntry{
		At:            b.d.Now().UTC(),
		ActorID:       req.FromID,
		ActorUsername: req.FromUsername,
		ChatID:        req.Chat.ChatID,
		Action:        action,
		Target:        target,
		OK:            err == nil,
		Detail:        detail,
	}
	if err != nil {
		e.Error = err.Error()
	}
	if aerr := storage.AppendAudit(context.WithoutCancel(ctx), b.d.Store, e, cfg.AuditKeep); aerr != nil {
		req.Logger.Warn("audit append failed", logx.String("action", action), logx.Err(aerr))
	}
}

func userKey(id int64) string { return strconv.FormatInt(id, 10) }
