package moderation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"drawbot/internal/storage"
	"drawbot/internal/transport"
	logx "drawbot/pkg/logx"
	"drawbot/pkg/tgui"
)

// CollectionLogs is the sequence collection of moderation actions.
const CollectionLogs = "moderation_logs"

// Schema returns the collections this package owns.
func Schema() storage.Schema { return storage.Schema{CollectionLogs: storage.ShapeSequence} }

// LogEntry is one appended moderation action.
type LogEntry struct {
	Type       string    `json:"type"`
	Action     Action    `json:"action"`
	Reason     string    `json:"reason"`
	Confidence float64   `json:"confidence"`
	ChatID     int64     `json:"chat_id"`
	MessageID  int       `json:"message_id"`
	UserID     int64     `json:"user_id"`
	Username   string    `json:"username,omitempty"`
	Content    string    `json:"content"`
	Factors    []string  `json:"factors,omitempty"`
	At         time.Time `json:"at"`
}

type GuardConfig struct {
	Enabled   bool
	Threshold float64
	// MuteFor is how long a blocked sender is silenced (0 skips muting).
	MuteFor time.Duration
	// WarnTTL removes the warning after this long (0 keeps it).
	WarnTTL time.Duration
	// Keep bounds moderation_logs (0 keeps everything).
	Keep int
}

// Guard applies verdicts to incoming group messages.
type Guard struct {
	mu  sync.RWMutex
	cfg GuardConfig

	st  storage.Store
	ad  transport.Adapter
	log logx.Logger
	now func() time.Time
	// after schedules warning removal; swapped in tests.
	after func(time.Duration, func())
}

func NewGuard(cfg GuardConfig, st storage.Store, ad transport.Adapter, log logx.Logger) *Guard {
	if log.IsZero() {
		log = logx.Nop()
	}
	g := &Guard{st: st, ad: ad, log: log, now: time.Now}
	g.after = func(d time.Duration, fn func()) { time.AfterFunc(d, fn) }
	g.Apply(cfg)
	return g
}

func (g *Guard) Apply(cfg GuardConfig) {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	g.mu.Lock()
	g.cfg = cfg
	g.mu.Unlock()
}

func (g *Guard) SetAdapter(ad transport.Adapter) {
	g.mu.Lock()
	g.ad = ad
	g.mu.Unlock()
}

func (g *Guard) snapshot() (GuardConfig, transport.Adapter) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cfg, g.ad
}

// Check analyses m and, when it is blocked, deletes it, mutes the sender,
// posts a warning and logs the action. It reports whether m was blocked;
// transport failures are logged and do not undo the block.
func (g *Guard) Check(ctx context.Context, m *transport.Message) (Verdict, bool, error) {
	cfg, ad := g.snapshot()
	if !cfg.Enabled || m == nil || !m.IsGroup || m.Text == "" {
		return Verdict{Action: ActionNone}, false, nil
	}

	v := Analyzer{Threshold: cfg.Threshold}.Analyze(m.Text, m.Entities)
	if !v.Blocked() {
		return v, false, nil
	}

	log := g.log.With(
		logx.Int64("chat_id", m.ChatID),
		logx.Int64("user_id", m.FromID),
		logx.String("reason", v.Reason),
	)
	ref := transport.MessageRef{ChatID: m.ChatID, ThreadID: m.ThreadID, MessageID: m.ID}

	if ad != nil {
		if del, ok := ad.(transport.MessageDeleter); ok {
			if err := del.DeleteMessage(ctx, ref); err != nil {
				log.Warn("moderation delete failed", logx.Err(err))
			}
		}
		if mu, ok := ad.(transport.Muter); ok && cfg.MuteFor > 0 {
			if err := mu.Mute(ctx, m.ChatID, m.FromID, cfg.MuteFor); err != nil {
				log.Debug("moderation mute failed", logx.Err(err))
			}
		}
		g.warn(ctx, ad, cfg, m, v, log)
	}

	entry := LogEntry{
		Type:       "auto_moderation",
		Action:     v.Action,
		Reason:     v.Reason,
		Confidence: v.Confidence,
		ChatID:     m.ChatID,
		MessageID:  m.ID,
		UserID:     m.FromID,
		Username:   m.FromUsername,
		Content:    tgui.TruncRunes(m.Text, 200),
		Factors:    v.Factors,
		At:         g.now().UTC(),
	}
	if err := g.append(ctx, entry, cfg.Keep); err != nil {
		log.Error("moderation log append failed", logx.Err(err))
		return v, true, err
	}
	log.Info("message blocked", logx.Float64("confidence", v.Confidence), logx.Bool("quick", v.QuickBlock))
	return v, true, nil
}

func (g *Guard) warn(ctx context.Context, ad transport.Adapter, cfg GuardConfig, m *transport.Message, v Verdict, log logx.Logger) {
	name := m.FromName
	if m.FromUsername != "" {
		name = "@" + m.FromUsername
	}
	text := "⚠️ " + tgui.Mention(name, m.FromID) + tgui.Esc(", your message was removed: ") + tgui.B(v.Reason) + tgui.Esc(".")
	if cfg.MuteFor > 0 {
		text += tgui.Esc(fmt.Sprintf(" You are muted for %s.", cfg.MuteFor))
	}
	sent, err := ad.SendText(ctx, transport.ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID}, text.String(),
		&transport.SendOptions{ParseMode: "HTML", DisablePreview: true})
	if err != nil {
		log.Warn("moderation warning failed", logx.Err(err))
		return
	}
	del, ok := ad.(transport.MessageDeleter)
	if !ok || cfg.WarnTTL <= 0 {
		return
	}
	g.after(cfg.WarnTTL, func() {
		c, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := del.DeleteMessage(c, sent); err != nil {
			log.Debug("moderation warning cleanup failed", logx.Err(err))
		}
	})
}

func (g *Guard) append(ctx context.Context, e LogEntry, keep int) error {
	_, err := g.st.Transact(ctx, CollectionLogs, func(c storage.Content) (storage.Content, error) {
		if err := storage.AppendEntry(&c, e); err != nil {
			return c, err
		}
		if keep > 0 && len(c.Entries) > keep {
			c.Entries = c.Entries[len(c.Entries)-keep:]
		}
		return c, nil
	})
	return err
}

// Logs returns every recorded moderation action, oldest first.
func (g *Guard) Logs(ctx context.Context) ([]LogEntry, error) {
	c, err := g.st.Get(ctx, CollectionLogs)
	if err != nil {
		return nil, err
	}
	return storage.DecodeEntries[LogEntry](c)
}
