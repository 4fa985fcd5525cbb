package moderation

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"drawbot/internal/storage"
	"drawbot/internal/transport"
	logx "drawbot/pkg/logx"

	"github.com/stretchr/testify/require"
)

func TestAnalyze(t *testing.T) {
	a := Analyzer{}
	cases := []struct {
		name    string
		text    string
		blocked bool
		reason  string
	}{
		{"clean", "good luck everyone, see you at the draw", false, ReasonNone},
		{"link", "free stuff at https://example.com", true, ReasonLink},
		{"invite", "join discord.gg/abc-123", true, ReasonLink},
		{"threat", "you should kys", true, ReasonHate},
		{"threat softened", "kys lol", false, ReasonNone},
		{"single swear", "oh shit", false, ReasonNone},
		{"abuse", "fuck you", true, ReasonAbuse},
		{"swear with question", "what the fuck?", false, ReasonNone},
		{"repeat", "heyyyyyyyyyyyyyyyy", true, ReasonAbuse},
		{"mentions", "@alice @bobby @carol @daves look", true, ReasonMentions},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := a.Analyze(tc.text, 0)
			require.Equal(t, tc.blocked, v.Blocked(), "confidence %.2f factors %v", v.Confidence, v.Factors)
			require.Equal(t, tc.reason, v.Reason)
		})
	}
}

func TestAnalyzeAllCapsAndEntityMentions(t *testing.T) {
	long := strings.Repeat("WIN BIG NOW ", 20)
	v := Analyzer{}.Analyze(long, 0)
	require.True(t, v.Blocked())
	require.Equal(t, ReasonCaps, v.Reason)

	v = Analyzer{}.Analyze("hi all", 5)
	require.True(t, v.Blocked())
	require.Equal(t, ReasonMentions, v.Reason)
	require.InDelta(t, 0.75, v.Confidence, 1e-9)
}

func TestAnalyzeThreshold(t *testing.T) {
	require.False(t, Analyzer{}.Analyze("fuck", 0).Blocked())
	require.True(t, Analyzer{Threshold: 0.3}.Analyze("fuck", 0).Blocked())
}

func TestLongestRun(t *testing.T) {
	require.Equal(t, 0, longestRun(""))
	require.Equal(t, 1, longestRun("abc"))
	require.Equal(t, 4, longestRun("aAaA b"))
}

type fakeAdapter struct {
	mu      sync.Mutex
	deleted []transport.MessageRef
	muted   []int64
	sent    []string
}

func (f *fakeAdapter) Start(context.Context, chan<- transport.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                           { return nil }
func (f *fakeAdapter) EditText(context.Context, transport.MessageRef, string, *transport.SendOptions) error {
	return nil
}
func (f *fakeAdapter) AnswerCallback(context.Context, string, string) error { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return transport.MessageRef{ChatID: to.ChatID, MessageID: 900 + len(f.sent)}, nil
}

func (f *fakeAdapter) DeleteMessage(_ context.Context, ref transport.MessageRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ref)
	return nil
}

func (f *fakeAdapter) Mute(_ context.Context, _, userID int64, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.muted = append(f.muted, userID)
	return nil
}

func newGuard(t *testing.T, cfg GuardConfig) (*Guard, *fakeAdapter) {
	t.Helper()
	st, err := storage.Open(storage.Config{Dir: t.TempDir()}, Schema(), logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	ad := &fakeAdapter{}
	return NewGuard(cfg, st, ad, logx.Nop()), ad
}

func TestGuardBlocksAndLogs(t *testing.T) {
	g, ad := newGuard(t, GuardConfig{Enabled: true, MuteFor: 5 * time.Minute, WarnTTL: 10 * time.Second})
	var cleanup func()
	g.after = func(_ time.Duration, fn func()) { cleanup = fn }

	msg := &transport.Message{ID: 7, ChatID: -100, FromID: 55, FromUsername: "spam", Text: "see https://x.io", IsGroup: true}
	v, blocked, err := g.Check(context.Background(), msg)
	require.NoError(t, err)
	require.True(t, blocked)
	require.True(t, v.QuickBlock)

	require.Equal(t, []transport.MessageRef{{ChatID: -100, MessageID: 7}}, ad.deleted)
	require.Equal(t, []int64{55}, ad.muted)
	require.Len(t, ad.sent, 1)
	require.Contains(t, ad.sent[0], "@spam")

	require.NotNil(t, cleanup)
	cleanup()
	require.Len(t, ad.deleted, 2)
	require.Equal(t, 901, ad.deleted[1].MessageID)

	logs, err := g.Logs(context.Background())
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, ReasonLink, logs[0].Reason)
	require.Equal(t, int64(55), logs[0].UserID)
	require.Equal(t, "see https://x.io", logs[0].Content)
}

func TestGuardIgnoresCleanPrivateAndDisabled(t *testing.T) {
	g, ad := newGuard(t, GuardConfig{Enabled: true})

	_, blocked, err := g.Check(context.Background(), &transport.Message{ChatID: -1, Text: "hello there", IsGroup: true})
	require.NoError(t, err)
	require.False(t, blocked)

	_, blocked, _ = g.Check(context.Background(), &transport.Message{ChatID: 5, Text: "https://x.io"})
	require.False(t, blocked)

	g.Apply(GuardConfig{Enabled: false})
	_, blocked, _ = g.Check(context.Background(), &transport.Message{ChatID: -1, Text: "https://x.io", IsGroup: true})
	require.False(t, blocked)

	require.Empty(t, ad.deleted)
	logs, err := g.Logs(context.Background())
	require.NoError(t, err)
	require.Empty(t, logs)
}

func TestGuardKeepBoundsLog(t *testing.T) {
	g, _ := newGuard(t, GuardConfig{Enabled: true, Keep: 2})
	for i := 0; i < 3; i++ {
		_, blocked, err := g.Check(context.Background(), &transport.Message{ID: i, ChatID: -1, Text: "bit.ly/x", IsGroup: true})
		require.NoError(t, err)
		require.True(t, blocked)
	}
	logs, err := g.Logs(context.Background())
	require.NoError(t, err)
	require.Len(t, logs, 2)
	require.Equal(t, 1, logs[0].MessageID)
}
