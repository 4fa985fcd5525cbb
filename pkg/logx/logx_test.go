package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"drawbot/internal/transport"
)

type recordingSender struct {
	mu    sync.Mutex
	texts []string
	sent  chan struct{}
}

func (r *recordingSender) Start(context.Context, chan<- transport.Update) error { return nil }
func (r *recordingSender) Stop(context.Context) error                           { return nil }
func (r *recordingSender) EditText(context.Context, transport.MessageRef, string, *transport.SendOptions) error {
	return nil
}
func (r *recordingSender) AnswerCallback(context.Context, string, string) error { return nil }
func (r *recordingSender) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	r.mu.Lock()
	r.texts = append(r.texts, text)
	r.mu.Unlock()
	r.sent <- struct{}{}
	return transport.MessageRef{ChatID: to.ChatID, MessageID: 1}, nil
}

func TestLoggerWritesFieldsInOrder(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := FromWriter(&buf, "debug").With(String("comp", "store"))
	log.Info("saved", String("comp", "scheduler"), Int("n", 3), Err(errors.New("boom")), Err(nil))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("decode: %v (%s)", err, buf.String())
	}
	if m["message"] != "saved" {
		t.Fatalf("message = %v", m["message"])
	}
	if m["n"] != float64(3) {
		t.Fatalf("n = %v", m["n"])
	}
	if m["err"] != "boom" {
		t.Fatalf("err = %v", m["err"])
	}
	if c, _ := m["caller"].(string); !strings.HasPrefix(c, "logx_test.go:") {
		t.Fatalf("caller = %q", c)
	}
	// zerolog keeps both keys; the call-site value comes last.
	if !strings.Contains(buf.String(), `"comp":"scheduler"`) {
		t.Fatalf("missing call-site field: %s", buf.String())
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := FromWriter(&buf, "warn")
	log.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info written at warn level: %s", buf.String())
	}
	if log.Enabled(LevelDebug) {
		t.Fatalf("debug should be disabled")
	}
	if !log.Enabled(LevelError) {
		t.Fatalf("error should be enabled")
	}
}

func TestZeroLoggerIsSilent(t *testing.T) {
	t.Parallel()

	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero value should report IsZero")
	}
	l.Error("nothing happens")
	Nop().With(String("a", "b")).Warn("still nothing")
}

func TestRenderRecordSortsKeys(t *testing.T) {
	t.Parallel()

	got := renderRecord([]byte(`{"level":"warn","message":"retry","zeta":1,"alpha":"x","time":"t"}`))
	want := "[WARN] retry\n- alpha=x\n- zeta=1"
	if got != want {
		t.Fatalf("renderRecord = %q, want %q", got, want)
	}
	if raw := renderRecord([]byte("  not json \n")); raw != "not json" {
		t.Fatalf("raw fallback = %q", raw)
	}
}

func TestServiceRelaysWarningsToChat(t *testing.T) {
	sender := &recordingSender{sent: make(chan struct{}, 4)}
	svc, log := New(Config{
		Level: "debug",
		Chat:  ChatConfig{Enabled: true, ChatID: -100, MinLevel: "warn", RatePerSec: 10},
	}, sender)
	defer svc.Close()

	log.Info("not relayed")
	log.Warn("drawing completion failed", String("drawing_id", "d1"))

	select {
	case <-sender.sent:
	case <-time.After(2 * time.Second):
		t.Fatalf("chat sink did not deliver")
	}
	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.texts) != 1 {
		t.Fatalf("texts = %v", sender.texts)
	}
	if !strings.HasPrefix(sender.texts[0], "[WARN] drawing completion failed") {
		t.Fatalf("text = %q", sender.texts[0])
	}
	if !strings.Contains(sender.texts[0], "drawing_id=d1") {
		t.Fatalf("text missing field: %q", sender.texts[0])
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"abcdefghijklmnop", 12, "abcdefghi..."},
		{"abcdef", 3, "abc"},
		{"abc", 0, "abc"},
	}
	for _, tc := range cases {
		if got := truncate(tc.in, tc.n); got != tc.want {
			t.Fatalf("truncate(%q,%d) = %q, want %q", tc.in, tc.n, got, tc.want)
		}
	}
}
