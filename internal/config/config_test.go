package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func noEnv(string) (string, bool) { return "", false }

func TestParseYAMLAppliesDefaults(t *testing.T) {
	t.Parallel()

	p := writeFile(t, t.TempDir(), "config.yaml", `
telegram:
  token: abc
  owner_user_ids: [42]
storage:
  driver: sqlite
  dir: /var/lib/drawbot
`)
	m := NewConfigManager(p)
	m.SetEnvLookup(noEnv)
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Storage.Path != "/var/lib/drawbot/drawbot.db" {
		t.Fatalf("storage.path = %q", cfg.Storage.Path)
	}
	if got := strings.Join(cfg.Drawing.ExternalBackoff, ","); got != "1s,2s" {
		t.Fatalf("external_backoff = %q", got)
	}
	if cfg.TaskEngine.Workers != 2 || cfg.TaskEngine.RetryMax != 3 {
		t.Fatalf("task_engine defaults = %+v", cfg.TaskEngine)
	}
	if cfg.Moderation.ExemptOwners == nil || !*cfg.Moderation.ExemptOwners {
		t.Fatalf("moderation.exempt_owners should default to true")
	}
}

func TestParseRejectsUnknownFieldsAndTrailingData(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cases := map[string]string{
		"unknown.json":  `{"telegram":{"token":"x"},"plugins":{}}`,
		"trailing.json": `{"telegram":{"token":"x"}} {}`,
		"baddur.json":   `{"drawing":{"external_backoff":["1s","soon"]}}`,
		"driver.json":   `{"storage":{"driver":"redis"}}`,
	}
	for name, body := range cases {
		m := NewConfigManager(writeFile(t, dir, name, body))
		m.SetEnvLookup(noEnv)
		if _, err := m.Parse(); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Parallel()

	p := writeFile(t, t.TempDir(), "config.json", `{"telegram":{"token":"from-file"}}`)
	env := map[string]string{
		"DRAWBOT_TELEGRAM_TOKEN": "from-env",
		"DRAWBOT_OWNER_USER_IDS": "1, 2;3",
		"DRAWBOT_STORAGE_DIR":    "/tmp/x",
	}
	m := NewConfigManager(p)
	m.SetEnvLookup(func(k string) (string, bool) { v, ok := env[k]; return v, ok })
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Telegram.Token != "from-env" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if len(cfg.Telegram.OwnerUserIDs) != 3 || cfg.Telegram.OwnerUserIDs[2] != 3 {
		t.Fatalf("owners = %v", cfg.Telegram.OwnerUserIDs)
	}
	if cfg.Storage.Dir != "/tmp/x" {
		t.Fatalf("storage.dir = %q", cfg.Storage.Dir)
	}

	env["DRAWBOT_OWNER_USER_IDS"] = "nope"
	if _, err := m.Parse(); err == nil {
		t.Fatalf("expected owner id parse error")
	}
}

func TestSummarizeConfigChangeHidesSecrets(t *testing.T) {
	t.Parallel()

	a := &Config{}
	ApplyDefaults(a)
	b := *a
	b.Telegram.Token = "secret"
	b.Pprof.Token = "also-secret"
	b.Drawing.MaxWinners = 10

	sections, attrs := SummarizeConfigChange(a, &b)
	want := []string{"drawing", "pprof", "telegram"}
	if strings.Join(sections, ",") != strings.Join(want, ",") {
		t.Fatalf("sections = %v, want %v", sections, want)
	}
	if len(attrs) == 0 {
		t.Fatalf("expected attrs")
	}
	if got := RestartRequired([]string{"drawing", "storage"}); len(got) != 1 || got[0] != "storage" {
		t.Fatalf("RestartRequired = %v", got)
	}
}

func TestPublishDropsOldestForSlowSubscriber(t *testing.T) {
	t.Parallel()

	m := NewConfigManager("unused.json")
	ch := m.Subscribe(1)
	first, second := &Config{}, &Config{}
	m.publish(first)
	m.publish(second)
	if got := <-ch; got != second {
		t.Fatalf("expected newest config to survive")
	}
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed after unsubscribe")
	}
}

func TestWatchPublishesValidatedReload(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "config.json", `{"drawing":{"max_winners":5}}`)
	m := NewConfigManager(p)
	m.SetEnvLookup(noEnv)
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	m.SetValidator(func(_ context.Context, cfg *Config) error { return nil })
	sub := m.Subscribe(4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { _ = m.Watch(ctx); close(done) }()

	// give the watcher a moment to register
	time.Sleep(200 * time.Millisecond)
	writeFile(t, dir, "config.json", `{"drawing":{"max_winners":9}}`)

	select {
	case cfg := <-sub:
		if cfg.Drawing.MaxWinners != 9 {
			t.Fatalf("max_winners = %d", cfg.Drawing.MaxWinners)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no reload published")
	}
	cancel()
	<-done
}

func TestParseDurationList(t *testing.T) {
	t.Parallel()

	got, err := ParseDurationList("x", []string{"1s", "", "250ms"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []time.Duration{time.Second, 0, 250 * time.Millisecond}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if _, err := ParseDurationList("x", []string{"-1s"}); err == nil {
		t.Fatalf("negative duration should fail")
	}
}
