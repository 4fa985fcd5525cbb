package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"drawbot/internal/app"
	"drawbot/internal/drawing"
	"drawbot/internal/storage"
	logx "drawbot/pkg/logx"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T) (path, dataDir string) {
	t.Helper()
	dir := t.TempDir()
	dataDir = filepath.Join(dir, "data")
	path = filepath.Join(dir, "config.json")
	body := `{
  "telegram": {"token": "test", "owner_user_ids": [1, 2]},
  "storage": {"driver": "file", "dir": "` + dataDir + `"},
  "scheduler": {"enabled": true, "timezone": "Europe/Berlin", "prune_schedule": "@daily"}
}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path, dataDir
}

func parse(t *testing.T, args ...string) (*CLI, *kong.Context) {
	t.Helper()
	var cli CLI
	parser, err := kong.New(&cli, kong.Vars{"version": "test"})
	require.NoError(t, err)
	ctx, err := parser.Parse(args)
	require.NoError(t, err)
	return &cli, ctx
}

func TestParseDefaultsToRun(t *testing.T) {
	cli, ctx := parse(t)
	require.Equal(t, "run", ctx.Command())
	require.Equal(t, "config.json", filepath.Base(cli.Config))
	require.Equal(t, 15*time.Second, cli.Run.StopTimeout)
}

func TestParseSubcommands(t *testing.T) {
	cli, ctx := parse(t, "-c", "bot.yaml", "drawings", "list", "--all", "--chat=-100")
	require.Equal(t, "drawings list", ctx.Command())
	require.True(t, cli.Drawings.List.All)
	require.Equal(t, int64(-100), cli.Drawings.List.Chat)
	require.Equal(t, "bot.yaml", filepath.Base(cli.Config))

	cli, ctx = parse(t, "drawings", "show", "abc")
	require.Equal(t, "drawings show <id>", ctx.Command())
	require.Equal(t, "abc", cli.Drawings.Show.ID)

	_, ctx = parse(t, "store", "dump")
	require.Equal(t, "store dump", ctx.Command())

	_, ctx = parse(t, "check-config")
	require.Equal(t, "check-config", ctx.Command())
}

func TestDotenvDoesNotOverrideProcessEnv(t *testing.T) {
	env := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(env, []byte("DRAWBOT_TEST_A=from-file\nDRAWBOT_TEST_B=from-file\n"), 0o600))
	t.Setenv("DRAWBOT_TEST_A", "from-process")
	t.Cleanup(func() { _ = os.Unsetenv("DRAWBOT_TEST_B") })

	cli := &CLI{EnvFile: env}
	require.NoError(t, cli.AfterApply())
	require.Equal(t, "from-process", os.Getenv("DRAWBOT_TEST_A"))
	require.Equal(t, "from-file", os.Getenv("DRAWBOT_TEST_B"))

	cli.EnvFile = filepath.Join(t.TempDir(), "missing.env")
	require.NoError(t, cli.AfterApply())
}

func TestPrintSummary(t *testing.T) {
	path, dataDir := writeConfig(t)
	cli := &CLI{Config: path}
	cfg, err := cli.loadConfig()
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, printSummary(&buf, path, cfg))
	out := buf.String()
	require.Contains(t, out, "token")
	require.Contains(t, out, "set")
	require.Contains(t, out, "file "+dataDir)
	require.Contains(t, out, "Europe/Berlin")
	require.NotContains(t, out, `"test"`)
}

func TestDrawingsListAndDump(t *testing.T) {
	path, _ := writeConfig(t)
	cli := &CLI{Config: path}
	cfg, err := cli.loadConfig()
	require.NoError(t, err)
	st, err := app.OpenStore(cfg, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	content := storage.Empty(storage.ShapeMap)
	for _, d := range []drawing.Drawing{
		{ID: "late", Owner: drawing.Owner{ChatID: -1}, Prize: "Mug", WinnersRequested: 1, DueAt: now.Add(2 * time.Hour)},
		{ID: "early", Owner: drawing.Owner{ChatID: -2}, Prize: "Shirt", WinnersRequested: 1, DueAt: now.Add(time.Hour)},
		{ID: "done", Owner: drawing.Owner{ChatID: -1}, Prize: "Pen", WinnersRequested: 1, DueAt: now.Add(-time.Hour), Completed: true, Winners: []string{"42"}},
	} {
		require.NoError(t, storage.SetRecord(&content, d.ID, d))
	}
	require.NoError(t, st.Put(ctx, drawing.CollectionDrawings, content))

	ds, err := loadDrawings(ctx, st)
	require.NoError(t, err)
	require.Len(t, ds, 3)
	require.Equal(t, []string{"done", "early", "late"}, []string{ds[0].ID, ds[1].ID, ds[2].ID})

	var buf bytes.Buffer
	require.NoError(t, printDrawings(&buf, ds, now))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	require.Contains(t, lines[1], "completed")
	require.Contains(t, lines[1], "42")
	require.Contains(t, lines[2], "open")

	buf.Reset()
	require.NoError(t, dump(ctx, &buf, st, ""))
	require.Contains(t, buf.String(), drawing.CollectionDrawings)
	require.Contains(t, buf.String(), "map")

	buf.Reset()
	require.NoError(t, dump(ctx, &buf, st, drawing.CollectionDrawings))
	require.Contains(t, buf.String(), `"prize": "Shirt"`)
}
