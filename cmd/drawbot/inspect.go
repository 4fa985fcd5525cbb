package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"drawbot/internal/app"
	"drawbot/internal/config"
	"drawbot/internal/drawing"
	"drawbot/internal/storage"
	"drawbot/pkg/humandur"
	logx "drawbot/pkg/logx"
)

type CheckConfigCmd struct{}

func (CheckConfigCmd) Run(cli *CLI) error {
	cfg, err := cli.loadConfig()
	if err != nil {
		return err
	}
	return printSummary(os.Stdout, cli.Config, cfg)
}

func printSummary(w io.Writer, path string, cfg *config.Config) error {
	location := cfg.Storage.Dir
	if cfg.Storage.Driver == "sqlite" {
		location = cfg.Storage.Path
	}
	tz := cfg.Scheduler.Timezone
	if tz == "" {
		tz = "UTC"
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "config\t%s (ok)\n", path)
	fmt.Fprintf(tw, "token\t%s\n", setOrMissing(cfg.Telegram.Token))
	fmt.Fprintf(tw, "owners\t%d\n", len(cfg.Telegram.OwnerUserIDs))
	fmt.Fprintf(tw, "storage\t%s %s\n", cfg.Storage.Driver, location)
	fmt.Fprintf(tw, "timezone\t%s\n", tz)
	fmt.Fprintf(tw, "housekeeping\t%t (sweep %q, prune %q)\n", cfg.Scheduler.Enabled, cfg.Scheduler.SweepSchedule, cfg.Scheduler.PruneSchedule)
	fmt.Fprintf(tw, "moderation\t%t (threshold %.2f)\n", cfg.Moderation.Enabled, cfg.Moderation.Threshold)
	fmt.Fprintf(tw, "diagnostics\t%t\n", cfg.Pprof.Enabled)
	return tw.Flush()
}

func setOrMissing(s string) string {
	if strings.TrimSpace(s) == "" {
		return "missing"
	}
	return "set"
}

// openStore opens the configured store for offline commands.
func openStore(cli *CLI) (storage.Store, error) {
	cfg, err := cli.loadConfig()
	if err != nil {
		return nil, err
	}
	log := logx.FromWriter(os.Stderr, cli.LogLevel).With(logx.String("comp", "storage"))
	return app.OpenStore(cfg, log)
}

type DrawingsCmd struct {
	List DrawingsListCmd `cmd:"" help:"List drawings."`
	Show DrawingsShowCmd `cmd:"" help:"Show one drawing as JSON."`
}

type DrawingsListCmd struct {
	All  bool  `help:"Include completed drawings."`
	Chat int64 `help:"Only drawings started in this chat."`
}

func (c *DrawingsListCmd) Run(cli *CLI) error {
	st, err := openStore(cli)
	if err != nil {
		return err
	}
	defer st.Close()

	ds, err := loadDrawings(context.Background(), st)
	if err != nil {
		return err
	}
	out := ds[:0]
	for _, d := range ds {
		if !c.All && d.Completed {
			continue
		}
		if c.Chat != 0 && d.Owner.ChatID != c.Chat {
			continue
		}
		out = append(out, d)
	}
	return printDrawings(os.Stdout, out, time.Now())
}

func loadDrawings(ctx context.Context, st storage.Store) ([]drawing.Drawing, error) {
	c, err := st.Get(ctx, drawing.CollectionDrawings)
	if err != nil {
		return nil, err
	}
	recs, err := storage.DecodeRecords[drawing.Drawing](c)
	if err != nil {
		return nil, err
	}
	out := make([]drawing.Drawing, 0, len(recs))
	for _, d := range recs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DueAt.Equal(out[j].DueAt) {
			return out[i].DueAt.Before(out[j].DueAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func printDrawings(w io.Writer, ds []drawing.Drawing, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCHAT\tPRIZE\tDUE\tSTATE\tWINNERS")
	for _, d := range ds {
		state := "open, " + humandur.Format(d.Remaining(now)) + " left"
		if d.Completed {
			state = "completed"
		} else if !now.Before(d.DueAt) {
			state = "overdue"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\n",
			d.ID, d.Owner.ChatID, d.Prize, d.DueAt.UTC().Format(time.RFC3339), state, strings.Join(d.Winners, ","))
	}
	return tw.Flush()
}

type DrawingsShowCmd struct {
	ID string `arg:"" help:"Drawing id."`
}

func (c *DrawingsShowCmd) Run(cli *CLI) error {
	st, err := openStore(cli)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	content, err := st.Get(ctx, drawing.CollectionDrawings)
	if err != nil {
		return err
	}
	d, ok, err := storage.GetRecord[drawing.Drawing](content, c.ID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("drawing %s not found", c.ID)
	}
	entries := 0
	if !d.Completed && !d.Announcement.IsZero() {
		if entries, err = drawing.NewEntryBook(st).Count(ctx, d.Announcement); err != nil {
			return err
		}
	}
	return writeJSON(os.Stdout, struct {
		drawing.Drawing
		OpenEntries int `json:"open_entries"`
	}{d, entries})
}

type StoreCmd struct {
	Dump  StoreDumpCmd  `cmd:"" help:"Print a collection as JSON, or the store summary when none is named."`
	Sweep StoreSweepCmd `cmd:"" help:"Remove temp files left by interrupted writes. Do not run against a live bot."`
}

type StoreDumpCmd struct {
	Collection string `arg:"" optional:"" help:"Collection name."`
}

func (c *StoreDumpCmd) Run(cli *CLI) error {
	st, err := openStore(cli)
	if err != nil {
		return err
	}
	defer st.Close()
	return dump(context.Background(), os.Stdout, st, c.Collection)
}

func dump(ctx context.Context, w io.Writer, st storage.Store, collection string) error {
	if collection == "" {
		schema := st.Schema()
		names := make([]string, 0, len(schema))
		for name := range schema {
			names = append(names, name)
		}
		sort.Strings(names)
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "COLLECTION\tSHAPE\tLEN")
		for _, name := range names {
			content, err := st.Get(ctx, name)
			if err != nil {
				return err
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\n", name, schema[name], content.Len())
		}
		return tw.Flush()
	}

	content, err := st.Get(ctx, collection)
	if err != nil {
		return err
	}
	if content.Shape == storage.ShapeSequence {
		return writeJSON(w, content.Entries)
	}
	return writeJSON(w, content.Records)
}

type StoreSweepCmd struct{}

func (StoreSweepCmd) Run(cli *CLI) error {
	st, err := openStore(cli)
	if err != nil {
		return err
	}
	defer st.Close()
	n, err := storage.SweepTemp(context.Background(), st)
	if err != nil {
		return err
	}
	fmt.Printf("removed %d temp file(s)\n", n)
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
