package bot

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"time"

	rtsup "drawbot/internal/runtime/supervisor"
	"drawbot/internal/storage"
	"drawbot/internal/task/scheduler"
	"drawbot/internal/transport/telegram/router"
	"drawbot/pkg/humandur"
	"drawbot/pkg/tgui"
)

// Health is the snapshot rendered by /health.
type Health struct {
	StartedAt   time.Time
	Supervisors map[string]rtsup.Snapshot
	Scheduler   scheduler.Snapshot
	Store       storage.Stats
	OpenCount   int
}

func (b *Bot) handleHealth(ctx context.Context, req *router.Request) error {
	if b.d.Health == nil {
		return req.Reply(ctx, tgui.Esc("health reporting is not configured").String())
	}
	return req.Reply(ctx, renderHealth(b.d.Health(ctx), b.d.Now()))
}

func renderHealth(h Health, now time.Time) string {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	bl := tgui.New().Line("🩺 " + tgui.B("Health"))
	if !h.StartedAt.IsZero() {
		bl.KV("Uptime", tgui.Esc(humandur.Format(now.Sub(h.StartedAt).Truncate(time.Second))))
	}
	bl.KV("Go", tgui.Esc(fmt.Sprintf("%s, %d goroutines, %d MiB heap", runtime.Version(), runtime.NumGoroutine(), ms.HeapAlloc>>20))).
		KV("Open drawings", tgui.Esc(fmt.Sprint(h.OpenCount)))

	s := h.Scheduler
	e := s.Engine
	bl.Blank().Line(tgui.B("Scheduler")).
		KV("Pending timers", tgui.Esc(fmt.Sprint(len(s.Jobs)))).
		KV("Fired / cancelled", tgui.Esc(fmt.Sprintf("%d / %d", s.Fired, s.Cancelled))).
		KV("Engine", tgui.Esc(fmt.Sprintf("queue %d/%d, in flight %d, ok %d, failed %d, panics %d",
			e.QueueLen, e.QueueCap, e.InFlight, e.Completed, e.Failed, e.Panics)))
	for _, si := range s.Schedules {
		line := tgui.Code(si.Name) + tgui.Esc(" "+si.Spec)
		if !si.Next.IsZero() {
			line += tgui.Esc(", next in " + humandur.Format(si.Next.Sub(now).Truncate(time.Second)))
		}
		bl.Line("• " + line)
	}

	st := h.Store
	bl.Blank().Line(tgui.B("Store")).
		KV("Driver", tgui.Esc(st.Driver)).
		KV("Ops", tgui.Esc(fmt.Sprintf("get %d, put %d, tx %d, aborted %d, failures %d", st.Gets, st.Puts, st.Transactions, st.Aborted, st.Failures))).
		KV("Lock wait", tgui.Esc(st.LockWait.Truncate(time.Millisecond).String()))

	if len(h.Supervisors) > 0 {
		names := make([]string, 0, len(h.Supervisors))
		for n := range h.Supervisors {
			names = append(names, n)
		}
		sort.Strings(names)
		bl.Blank().Line(tgui.B("Supervisors"))
		for _, n := range names {
			snap := h.Supervisors[n]
			var restarts, panics uint64
			for _, g := range snap.Goroutines {
				restarts += g.Restarts
				panics += g.Panics
			}
			line := tgui.Code(n) + tgui.Esc(fmt.Sprintf(" active %d, restarts %d, panics %d", snap.Counters.Active, restarts, panics))
			if snap.FirstError != "" {
				line += tgui.Esc(", err: " + tgui.TruncRunes(strings.TrimSpace(snap.FirstError), 80))
			}
			bl.Line("• " + line)
		}
	}
	return bl.Text()
}
