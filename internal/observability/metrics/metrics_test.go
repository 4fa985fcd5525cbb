package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"drawbot/internal/drawing"
	"drawbot/internal/eventbus"
	"drawbot/internal/notifier"
	"drawbot/internal/storage"
	"drawbot/internal/task/engine"
	"drawbot/internal/task/scheduler"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func gather(t *testing.T, r *Recorder) map[string]*dto.MetricFamily {
	t.Helper()
	mfs, err := r.Registry().Gather()
	require.NoError(t, err)
	out := make(map[string]*dto.MetricFamily, len(mfs))
	for _, mf := range mfs {
		out[mf.GetName()] = mf
	}
	return out
}

func counterValue(mf *dto.MetricFamily, labels map[string]string) float64 {
	for _, m := range mf.GetMetric() {
		match := true
		for _, lp := range m.GetLabel() {
			if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
				match = false
			}
		}
		if match {
			return m.GetCounter().GetValue()
		}
	}
	return -1
}

func TestObserveEvents(t *testing.T) {
	r := New(Sources{})

	r.Observe(eventbus.Event{Type: drawing.EventStarted, Data: drawing.Event{ID: "a"}})
	r.Observe(eventbus.Event{Type: drawing.EventCompleted, Data: drawing.Event{ID: "a", Winners: []string{"1", "2"}, Entrants: 9}})
	r.Observe(eventbus.Event{Type: engine.EventFailed, Data: engine.TaskEvent{Name: "job:a", Duration: time.Second}})
	r.Observe(eventbus.Event{Type: engine.EventFinished, Data: engine.TaskEvent{Name: "drawings.prune"}})
	r.Observe(eventbus.Event{Type: "notifier.sent", Data: notifier.NotificationEvent{Channel: "telegram"}})
	r.Observe(eventbus.Event{Type: "other", Data: 42})

	m := gather(t, r)
	require.Equal(t, 1.0, counterValue(m["drawbot_drawings_total"], map[string]string{"event": "started"}))
	require.Equal(t, 1.0, counterValue(m["drawbot_drawings_total"], map[string]string{"event": "completed"}))
	require.Equal(t, 1.0, counterValue(m["drawbot_tasks_total"], map[string]string{"task": "job", "result": "failed"}))
	require.Equal(t, 1.0, counterValue(m["drawbot_tasks_total"], map[string]string{"task": "drawings.prune", "result": "ok"}))
	require.Equal(t, 1.0, counterValue(m["drawbot_notifications_total"], map[string]string{"channel": "telegram", "result": "sent"}))

	h := m["drawbot_drawing_entrants"].GetMetric()[0].GetHistogram()
	require.Equal(t, uint64(1), h.GetSampleCount())
	require.Equal(t, 9.0, h.GetSampleSum())
}

func TestSourcesReadAtScrape(t *testing.T) {
	var tx uint64 = 3
	r := New(Sources{
		Scheduler: func() scheduler.Snapshot {
			return scheduler.Snapshot{Jobs: make([]scheduler.JobInfo, 2), Engine: engine.Snapshot{QueueLen: 5}}
		},
		Store:    func() storage.Stats { return storage.Stats{Transactions: tx} },
		BusDrops: func() uint64 { return 7 },
	})

	m := gather(t, r)
	require.Equal(t, 2.0, m["drawbot_scheduler_pending_jobs"].GetMetric()[0].GetGauge().GetValue())
	require.Equal(t, 5.0, m["drawbot_engine_queue_length"].GetMetric()[0].GetGauge().GetValue())
	require.Equal(t, 3.0, m["drawbot_store_transactions_total"].GetMetric()[0].GetCounter().GetValue())
	require.Equal(t, 7.0, m["drawbot_eventbus_dropped_total"].GetMetric()[0].GetCounter().GetValue())

	tx = 10
	m = gather(t, r)
	require.Equal(t, 10.0, m["drawbot_store_transactions_total"].GetMetric()[0].GetCounter().GetValue())
}

func TestRunConsumesBusAndServes(t *testing.T) {
	bus := eventbus.New()
	r := New(Sources{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx, bus)
		close(done)
	}()

	require.Eventually(t, func() bool {
		bus.Publish(eventbus.Event{Type: drawing.EventRerolled, Data: drawing.Event{ID: "x", Winners: []string{"1"}}})
		return counterValue(gather(t, r)["drawbot_drawings_total"], map[string]string{"event": "rerolled"}) >= 1
	}, 2*time.Second, 10*time.Millisecond)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "drawbot_drawings_total"))

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
