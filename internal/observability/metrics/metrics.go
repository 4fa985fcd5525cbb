// Package metrics exports drawbot counters and gauges to Prometheus.
//
// Counters are fed from the event bus; gauges read component snapshots at
// scrape time.
package metrics

import (
	"context"
	"net/http"
	"strings"

	"drawbot/internal/drawing"
	"drawbot/internal/eventbus"
	"drawbot/internal/notifier"
	"drawbot/internal/storage"
	"drawbot/internal/task/engine"
	"drawbot/internal/task/scheduler"

	prom "github.com/prometheus/client_golang/prometheus"
	promcollect "github.com/prometheus/client_golang/prometheus/collectors"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "drawbot"

// Sources are read at scrape time. Nil funcs export zero.
type Sources struct {
	Scheduler func() scheduler.Snapshot
	Store     func() storage.Stats
	BusDrops  func() uint64
}

type Recorder struct {
	reg *prom.Registry

	drawings      *prom.CounterVec
	entrants      prom.Histogram
	winners       prom.Histogram
	tasks         *prom.CounterVec
	taskDuration  *prom.HistogramVec
	notifications *prom.CounterVec
}

// New builds a private registry with the Go and process collectors plus
// drawbot's own metrics.
func New(src Sources) *Recorder {
	r := &Recorder{reg: prom.NewRegistry()}
	r.drawings = prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "drawings_total",
		Help:      "Drawing lifecycle events by type",
	}, []string{"event"})
	r.entrants = prom.NewHistogram(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "drawing_entrants",
		Help:      "Entrants per completed drawing",
		Buckets:   prom.ExponentialBuckets(1, 4, 7),
	})
	r.winners = prom.NewHistogram(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "drawing_winners",
		Help:      "Winners drawn per completion or reroll",
		Buckets:   prom.LinearBuckets(0, 1, 11),
	})
	r.tasks = prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_total",
		Help:      "Task engine runs by task name and result",
	}, []string{"task", "result"})
	r.taskDuration = prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "task_duration_seconds",
		Help:      "Task run duration including retries",
		Buckets:   prom.DefBuckets,
	}, []string{"task"})
	r.notifications = prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Notifier outcomes by channel and result",
	}, []string{"channel", "result"})

	r.reg.MustRegister(r.drawings, r.entrants, r.winners, r.tasks, r.taskDuration, r.notifications)
	r.reg.MustRegister(
		prom.NewGaugeFunc(prom.GaugeOpts{Namespace: namespace, Name: "scheduler_pending_jobs", Help: "One-shot completion timers currently armed"}, func() float64 {
			if src.Scheduler == nil {
				return 0
			}
			return float64(len(src.Scheduler().Jobs))
		}),
		prom.NewGaugeFunc(prom.GaugeOpts{Namespace: namespace, Name: "engine_queue_length", Help: "Tasks waiting for a worker"}, func() float64 {
			if src.Scheduler == nil {
				return 0
			}
			return float64(src.Scheduler().Engine.QueueLen)
		}),
		prom.NewGaugeFunc(prom.GaugeOpts{Namespace: namespace, Name: "engine_in_flight", Help: "Tasks currently running"}, func() float64 {
			if src.Scheduler == nil {
				return 0
			}
			return float64(src.Scheduler().Engine.InFlight)
		}),
		prom.NewCounterFunc(prom.CounterOpts{Namespace: namespace, Name: "store_transactions_total", Help: "Store read-modify-write transactions"}, func() float64 {
			if src.Store == nil {
				return 0
			}
			return float64(src.Store().Transactions)
		}),
		prom.NewCounterFunc(prom.CounterOpts{Namespace: namespace, Name: "store_failures_total", Help: "Store operations that failed with an I/O error"}, func() float64 {
			if src.Store == nil {
				return 0
			}
			return float64(src.Store().Failures)
		}),
		prom.NewCounterFunc(prom.CounterOpts{Namespace: namespace, Name: "eventbus_dropped_total", Help: "Events dropped because a subscriber was full"}, func() float64 {
			if src.BusDrops == nil {
				return 0
			}
			return float64(src.BusDrops())
		}),
		promcollect.NewGoCollector(),
		promcollect.NewProcessCollector(promcollect.ProcessCollectorOpts{}),
	)
	return r
}

func (r *Recorder) Registry() *prom.Registry { return r.reg }

// Handler serves the registry in the Prometheus text or OpenMetrics format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Run consumes bus events until ctx is done.
func (r *Recorder) Run(ctx context.Context, bus eventbus.Bus) {
	events, unsubscribe := bus.Subscribe(256, "drawing.", "task.", "notifier.")
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			r.Observe(e)
		}
	}
}

// Observe records one event.
func (r *Recorder) Observe(e eventbus.Event) {
	switch d := e.Data.(type) {
	case drawing.Event:
		r.drawings.WithLabelValues(strings.TrimPrefix(e.Type, "drawing.")).Inc()
		switch e.Type {
		case drawing.EventCompleted:
			r.entrants.Observe(float64(d.Entrants))
			r.winners.Observe(float64(len(d.Winners)))
		case drawing.EventRerolled:
			r.winners.Observe(float64(len(d.Winners)))
		}
	case engine.TaskEvent:
		switch e.Type {
		case engine.EventFinished:
			r.tasks.WithLabelValues(taskLabel(d.Name), "ok").Inc()
			r.taskDuration.WithLabelValues(taskLabel(d.Name)).Observe(d.Duration.Seconds())
		case engine.EventFailed:
			r.tasks.WithLabelValues(taskLabel(d.Name), "failed").Inc()
			r.taskDuration.WithLabelValues(taskLabel(d.Name)).Observe(d.Duration.Seconds())
		}
	case notifier.NotificationEvent:
		r.notifications.WithLabelValues(d.Channel, strings.TrimPrefix(e.Type, "notifier.")).Inc()
	}
}

// taskLabel folds per-drawing task names into one series.
func taskLabel(name string) string {
	if i := strings.IndexByte(name, ':'); i > 0 {
		return name[:i]
	}
	return name
}
