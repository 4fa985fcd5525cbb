package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"drawbot/internal/eventbus"
	"drawbot/internal/task/engine"
	logx "drawbot/pkg/logx"

	"github.com/robfig/cron/v3"
)

var (
	ErrStopped    = errors.New("scheduler stopped")
	ErrJobRunning = errors.New("scheduler: job handler already running")
)

// Config controls the scheduler. Enabled gates housekeeping schedules only;
// one-shot jobs always fire.
type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "Europe/Berlin"
}

// Handler is the work behind a one-shot job. It must honor ctx.
type Handler func(ctx context.Context) error

// Job is a one-shot trigger.
type Job struct {
	ID      string
	FireAt  time.Time
	Timeout time.Duration // per attempt; 0 uses the engine default
	Run     Handler
}

// Source enumerates the jobs that must be re-armed at process start.
type Source interface {
	PendingJobs(ctx context.Context) ([]Job, error)
}

type JobState string

const (
	StatePending JobState = "pending"
	StateDue     JobState = "due"
)

type oneShot struct {
	job   Job
	state JobState
	ver   uint64
	timer *time.Timer
}

type scheduleDef struct {
	id            string
	name          string
	spec          string // cron spec or @every
	timeout       time.Duration
	job           func(ctx context.Context) error
	entryID       cron.EntryID
	startupSpread time.Duration
	running       *atomic.Bool
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	bus eventbus.Bus

	engine *engine.Service

	parser cron.Parser
	c      *cron.Cron
	defs   []scheduleDef

	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time

	// one-shot timer table
	tmu       sync.Mutex
	jobs      map[string]*oneShot
	ver       uint64
	running   bool
	ctx       context.Context
	cancel    context.CancelFunc
	due       sync.WaitGroup
	fired     atomic.Uint64
	cancelled atomic.Uint64
}

type JobInfo struct {
	ID     string    `json:"id"`
	FireAt time.Time `json:"fire_at"`
	State  JobState  `json:"state"`
}

type ScheduleInfo struct {
	ID      string        `json:"id"`
	Name    string        `json:"name"`
	Spec    string        `json:"spec"`
	Timeout time.Duration `json:"timeout"`
	Next    time.Time     `json:"next"`
	Prev    time.Time     `json:"prev"`
}

type Snapshot struct {
	Enabled   bool            `json:"enabled"`
	Running   bool            `json:"running"`
	Timezone  string          `json:"timezone"`
	Jobs      []JobInfo       `json:"jobs"`
	Fired     uint64          `json:"fired"`
	Cancelled uint64          `json:"cancelled"`
	Schedules []ScheduleInfo  `json:"schedules"`
	Engine    engine.Snapshot `json:"engine"`
}
