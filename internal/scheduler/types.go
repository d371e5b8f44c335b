package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "homekeep/pkg/logx"
)

var (
	ErrOverlapSkip = errors.New("previous run still in progress")
	ErrUnknownJob  = errors.New("unknown schedule")
)

// Config controls the scheduler.
type Config struct {
	Timezone       string        // IANA TZ, e.g. "Europe/Berlin"; empty means Local
	DefaultTimeout time.Duration // per-run timeout when a job has none
	HistorySize    int           // finished runs kept for Snapshot; default 32
}

type Job func(ctx context.Context) error

type jobDef struct {
	id      string
	name    string
	spec    string // cron spec or @every
	timeout time.Duration
	run     Job
	entryID cron.EntryID

	running atomic.Bool
	skipped atomic.Uint64
	runs    atomic.Uint64
}

type HistoryItem struct {
	Name     string
	Started  time.Time
	Duration time.Duration
	Trigger  string // "cron" | "manual"
	Error    string
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	parser cron.Parser
	c      *cron.Cron
	defs   []*jobDef

	runCtx    context.Context
	runCancel context.CancelFunc
	inflight  sync.WaitGroup

	hmu     sync.Mutex
	histCap int
	history []HistoryItem
}

type ScheduleInfo struct {
	ID      string
	Name    string
	Spec    string
	Timeout time.Duration
	Running bool
	Runs    uint64
	Skipped uint64
	Next    time.Time
	Prev    time.Time
}

type Snapshot struct {
	Running   bool
	Timezone  string
	Schedules []ScheduleInfo
	History   []HistoryItem
}
