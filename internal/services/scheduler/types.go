package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "github.com/saulrh/living-room-bot/pkg/logx"
)

// Config controls the scheduler service.
type Config struct {
	Workers        int
	QueueSize      int
	DefaultTimeout time.Duration
}

// runState is shared between recurring invocations of one job so a new run
// can be skipped while the previous one is still executing.
type runState struct {
	mu      sync.Mutex
	running bool
}

type task struct {
	id      string
	name    string
	timeout time.Duration
	run     func(ctx context.Context) error
	state   *runState
}

type scheduleDef struct {
	id      string
	name    string
	spec    string // "@every <duration>"
	timeout time.Duration
	job     func(ctx context.Context) error
	entryID cron.EntryID
	state   *runState
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config

	c    *cron.Cron
	defs []scheduleDef

	queue  chan task
	stopCh chan struct{}
	// stopDone is non-nil while a Stop() is in progress; it is closed when workers fully exit.
	stopDone chan struct{}

	// one-time timers (timers are runtime; onceAt/onceTimeout/onceJob are definitions
	// that survive a Stop/Start cycle)
	tmu         sync.Mutex
	timers      map[string]*time.Timer
	onceAt      map[string]time.Time
	onceTimeout map[string]time.Duration
	onceJob     map[string]func(ctx context.Context) error
	onceVer     map[string]uint64

	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup
}
