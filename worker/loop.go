package worker

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// Worker pool errors.
var (
	// ErrPoolClosed is returned when submitting to a closed pool.
	ErrPoolClosed = errors.New("worker: pool is closed")

	// ErrNilJob is returned when submitting a nil job.
	ErrNilJob = errors.New("worker: nil job")
)

// Defaults.
const (
	// DefaultPollInterval bounds how long a generic worker blocks before
	// re-checking shutdown.
	DefaultPollInterval = 100 * time.Millisecond

	// DefaultGPUPollInterval is the bounded wait of render and compute workers.
	DefaultGPUPollInterval = 16 * time.Millisecond

	// MaxRenderWorkers caps the default render worker count.
	MaxRenderWorkers = 8
)

// Config configures a worker pool.
type Config struct {
	// Workers is the number of goroutines. Zero selects a per-pool default.
	Workers int

	// QueueSize is the job queue capacity. Defaults to 4x Workers, at least 8.
	QueueSize int

	// PollInterval is the bounded wait between shutdown checks.
	PollInterval time.Duration

	// Name labels log records and hal objects.
	Name string
}

func (c Config) withDefaults(workers int, poll time.Duration, name string) Config {
	if c.Workers <= 0 {
		c.Workers = workers
	}
	if c.QueueSize <= 0 {
		// Buffer size: 2-4x workers helps hide latency
		c.QueueSize = c.Workers * 4
		if c.QueueSize < 8 {
			c.QueueSize = 8
		}
	}
	if c.PollInterval <= 0 {
		c.PollInterval = poll
	}
	if c.Name == "" {
		c.Name = name
	}
	return c
}

// loop is the worker machinery shared by every pool in this package.
type loop[J any] struct {
	cfg   Config
	queue chan J
	run   func(worker int, job J)

	// senders counts submissions in progress. Workers keep running after
	// shutdown until it drops to zero, so an accepted job is never stranded.
	senders  atomic.Int64
	shutdown atomic.Bool
	closing  chan struct{}
	wg       sync.WaitGroup

	executed atomic.Uint64
	idle     atomic.Uint64
}

func newLoop[J any](cfg Config, run func(worker int, job J)) *loop[J] {
	l := &loop[J]{
		cfg:     cfg,
		queue:   make(chan J, cfg.QueueSize),
		run:     run,
		closing: make(chan struct{}),
	}
	l.wg.Add(cfg.Workers)
	for i := range cfg.Workers {
		go l.worker(i)
	}
	slogger().Debug("worker: pool started", "name", cfg.Name, "workers", cfg.Workers)
	return l
}

func (l *loop[J]) worker(id int) {
	defer l.wg.Done()

	timer := time.NewTimer(l.cfg.PollInterval)
	defer timer.Stop()

	for {
		select {
		case job := <-l.queue:
			l.exec(id, job)
		case <-timer.C:
			l.idle.Add(1)
			if l.shutdown.Load() && l.senders.Load() == 0 {
				l.drain(id)
				return
			}
		}
		timer.Reset(l.cfg.PollInterval)
	}
}

// drain runs jobs still queued at shutdown.
func (l *loop[J]) drain(id int) {
	for {
		select {
		case job := <-l.queue:
			l.exec(id, job)
		default:
			return
		}
	}
}

func (l *loop[J]) exec(id int, job J) {
	l.run(id, job)
	l.executed.Add(1)
}

// submit enqueues job, blocking while the queue is full. A sender still
// blocked when Close begins gets ErrPoolClosed; this includes jobs that
// submit to their own pool.
func (l *loop[J]) submit(job J) error {
	l.senders.Add(1)
	defer l.senders.Add(-1)

	if l.shutdown.Load() {
		return ErrPoolClosed
	}
	select {
	case l.queue <- job:
		return nil
	case <-l.closing:
		return ErrPoolClosed
	}
}

// close stops accepting jobs and waits for the workers to finish the queue.
func (l *loop[J]) close() {
	if l.shutdown.Swap(true) {
		return
	}
	close(l.closing)
	l.wg.Wait()
	slogger().Debug("worker: pool stopped", "name", l.cfg.Name, "executed", l.executed.Load())
}

func (l *loop[J]) running() bool { return !l.shutdown.Load() }

func defaultWorkers() int {
	return runtime.GOMAXPROCS(0)
}
