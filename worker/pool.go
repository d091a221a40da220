package worker

import "sync"

// Pool runs closures on a fixed set of goroutines.
//
// Pool is safe for concurrent use.
type Pool struct {
	loop *loop[func()]
}

// NewPool starts a pool. Zero Config fields select GOMAXPROCS workers and a
// DefaultPollInterval bounded wait.
func NewPool(cfg Config) *Pool {
	cfg = cfg.withDefaults(defaultWorkers(), DefaultPollInterval, "pool")
	return &Pool{
		loop: newLoop(cfg, func(_ int, job func()) { job() }),
	}
}

// Execute enqueues job. It blocks while the queue is full.
// Once started, a job always runs to completion.
func (p *Pool) Execute(job func()) error {
	if job == nil {
		return ErrNilJob
	}
	return p.loop.submit(job)
}

// ExecuteAll runs every job and waits for all of them to finish.
// Jobs rejected because the pool closed are reported by the returned error
// and are not run.
func (p *Pool) ExecuteAll(jobs []func()) error {
	var wg sync.WaitGroup
	for _, job := range jobs {
		if job == nil {
			continue
		}
		wg.Add(1)
		fn := job
		if err := p.loop.submit(func() {
			defer wg.Done()
			fn()
		}); err != nil {
			wg.Done()
			wg.Wait()
			return err
		}
	}
	wg.Wait()
	return nil
}

// Close stops accepting jobs, lets the workers finish the queue, and waits
// for them to exit. Close is safe to call multiple times.
func (p *Pool) Close() {
	p.loop.close()
}

// Workers returns the number of worker goroutines.
func (p *Pool) Workers() int {
	return p.loop.cfg.Workers
}

// IsRunning returns true if the pool is still accepting work.
func (p *Pool) IsRunning() bool {
	return p.loop.running()
}

// Queued returns the number of jobs waiting in the queue.
func (p *Pool) Queued() int {
	return len(p.loop.queue)
}

// Executed returns the number of jobs run so far.
func (p *Pool) Executed() uint64 {
	return p.loop.executed.Load()
}
