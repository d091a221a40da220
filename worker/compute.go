package worker

import "github.com/gogpu/wgpu/hal"

// ComputeJob is a unit of work that needs direct device and queue access.
type ComputeJob func(device hal.Device, queue hal.Queue)

// ComputeWorkers run ComputeJobs on dedicated goroutines.
//
// ComputeWorkers is safe for concurrent use.
type ComputeWorkers struct {
	device hal.Device
	queue  hal.Queue
	loop   *loop[ComputeJob]
}

// NewComputeWorkers starts compute workers. Zero Config fields select
// max(GOMAXPROCS/2, 1) workers and DefaultGPUPollInterval.
func NewComputeWorkers(device hal.Device, queue hal.Queue, cfg Config) (*ComputeWorkers, error) {
	if device == nil || queue == nil {
		return nil, ErrNilDevice
	}
	cfg = cfg.withDefaults(max(defaultWorkers()/2, 1), DefaultGPUPollInterval, "compute")

	w := &ComputeWorkers{device: device, queue: queue}
	w.loop = newLoop(cfg, func(_ int, job ComputeJob) { job(w.device, w.queue) })
	return w, nil
}

// ExecuteCompute enqueues job.
func (w *ComputeWorkers) ExecuteCompute(job ComputeJob) error {
	if job == nil {
		return ErrNilJob
	}
	return w.loop.submit(job)
}

// Workers returns the number of compute workers.
func (w *ComputeWorkers) Workers() int { return w.loop.cfg.Workers }

// Close stops the workers after the queued jobs have run.
func (w *ComputeWorkers) Close() { w.loop.close() }
