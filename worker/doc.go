// Package worker runs per-frame jobs on a fixed set of goroutines.
//
// Every pool here shares one loop: a worker waits on the pool's queue with a
// bounded timeout, runs whatever job arrives to completion, and re-checks the
// shutdown flag whenever the timeout elapses. A worker therefore notices
// Close even if no job ever wakes it. Jobs accepted before Close still run.
//
// [Pool] runs plain closures. [RenderWorkers] split a frame's [Command] list
// into one contiguous chunk per worker, record each chunk into its own hal
// command encoder, and hand the finished command buffers back through a
// [Join] in chunk order. [ComputeWorkers] run closures that need the device
// and queue.
package worker
