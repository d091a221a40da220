package worker

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// =============================================================================
// Pool Creation Tests
// =============================================================================

func TestPool_Create(t *testing.T) {
	pool := NewPool(Config{Workers: 4})
	defer pool.Close()

	if pool.Workers() != 4 {
		t.Errorf("Workers() = %d, want 4", pool.Workers())
	}
	if !pool.IsRunning() {
		t.Error("Pool should be running after creation")
	}
}

func TestPool_CreateZeroWorkers(t *testing.T) {
	pool := NewPool(Config{})
	defer pool.Close()

	if want := runtime.GOMAXPROCS(0); pool.Workers() != want {
		t.Errorf("Workers() = %d, want %d (GOMAXPROCS)", pool.Workers(), want)
	}
}

// =============================================================================
// Execute Tests
// =============================================================================

func TestPool_Execute(t *testing.T) {
	pool := NewPool(Config{Workers: 4})
	defer pool.Close()

	var counter atomic.Int64
	var wg sync.WaitGroup
	const numTasks = 100

	wg.Add(numTasks)
	for range numTasks {
		if err := pool.Execute(func() {
			defer wg.Done()
			counter.Add(1)
		}); err != nil {
			t.Fatalf("Execute: %v", err)
		}
	}
	wg.Wait()

	if counter.Load() != numTasks {
		t.Errorf("counter = %d, want %d", counter.Load(), numTasks)
	}
}

func TestPool_ExecuteNil(t *testing.T) {
	pool := NewPool(Config{Workers: 1})
	defer pool.Close()

	if err := pool.Execute(nil); !errors.Is(err, ErrNilJob) {
		t.Errorf("Execute(nil) = %v, want ErrNilJob", err)
	}
}

func TestPool_ExecuteAll(t *testing.T) {
	pool := NewPool(Config{Workers: 3})
	defer pool.Close()

	results := make([]int, 50)
	jobs := make([]func(), len(results))
	for i := range jobs {
		jobs[i] = func() { results[i] = i * i }
	}
	if err := pool.ExecuteAll(jobs); err != nil {
		t.Fatalf("ExecuteAll: %v", err)
	}
	for i, v := range results {
		if v != i*i {
			t.Fatalf("results[%d] = %d, want %d", i, v, i*i)
		}
	}
}

// =============================================================================
// Shutdown Tests
// =============================================================================

func TestPool_CloseRunsQueuedJobs(t *testing.T) {
	pool := NewPool(Config{Workers: 1, QueueSize: 64, PollInterval: 5 * time.Millisecond})

	release := make(chan struct{})
	var counter atomic.Int64
	_ = pool.Execute(func() { <-release })
	for range 20 {
		_ = pool.Execute(func() { counter.Add(1) })
	}

	closed := make(chan struct{})
	go func() {
		pool.Close()
		close(closed)
	}()

	close(release)
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}
	if counter.Load() != 20 {
		t.Errorf("ran %d queued jobs, want 20", counter.Load())
	}
}

func TestPool_IdleWorkersObserveShutdown(t *testing.T) {
	pool := NewPool(Config{Workers: 4, PollInterval: 10 * time.Millisecond})

	// No job is ever submitted; workers must still notice Close via the
	// bounded wait.
	start := time.Now()
	pool.Close()
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Close took %v", elapsed)
	}
	if pool.IsRunning() {
		t.Error("IsRunning() = true after Close")
	}
	if err := pool.Execute(func() {}); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Execute after Close = %v, want ErrPoolClosed", err)
	}
	if err := pool.ExecuteAll([]func(){func() {}}); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("ExecuteAll after Close = %v, want ErrPoolClosed", err)
	}
}

func TestPool_CloseIdempotent(t *testing.T) {
	pool := NewPool(Config{Workers: 2, PollInterval: time.Millisecond})
	pool.Close()
	pool.Close()
}

func TestPool_ConcurrentSubmitAndClose(t *testing.T) {
	pool := NewPool(Config{Workers: 4, PollInterval: time.Millisecond})

	var accepted, ran atomic.Int64
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 200 {
				if pool.Execute(func() { ran.Add(1) }) == nil {
					accepted.Add(1)
				}
			}
		}()
	}
	time.Sleep(time.Millisecond)
	pool.Close()
	wg.Wait()

	if accepted.Load() != ran.Load() {
		t.Errorf("accepted %d jobs but ran %d", accepted.Load(), ran.Load())
	}
	if pool.Executed() != uint64(ran.Load()) {
		t.Errorf("Executed() = %d, want %d", pool.Executed(), ran.Load())
	}
}

// =============================================================================
// Benchmarks
// =============================================================================

func BenchmarkPool_Execute(b *testing.B) {
	pool := NewPool(Config{})
	defer pool.Close()

	var wg sync.WaitGroup
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		wg.Add(1)
		_ = pool.Execute(wg.Done)
	}
	wg.Wait()
}

func TestPool_CloseReleasesBlockedSubmit(t *testing.T) {
	pool := NewPool(Config{Workers: 1, QueueSize: 1})

	started := make(chan struct{})
	gate := make(chan struct{})
	nested := make(chan error, 1)
	var ranQueued atomic.Bool

	// The only worker runs this job, which submits to its own full pool.
	if err := pool.Execute(func() {
		close(started)
		<-gate
		nested <- pool.Execute(func() {})
	}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	<-started
	if err := pool.Execute(func() { ranQueued.Store(true) }); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	close(gate)
	for pool.loop.senders.Load() == 0 {
		runtime.Gosched()
	}

	closed := make(chan struct{})
	go func() {
		pool.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close deadlocked on a job blocked in Execute")
	}

	if err := <-nested; !errors.Is(err, ErrPoolClosed) {
		t.Errorf("nested Execute = %v, want ErrPoolClosed", err)
	}
	if !ranQueued.Load() {
		t.Error("job queued before Close was not run")
	}
}
