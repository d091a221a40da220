package pool

import (
	"sync"
	"sync/atomic"
)

// refCount is the reference count embedded in every shared handle.
// The release function runs exactly once, when the count drops to zero.
type refCount struct {
	refs    atomic.Int32
	once    sync.Once
	destroy func()
}

func (r *refCount) init(destroy func()) {
	r.refs.Store(1)
	r.destroy = destroy
}

func (r *refCount) acquire() bool {
	for {
		n := r.refs.Load()
		if n <= 0 {
			return false
		}
		if r.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Release drops one reference. The hal object is destroyed when the last
// reference goes away. Releasing an already destroyed handle does nothing.
func (r *refCount) Release() {
	for {
		n := r.refs.Load()
		if n <= 0 {
			return
		}
		if r.refs.CompareAndSwap(n, n-1) {
			if n == 1 {
				r.once.Do(r.destroy)
			}
			return
		}
	}
}

// Refs returns the current reference count. Zero means destroyed.
func (r *refCount) Refs() int32 {
	return r.refs.Load()
}
