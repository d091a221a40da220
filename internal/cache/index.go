package cache

// Evicted describes an entry removed from an [Index] to make room.
type Evicted[K comparable, C comparable, V any] struct {
	Key   K
	Class C
	Value V
}

type indexEntry[K comparable, C comparable, V any] struct {
	value V
	class C
	node  *recencyNode[K]
}

// Index is a class-partitioned map with one LRU order shared by all classes.
//
// Every key lives in exactly one class map. Eviction picks the globally least
// recently used key and removes it from every class map, so the per-class
// views never hold a key the shared order has dropped.
type Index[K comparable, C comparable, V any] struct {
	entries  map[K]*indexEntry[K, C, V]
	classes  map[C]map[K]struct{}
	order    recencyList[K]
	capacity int
}

// NewIndex creates an index holding at most capacity entries.
// A capacity of 0 or less means unbounded.
func NewIndex[K comparable, C comparable, V any](capacity int) *Index[K, C, V] {
	return &Index[K, C, V]{
		entries:  make(map[K]*indexEntry[K, C, V]),
		classes:  make(map[C]map[K]struct{}),
		capacity: capacity,
	}
}

// Capacity returns the configured entry limit (0 when unbounded).
func (x *Index[K, C, V]) Capacity() int {
	if x.capacity < 0 {
		return 0
	}
	return x.capacity
}

// Len returns the total number of entries across all classes.
func (x *Index[K, C, V]) Len() int {
	return len(x.entries)
}

// ClassLen returns the number of entries in one class.
func (x *Index[K, C, V]) ClassLen(class C) int {
	return len(x.classes[class])
}

// Contains reports whether key is present without touching its recency.
func (x *Index[K, C, V]) Contains(key K) bool {
	_, ok := x.entries[key]
	return ok
}

// Get returns the value for key and marks it most recently used.
func (x *Index[K, C, V]) Get(key K) (V, bool) {
	e, ok := x.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	x.order.Touch(e.node)
	return e.value, true
}

// Peek returns the value for key without touching its recency.
func (x *Index[K, C, V]) Peek(key K) (V, bool) {
	e, ok := x.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Put stores value under key in the given class as most recently used.
//
// When the key is new and the index is at capacity, least recently used
// entries are evicted before the insert and returned so the caller can
// release them. Replacing an existing key never evicts; the replaced value is
// returned as a single eviction record.
func (x *Index[K, C, V]) Put(key K, class C, value V) []Evicted[K, C, V] {
	if e, ok := x.entries[key]; ok {
		old := Evicted[K, C, V]{Key: key, Class: e.class, Value: e.value}
		x.unclass(key, e.class)
		e.value = value
		e.class = class
		x.classify(key, class)
		x.order.Touch(e.node)
		return []Evicted[K, C, V]{old}
	}

	var evicted []Evicted[K, C, V]
	for x.capacity > 0 && len(x.entries) >= x.capacity {
		ev, ok := x.RemoveOldest()
		if !ok {
			break
		}
		evicted = append(evicted, ev)
	}

	x.entries[key] = &indexEntry[K, C, V]{
		value: value,
		class: class,
		node:  x.order.Push(key),
	}
	x.classify(key, class)
	return evicted
}

// Remove deletes key from the index and every class map.
func (x *Index[K, C, V]) Remove(key K) (V, bool) {
	e, ok := x.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	x.order.Unlink(e.node)
	delete(x.entries, key)
	for _, m := range x.classes {
		delete(m, key)
	}
	return e.value, true
}

// RemoveOldest evicts the least recently used entry.
func (x *Index[K, C, V]) RemoveOldest() (Evicted[K, C, V], bool) {
	key, ok := x.order.Oldest()
	if !ok {
		return Evicted[K, C, V]{}, false
	}
	class := x.entries[key].class
	value, _ := x.Remove(key)
	return Evicted[K, C, V]{Key: key, Class: class, Value: value}, true
}

// Range calls fn for every entry from most to least recently used.
// Iteration stops when fn returns false. fn must not mutate the index.
func (x *Index[K, C, V]) Range(fn func(key K, class C, value V) bool) {
	for n := x.order.head; n != nil; n = n.next {
		e := x.entries[n.key]
		if !fn(n.key, e.class, e.value) {
			return
		}
	}
}

// Clear removes every entry and returns them so the caller can release them.
func (x *Index[K, C, V]) Clear() []Evicted[K, C, V] {
	out := make([]Evicted[K, C, V], 0, len(x.entries))
	x.Range(func(key K, class C, value V) bool {
		out = append(out, Evicted[K, C, V]{Key: key, Class: class, Value: value})
		return true
	})
	x.entries = make(map[K]*indexEntry[K, C, V])
	x.classes = make(map[C]map[K]struct{})
	x.order.Reset()
	return out
}

func (x *Index[K, C, V]) classify(key K, class C) {
	m, ok := x.classes[class]
	if !ok {
		m = make(map[K]struct{})
		x.classes[class] = m
	}
	m[key] = struct{}{}
}

func (x *Index[K, C, V]) unclass(key K, class C) {
	if m, ok := x.classes[class]; ok {
		delete(m, key)
	}
}
