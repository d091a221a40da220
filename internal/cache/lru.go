package cache

// recencyNode is one key's position in an Index's shared recency order.
// Index entries keep a pointer to their node so a hit or removal never
// searches the list.
type recencyNode[K comparable] struct {
	key        K
	prev, next *recencyNode[K]
}

// recencyList orders the keys of every class in an Index. The head was
// touched last; the tail is the next eviction victim regardless of class.
type recencyList[K comparable] struct {
	head, tail *recencyNode[K]
}

// Push records a newly inserted key as most recently used.
func (l *recencyList[K]) Push(key K) *recencyNode[K] {
	n := &recencyNode[K]{key: key}
	l.pushHead(n)
	return n
}

// Touch moves a key hit by Get or re-inserted by Put to the head.
func (l *recencyList[K]) Touch(n *recencyNode[K]) {
	if n == nil || n == l.head {
		return
	}
	l.Unlink(n)
	l.pushHead(n)
}

// Unlink drops a removed or evicted key from the order.
func (l *recencyList[K]) Unlink(n *recencyNode[K]) {
	if n == nil {
		return
	}
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		l.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		l.tail = n.prev
	}
	n.prev, n.next = nil, nil
}

// Oldest returns the eviction victim, the key touched least recently.
func (l *recencyList[K]) Oldest() (K, bool) {
	if l.tail == nil {
		var zero K
		return zero, false
	}
	return l.tail.key, true
}

// Reset forgets every key. Index.Clear drops its maps at the same time.
func (l *recencyList[K]) Reset() {
	l.head, l.tail = nil, nil
}

func (l *recencyList[K]) pushHead(n *recencyNode[K]) {
	n.prev, n.next = nil, l.head
	if l.head != nil {
		l.head.prev = n
	}
	l.head = n
	if l.tail == nil {
		l.tail = n
	}
}
