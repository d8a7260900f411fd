// Package sendq holds the small set of primitives that let caller
// goroutines hand work to a connection's single loop goroutine
// without ever blocking: a bounded FIFO send queue and a one-shot
// wakeup signal. It is kept separate from the teacher's own
// internal/concurrency package (NUMA/affinity/epoll primitives for
// the server-side reactor) so that this client-only module's runtime
// surface stays exactly what spec.md §5 asks for — see DESIGN.md.
package sendq

import (
	"sync"

	equeue "github.com/eapache/queue"
)

// PendingKind discriminates the Pending variants a caller can enqueue.
type PendingKind int

const (
	PendingText PendingKind = iota
	PendingBinary
	PendingClose
)

// Pending is one outbound item waiting to be encoded and written by
// the loop goroutine.
type Pending struct {
	Kind        PendingKind
	Text        string
	Binary      []byte
	CloseCode   uint16
	CloseReason string
}

// SendQueue is a mutex-guarded, capacity-bounded FIFO. Push never
// blocks: it returns false immediately when the queue is full, so a
// slow or wedged loop goroutine can never apply backpressure to a
// caller thread.
type SendQueue struct {
	mu       sync.Mutex
	items    *equeue.Queue
	capacity int
}

// NewSendQueue constructs a SendQueue with the given capacity.
func NewSendQueue(capacity int) *SendQueue {
	return &SendQueue{items: equeue.New(), capacity: capacity}
}

// Push appends p to the back of the queue. It returns false without
// enqueuing anything if the queue is already at capacity.
func (s *SendQueue) Push(p Pending) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.items.Length() >= s.capacity {
		return false
	}
	s.items.Add(p)
	return true
}

// Pop removes and returns the item at the front of the queue.
func (s *SendQueue) Pop() (Pending, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.items.Length() == 0 {
		return Pending{}, false
	}
	return s.items.Remove().(Pending), true
}

// Len reports the current queue depth.
func (s *SendQueue) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items.Length()
}
