package sendq

// Wakeup is a coalescing, non-blocking signal: the idiomatic Go
// equivalent of the self-pipe trick, sized so a caller thread can
// always deliver the signal without waiting on the loop goroutine to
// drain it. Any number of Signal calls between two loop wakeups
// collapse into a single receive.
type Wakeup chan struct{}

// NewWakeup constructs a ready-to-use Wakeup.
func NewWakeup() Wakeup {
	return make(Wakeup, 1)
}

// Signal wakes the loop goroutine if it is parked waiting on C, and
// is a no-op if a signal is already pending.
func (w Wakeup) Signal() {
	select {
	case w <- struct{}{}:
	default:
	}
}

// C returns the channel the loop goroutine selects on.
func (w Wakeup) C() <-chan struct{} {
	return w
}
