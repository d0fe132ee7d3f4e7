package poller

import "errors"

// ErrTimeout is returned by WaitWritable when the descriptor did not become
// writable in time.
var ErrTimeout = errors.New("poller: write readiness timeout")

// Poller is the I/O readiness interface used by the event loop.
//
// Add, Remove and Wake may be called from any goroutine. Wait must only be
// called from the goroutine that owns the poller, and Close only after that
// goroutine stopped waiting.
type Poller interface {
	// Add watches fd for read readiness (level-triggered).
	Add(fd int) error
	// Remove stops watching fd.
	Remove(fd int) error
	// Wait blocks until at least one watched fd is readable, the poller is
	// woken, or timeout milliseconds pass (-1 blocks forever). It returns the
	// ready fds; the slice is reused by the next call.
	Wait(timeout int) ([]int, error)
	// Wake interrupts a blocked Wait.
	Wake() error
	// Close releases the poller.
	Close() error
}
