//go:build linux || darwin

package poller

import (
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// WaitWritable blocks the calling goroutine until fd accepts writes or the
// timeout expires. A non-positive timeout waits forever.
func WaitWritable(fd int, timeout time.Duration) error {
	ms := -1
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
	for {
		if !deadline.IsZero() {
			ms = int(time.Until(deadline) / time.Millisecond)
			if ms <= 0 {
				return ErrTimeout
			}
		}

		n, err := unix.Poll(fds, ms)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return errors.Wrap(err, "poll")
		}
		if n == 0 {
			return ErrTimeout
		}
		// POLLERR/POLLHUP also end the wait: the following write reports the error
		return nil
	}
}
