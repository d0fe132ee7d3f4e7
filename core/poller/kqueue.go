//go:build darwin

package poller

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// wakeIdent identifies the EVFILT_USER event used for wakeups
const wakeIdent = 0

// KqueuePoller is a kqueue-based I/O multiplexer
type KqueuePoller struct {
	kqfd   int
	events []unix.Kevent_t
	ready  []int
}

// NewPoller creates a new Poller (macOS)
func NewPoller() (Poller, error) {
	kqfd, err := unix.Kqueue()
	if err != nil {
		return nil, errors.Wrap(err, "kqueue")
	}
	unix.CloseOnExec(kqfd)

	ev := unix.Kevent_t{
		Ident:  wakeIdent,
		Filter: unix.EVFILT_USER,
		Flags:  unix.EV_ADD | unix.EV_CLEAR,
	}
	if _, err := unix.Kevent(kqfd, []unix.Kevent_t{ev}, nil, nil); err != nil {
		unix.Close(kqfd)
		return nil, errors.Wrap(err, "kevent add user filter")
	}

	return &KqueuePoller{
		kqfd:   kqfd,
		events: make([]unix.Kevent_t, 1024),
		ready:  make([]int, 0, 1024),
	}, nil
}

// Add adds a file descriptor to the watch list
func (p *KqueuePoller) Add(fd int) error {
	ev := unix.Kevent_t{
		Ident:  uint64(fd),
		Filter: unix.EVFILT_READ,
		// Level-triggered; EV_CLEAR would need a drain-until-EAGAIN read loop
		Flags: unix.EV_ADD | unix.EV_ENABLE,
	}

	_, err := unix.Kevent(p.kqfd, []unix.Kevent_t{ev}, nil, nil)
	return errors.Wrapf(err, "kevent add fd %d", fd)
}

// Remove removes a file descriptor from the watch list
func (p *KqueuePoller) Remove(fd int) error {
	ev := unix.Kevent_t{
		Ident:  uint64(fd),
		Filter: unix.EVFILT_READ,
		Flags:  unix.EV_DELETE,
	}

	_, err := unix.Kevent(p.kqfd, []unix.Kevent_t{ev}, nil, nil)
	return errors.Wrapf(err, "kevent del fd %d", fd)
}

// Wait waits for I/O events
func (p *KqueuePoller) Wait(timeout int) ([]int, error) {
	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(int64(timeout) * 1000000)
		ts = &t
	}

	n, err := unix.Kevent(p.kqfd, nil, p.events, ts)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, errors.Wrap(err, "kevent wait")
	}

	p.ready = p.ready[:0]
	for i := 0; i < n; i++ {
		if p.events[i].Filter == unix.EVFILT_USER {
			continue
		}
		p.ready = append(p.ready, int(p.events[i].Ident))
	}

	return p.ready, nil
}

// Wake interrupts a blocked Wait
func (p *KqueuePoller) Wake() error {
	ev := unix.Kevent_t{
		Ident:  wakeIdent,
		Filter: unix.EVFILT_USER,
		Fflags: unix.NOTE_TRIGGER,
	}

	_, err := unix.Kevent(p.kqfd, []unix.Kevent_t{ev}, nil, nil)
	return errors.Wrap(err, "kevent trigger")
}

// Close closes the Poller
func (p *KqueuePoller) Close() error {
	return errors.Wrap(unix.Close(p.kqfd), "close kqueue")
}
