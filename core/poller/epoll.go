//go:build linux

package poller

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// EpollPoller is an epoll-based I/O multiplexer with an eventfd for wakeups
type EpollPoller struct {
	epfd   int
	wfd    int
	events []unix.EpollEvent
	ready  []int
}

// NewPoller creates a new Poller (Linux)
func NewPoller() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "epoll_create1")
	}

	wfd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, errors.Wrap(err, "eventfd")
	}

	p := &EpollPoller{
		epfd:   epfd,
		wfd:    wfd,
		events: make([]unix.EpollEvent, 1024),
		ready:  make([]int, 0, 1024),
	}

	if err := p.Add(wfd); err != nil {
		unix.Close(wfd)
		unix.Close(epfd)
		return nil, err
	}

	return p, nil
}

// Add adds a file descriptor to the watch list
func (p *EpollPoller) Add(fd int) error {
	ev := unix.EpollEvent{
		// EPOLLRDHUP: detect peer shutdown. Level-triggered (no EPOLLET).
		Events: unix.EPOLLIN | unix.EPOLLRDHUP,
		Fd:     int32(fd),
	}

	return errors.Wrapf(unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev), "epoll_ctl add fd %d", fd)
}

// Remove removes a file descriptor from the watch list
func (p *EpollPoller) Remove(fd int) error {
	return errors.Wrapf(unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil), "epoll_ctl del fd %d", fd)
}

// Wait waits for I/O events
func (p *EpollPoller) Wait(timeout int) ([]int, error) {
	n, err := unix.EpollWait(p.epfd, p.events, timeout)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, errors.Wrap(err, "epoll_wait")
	}

	p.ready = p.ready[:0]
	for i := 0; i < n; i++ {
		fd := int(p.events[i].Fd)
		if fd == p.wfd {
			p.drainWake()
			continue
		}
		p.ready = append(p.ready, fd)
	}

	return p.ready, nil
}

// Wake interrupts a blocked Wait
func (p *EpollPoller) Wake() error {
	var b [8]byte
	binary.NativeEndian.PutUint64(b[:], 1)
	_, err := unix.Write(p.wfd, b[:])
	if err == unix.EAGAIN {
		// counter saturated: a wakeup is already pending
		return nil
	}
	return errors.Wrap(err, "eventfd write")
}

func (p *EpollPoller) drainWake() {
	var b [8]byte
	unix.Read(p.wfd, b[:])
}

// Close closes the Poller
func (p *EpollPoller) Close() error {
	werr := unix.Close(p.wfd)
	if err := unix.Close(p.epfd); err != nil {
		return errors.Wrap(err, "close epoll")
	}
	return errors.Wrap(werr, "close eventfd")
}
