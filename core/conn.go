package core

import (
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/searchktools/evloop/core/poller"
)

// Conn is one accepted TCP connection and its parse state.
//
// Reads and parsing happen only on the loop goroutine. mu serialises the
// descriptor and the parser between that goroutine, writers and
// EventLoop.Close, so neither is used after it was released.
type Conn struct {
	fd     int
	loop   *EventLoop
	parser Parser
	remote net.Addr

	mu      sync.Mutex
	closed  bool // descriptor and parser released
	closing bool // Close was called; the loop releases it

	lastActive time.Time // loop goroutine only
}

func newConn(loop *EventLoop, fd int, sa unix.Sockaddr, p Parser) *Conn {
	return &Conn{
		fd:         fd,
		loop:       loop,
		parser:     p,
		remote:     sockaddrToTCPAddr(sa),
		lastActive: time.Now(),
	}
}

// Fd returns the socket descriptor
func (c *Conn) Fd() int {
	return c.fd
}

// RemoteAddr returns the peer address
func (c *Conn) RemoteAddr() net.Addr {
	return c.remote
}

// Closed reports whether the connection was closed or released
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed || c.closing
}

func (c *Conn) String() string {
	if c.remote == nil {
		return fmt.Sprintf("fd=%d", c.fd)
	}
	return fmt.Sprintf("fd=%d remote=%s", c.fd, c.remote)
}

// read fills buf from the socket. It returns ErrConnClosed when the
// connection was released concurrently.
func (c *Conn) read(buf []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.closing {
		return 0, ErrConnClosed
	}
	for {
		n, err := unix.Read(c.fd, buf)
		if err == unix.EINTR {
			continue
		}
		if n < 0 {
			n = 0
		}
		return n, err
	}
}

// feed hands one delivery to the parser. Holding mu makes a concurrent
// release wait until Parse returned.
func (c *Conn) feed(data []byte) ([]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.closing {
		return nil, ErrConnClosed
	}
	c.lastActive = time.Now()
	return c.parser.Parse(data)
}

// Write implements io.Writer on top of Send.
func (c *Conn) Write(p []byte) (int, error) {
	return c.send(p)
}

// Send writes p completely before returning. When the socket buffer is full
// it waits for write readiness up to the loop's write timeout, stalling the
// calling goroutine (usually the loop itself).
func (c *Conn) Send(p []byte) error {
	_, err := c.send(p)
	return err
}

func (c *Conn) send(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.closing {
		return 0, ErrConnClosed
	}

	written := 0
	for written < len(p) {
		n, err := unix.Write(c.fd, p[written:])
		if n > 0 {
			written += n
		}
		switch {
		case err == nil:
		case err == unix.EINTR:
		case err == unix.EAGAIN:
			if werr := poller.WaitWritable(c.fd, c.loop.writeTimeout); werr != nil {
				return written, errors.Wrap(werr, "send")
			}
		default:
			return written, errors.Wrap(err, "send")
		}
	}

	return written, nil
}

// SendFile copies count bytes of f starting at offset to the connection
// using sendfile(2). The file offset of f is not changed.
func (c *Conn) SendFile(f *os.File, offset, count int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.closing {
		return ErrConnClosed
	}

	fileFd := int(f.Fd())
	for count > 0 {
		chunk := count
		if chunk > 1<<30 {
			chunk = 1 << 30
		}
		// darwin leaves the offset argument untouched, so advance it here
		off := offset
		n, err := unix.Sendfile(c.fd, fileFd, &off, int(chunk))
		if n > 0 {
			offset += int64(n)
			count -= int64(n)
		}
		switch {
		case err == nil:
			if n == 0 {
				return errors.Errorf("sendfile: file truncated with %d bytes left", count)
			}
		case err == unix.EINTR:
		case err == unix.EAGAIN:
			if werr := poller.WaitWritable(c.fd, c.loop.writeTimeout); werr != nil {
				return errors.Wrap(werr, "sendfile")
			}
		default:
			return errors.Wrap(err, "sendfile")
		}
	}

	return nil
}

// Close closes the connection. It may be called from any goroutine: writes
// fail with ErrConnClosed from then on, and the loop goroutine removes the
// connection, releases it and fires OnClose once. Later calls, and calls
// after the loop was closed, are no-ops.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed || c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	c.mu.Unlock()

	c.loop.scheduleClose(c)
	return nil
}

// release closes the descriptor and the parser exactly once. It reports
// whether this call did the release.
func (c *Conn) release() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false, nil
	}
	c.closed = true

	perr := c.parser.Close()
	if err := unix.Close(c.fd); err != nil {
		return true, errors.Wrapf(err, "close fd %d", c.fd)
	}
	return true, perr
}

func sockaddrToTCPAddr(sa unix.Sockaddr) net.Addr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IPv4(a.Addr[0], a.Addr[1], a.Addr[2], a.Addr[3]), Port: a.Port}
	case *unix.SockaddrInet6:
		ip := make(net.IP, net.IPv6len)
		copy(ip, a.Addr[:])
		return &net.TCPAddr{IP: ip, Port: a.Port}
	}
	return nil
}
