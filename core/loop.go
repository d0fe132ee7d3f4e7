package core

import (
	"net"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/searchktools/evloop/core/poller"
	"github.com/searchktools/evloop/logger"
)

// Defaults applied by New for zero Config fields
const (
	DefaultAddress      = "0.0.0.0"
	DefaultPort         = 80
	DefaultBufferSize   = 2048
	DefaultWriteTimeout = 10 * time.Second
)

// pollRetryDelay throttles the loop when the poller keeps failing
const pollRetryDelay = 10 * time.Millisecond

// Config configures an EventLoop. The zero value listens on 0.0.0.0:80.
type Config struct {
	Address string
	// Port 0 with a non-empty Address binds an ephemeral port; a zero
	// Config (empty Address) uses DefaultPort.
	Port int

	// BufferSize is the size of the single read buffer shared by all
	// connections of the loop.
	BufferSize int

	// WriteTimeout bounds how long Send waits for a full socket buffer to drain.
	WriteTimeout time.Duration

	// IdleTimeout closes connections that delivered no bytes for this long.
	// Zero disables idle reaping.
	IdleTimeout time.Duration

	// NewParser builds the parser of each accepted connection. Nil yields
	// every delivery as a single []byte request.
	NewParser func() Parser

	Logger *zap.Logger
}

// EventLoop accepts and reads TCP connections on a single goroutine locked to
// its OS thread, and dispatches parsed requests to a Handler.
type EventLoop struct {
	handler   Handler
	newParser func() Parser
	log       *zap.Logger

	ln     net.Listener
	lfd    int
	poller poller.Poller
	conns  *Registry

	// buf is reused for every read; its contents are only valid during
	// one read-dispatch cycle.
	buf []byte

	writeTimeout time.Duration
	idleTimeout  time.Duration
	nextReap     time.Time // loop goroutine only
	reapScans    int       // loop goroutine only

	// wakeMu guards pending and orders Wake calls before the poller is
	// closed: Close takes it before releasing teardown.
	wakeMu  sync.Mutex
	pending []*Conn // closed by Conn.Close, waiting for the loop

	closed   atomic.Bool
	teardown chan struct{} // closed once the first Close finished draining
	done     chan struct{} // closed once poller and listener are released

	stats loopStats
}

// New binds cfg.Address:cfg.Port, calls h.OnStart and starts serving. A bind
// failure is returned and no loop is created.
func New(cfg Config, h Handler) (*EventLoop, error) {
	if h == nil {
		return nil, errors.New("evloop: nil handler")
	}
	if cfg.Address == "" {
		cfg.Address = DefaultAddress
		if cfg.Port == 0 {
			cfg.Port = DefaultPort
		}
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.NewParser == nil {
		cfg.NewParser = newRawParser
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.L()
	}

	addr := net.JoinHostPort(cfg.Address, strconv.Itoa(cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen %s", addr)
	}

	lfd, err := listenerFD(ln)
	if err != nil {
		ln.Close()
		return nil, err
	}

	p, err := poller.NewPoller()
	if err != nil {
		ln.Close()
		return nil, err
	}

	if err := p.Add(lfd); err != nil {
		p.Close()
		ln.Close()
		return nil, err
	}

	l := &EventLoop{
		handler:      h,
		newParser:    cfg.NewParser,
		log:          cfg.Logger.With(zap.Stringer("listener", ln.Addr())),
		ln:           ln,
		lfd:          lfd,
		poller:       p,
		conns:        NewRegistry(),
		buf:          make([]byte, cfg.BufferSize),
		writeTimeout: cfg.WriteTimeout,
		idleTimeout:  cfg.IdleTimeout,
		teardown:     make(chan struct{}),
		done:         make(chan struct{}),
	}

	// OnStart completes before the loop can accept anything
	h.OnStart()

	go l.run()

	l.log.Info("event loop listening", zap.Int("buffer_size", cfg.BufferSize))
	return l, nil
}

// listenerFD returns the descriptor behind ln without duplicating it. The
// runtime already put it in non-blocking mode.
func listenerFD(ln net.Listener) (int, error) {
	tl, ok := ln.(*net.TCPListener)
	if !ok {
		return -1, errors.Errorf("unexpected listener type %T", ln)
	}
	rc, err := tl.SyscallConn()
	if err != nil {
		return -1, errors.Wrap(err, "listener syscall conn")
	}

	fd := -1
	if err := rc.Control(func(s uintptr) { fd = int(s) }); err != nil {
		return -1, errors.Wrap(err, "listener control")
	}
	return fd, nil
}

// Addr returns the bound listener address
func (l *EventLoop) Addr() net.Addr {
	return l.ln.Addr()
}

// LiveConnections returns the number of open connections
func (l *EventLoop) LiveConnections() int {
	return l.conns.Len()
}

// Done is closed after the loop goroutine released the poller and the
// listening socket.
func (l *EventLoop) Done() <-chan struct{} {
	return l.done
}

// Close shuts the loop down. It is safe to call any number of times from any
// goroutine; only the first call has an effect. Live connections are closed
// synchronously without OnClose, then the loop goroutine is woken and
// releases the poller and listener itself. Teardown errors are logged and
// Close always returns nil.
func (l *EventLoop) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}

	conns := l.conns.Drain()
	for _, c := range conns {
		if _, err := c.release(); err != nil {
			l.log.Warn("close connection on shutdown", zap.Stringer("conn", c), zap.Error(err))
		}
	}
	l.stats.closed.Add(uint64(len(conns)))

	l.wakeMu.Lock()
	l.pending = nil
	if err := l.poller.Wake(); err != nil {
		l.log.Error("wake poller", zap.Error(err))
	}
	close(l.teardown)
	l.wakeMu.Unlock()

	l.log.Info("event loop closing", zap.Int("connections", len(conns)))
	return nil
}

func (l *EventLoop) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for !l.closed.Load() {
		fds, err := l.poller.Wait(l.waitTimeout())
		if err != nil {
			l.log.Error("poller wait", zap.Error(err))
			time.Sleep(pollRetryDelay)
			continue
		}

		for _, fd := range fds {
			if l.closed.Load() {
				break
			}
			if fd == l.lfd {
				l.accept()
				continue
			}
			c, ok := l.conns.Get(fd)
			if !ok {
				// closed earlier in this cycle
				continue
			}
			l.handleRead(c)
		}

		l.runPendingCloses()

		if l.idleTimeout > 0 && !l.closed.Load() {
			if now := time.Now(); !now.Before(l.nextReap) {
				l.reapIdle(now)
				l.nextReap = now.Add(l.idleTimeout / 2)
			}
		}
	}

	// Close may still be draining; the poller must outlive its Wake call
	<-l.teardown

	if err := l.poller.Close(); err != nil {
		l.log.Error("close poller", zap.Error(err))
	}
	if err := l.ln.Close(); err != nil {
		l.log.Error("close listener", zap.Error(err))
	}
	close(l.done)
	l.log.Info("event loop stopped")
}

func (l *EventLoop) waitTimeout() int {
	if l.idleTimeout <= 0 {
		return -1
	}
	ms := int(l.idleTimeout / 2 / time.Millisecond)
	if ms < 1 {
		ms = 1
	}
	return ms
}

// accept takes one pending connection off the listening socket.
func (l *EventLoop) accept() {
	nfd, sa, err := acceptConn(l.lfd)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EINTR || err == unix.ECONNABORTED {
			return
		}
		l.stats.acceptErrors.Add(1)
		l.log.Warn("accept", zap.Error(err))
		return
	}

	// Disable Nagle's algorithm
	if err := unix.SetsockoptInt(nfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
		l.log.Debug("set TCP_NODELAY", zap.Int("fd", nfd), zap.Error(err))
	}

	c := newConn(l, nfd, sa, l.newParser())

	if err := l.poller.Add(nfd); err != nil {
		l.stats.acceptErrors.Add(1)
		l.log.Warn("register connection", zap.Stringer("conn", c), zap.Error(err))
		c.release()
		return
	}

	if !l.conns.Add(c) {
		// lost the race with Close
		c.release()
		return
	}

	l.stats.accepted.Add(1)
	l.log.Debug("connection accepted", zap.Stringer("conn", c))
}

// handleRead performs one read and dispatches whatever it completes.
func (l *EventLoop) handleRead(c *Conn) {
	n, err := c.read(l.buf)
	switch {
	case err == unix.EAGAIN:
		return
	case err == ErrConnClosed:
		return
	case err != nil:
		l.fail(c, errors.Wrap(err, "read"))
		return
	case n == 0:
		// orderly close by the peer
		l.closeConn(c)
		return
	}

	l.stats.bytesRead.Add(uint64(n))

	// requests completed before a parse error are still dispatched
	reqs, perr := c.feed(l.buf[:n])
	if perr == ErrConnClosed {
		return
	}

	for _, req := range reqs {
		if l.closed.Load() || c.Closed() {
			return
		}
		l.stats.requests.Add(1)
		if err := l.handler.OnRequest(c, req); err != nil {
			l.fail(c, err)
			return
		}
	}

	if perr != nil && !c.Closed() {
		l.fail(c, perr)
	}
}

// scheduleClose queues c for the loop goroutine and wakes it.
func (l *EventLoop) scheduleClose(c *Conn) {
	l.wakeMu.Lock()
	defer l.wakeMu.Unlock()

	// after shutdown began Close releases every registered connection
	if l.closed.Load() {
		return
	}
	l.pending = append(l.pending, c)
	if err := l.poller.Wake(); err != nil {
		l.log.Error("wake poller", zap.Error(err))
	}
}

func (l *EventLoop) runPendingCloses() {
	l.wakeMu.Lock()
	pending := l.pending
	l.pending = nil
	l.wakeMu.Unlock()

	for _, c := range pending {
		l.closeConn(c)
	}
}

// closeConn tears c down during normal operation and fires OnClose. It runs
// on the loop goroutine only, so the poller is still open. Only the caller
// that removes c from the registry does any work, and no OnClose fires once
// shutdown began.
func (l *EventLoop) closeConn(c *Conn) bool {
	if !l.conns.Remove(c) {
		return false
	}

	if err := l.poller.Remove(c.fd); err != nil {
		l.log.Debug("deregister connection", zap.Stringer("conn", c), zap.Error(err))
	}
	if _, err := c.release(); err != nil {
		l.log.Warn("close connection", zap.Stringer("conn", c), zap.Error(err))
	}

	l.stats.closed.Add(1)
	if l.closed.Load() {
		return false
	}

	l.log.Debug("connection closed", zap.Stringer("conn", c))
	l.handler.OnClose(c)
	return true
}

// fail handles a connection-fatal error: close, OnClose, then OnException.
func (l *EventLoop) fail(c *Conn, err error) {
	if !l.closeConn(c) {
		return
	}

	l.stats.exceptions.Add(1)
	l.log.Debug("connection failed", zap.Stringer("conn", c), zap.Error(err))
	l.handler.OnException(&ConnError{Conn: c, Err: err})
}

// reapIdle closes connections idle for longer than the idle timeout. run
// calls it at most once per half timeout.
func (l *EventLoop) reapIdle(now time.Time) {
	l.reapScans++
	for _, c := range l.conns.Snapshot() {
		if now.Sub(c.lastActive) > l.idleTimeout {
			l.log.Debug("closing idle connection", zap.Stringer("conn", c))
			l.closeConn(c)
		}
	}
}
