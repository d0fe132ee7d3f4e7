package core

import "sync"

// Registry is the set of live connections of one EventLoop, keyed by fd.
//
// The loop goroutine adds, looks up and removes; EventLoop.Close drains it
// from whichever goroutine wins the shutdown. Once drained it refuses new
// members so a connection accepted concurrently with shutdown cannot leak.
type Registry struct {
	mu      sync.Mutex
	conns   map[int]*Conn
	drained bool
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{conns: make(map[int]*Conn, 1024)}
}

// Add inserts c. It reports false when the registry was drained or the fd
// is already tracked.
func (r *Registry) Add(c *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.drained {
		return false
	}
	if _, ok := r.conns[c.fd]; ok {
		return false
	}
	r.conns[c.fd] = c
	return true
}

// Remove deletes c if it is still the member tracked for its fd.
func (r *Registry) Remove(c *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.conns[c.fd]; !ok || cur != c {
		return false
	}
	delete(r.conns, c.fd)
	return true
}

// Get returns the connection registered for fd.
func (r *Registry) Get(fd int) (*Conn, bool) {
	r.mu.Lock()
	c, ok := r.conns[fd]
	r.mu.Unlock()
	return c, ok
}

// Len returns the number of live connections
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Snapshot returns the current members in no particular order.
func (r *Registry) Snapshot() []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

// Drain empties the registry, returns what it held and refuses later adds.
func (r *Registry) Drain() []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	r.conns = make(map[int]*Conn)
	r.drained = true
	return out
}
