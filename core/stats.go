package core

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
)

// Stats is a point-in-time view of an EventLoop's counters
type Stats struct {
	Live         int    `json:"live"`
	Accepted     uint64 `json:"accepted"`
	Closed       uint64 `json:"closed"`
	Exceptions   uint64 `json:"exceptions"`
	AcceptErrors uint64 `json:"accept_errors"`
	Requests     uint64 `json:"requests"`
	BytesRead    uint64 `json:"bytes_read"`
}

type loopStats struct {
	accepted     atomic.Uint64
	closed       atomic.Uint64
	exceptions   atomic.Uint64
	acceptErrors atomic.Uint64
	requests     atomic.Uint64
	bytesRead    atomic.Uint64
}

// Stats returns the loop counters. It may be called from any goroutine.
func (l *EventLoop) Stats() Stats {
	return Stats{
		Live:         l.conns.Len(),
		Accepted:     l.stats.accepted.Load(),
		Closed:       l.stats.closed.Load(),
		Exceptions:   l.stats.exceptions.Load(),
		AcceptErrors: l.stats.acceptErrors.Load(),
		Requests:     l.stats.requests.Load(),
		BytesRead:    l.stats.bytesRead.Load(),
	}
}

// Map returns the stats keyed by their JSON names
func (s Stats) Map() map[string]any {
	return map[string]any{
		"live":          s.Live,
		"accepted":      s.Accepted,
		"closed":        s.Closed,
		"exceptions":    s.Exceptions,
		"accept_errors": s.AcceptErrors,
		"requests":      s.Requests,
		"bytes_read":    s.BytesRead,
	}
}

// JSON returns the stats as an indented JSON document
func (s Stats) JSON() string {
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}

// String returns the stats as human-readable text
func (s Stats) String() string {
	return fmt.Sprintf(`Event Loop Statistics
=====================

Connections:
  Live:          %d
  Accepted:      %d
  Closed:        %d
  Accept errors: %d

Traffic:
  Requests:      %d
  Bytes read:    %d
  Exceptions:    %d
`,
		s.Live, s.Accepted, s.Closed, s.AcceptErrors,
		s.Requests, s.BytesRead, s.Exceptions,
	)
}
