// Package observability keeps per-request-kind latency and error counters.
package observability

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Thresholds used by Bottlenecks
const (
	SlowThreshold      = 100 * time.Millisecond
	ErrorRateThreshold = 0.05
)

// bucketBounds are the upper bounds of the latency histogram; the last bucket
// is open-ended.
var bucketBounds = [...]time.Duration{
	time.Millisecond,
	5 * time.Millisecond,
	10 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
	5 * time.Second,
	10 * time.Second,
}

// Monitor records request durations keyed by a caller-chosen kind, such as
// "GET 200". Keys should have low cardinality.
type Monitor struct {
	enabled atomic.Bool
	kinds   sync.Map // string -> *kindMetrics
	total   atomic.Uint64
}

type kindMetrics struct {
	count   atomic.Uint64
	errors  atomic.Uint64
	totalNs atomic.Uint64
	minNs   atomic.Uint64
	maxNs   atomic.Uint64
	buckets [len(bucketBounds) + 1]atomic.Uint64
}

// KindStats is a snapshot of one request kind
type KindStats struct {
	Kind    string
	Count   uint64
	Errors  uint64
	Avg     time.Duration
	Min     time.Duration
	Max     time.Duration
	Buckets []uint64
}

// Bottleneck is a request kind that is slow or failing
type Bottleneck struct {
	Type     string // "latency" or "errors"
	Kind     string
	Severity int
	Details  string
}

// NewMonitor creates an enabled monitor
func NewMonitor() *Monitor {
	m := &Monitor{}
	m.enabled.Store(true)
	return m
}

// SetEnabled turns recording on or off
func (m *Monitor) SetEnabled(on bool) {
	m.enabled.Store(on)
}

// Record adds one observation for kind
func (m *Monitor) Record(kind string, d time.Duration, isError bool) {
	if !m.enabled.Load() {
		return
	}

	val, _ := m.kinds.LoadOrStore(kind, &kindMetrics{})
	km := val.(*kindMetrics)

	ns := uint64(d.Nanoseconds())
	km.count.Add(1)
	if isError {
		km.errors.Add(1)
	}
	km.totalNs.Add(ns)
	updateMin(&km.minNs, ns)
	updateMax(&km.maxNs, ns)
	km.buckets[bucketIndex(d)].Add(1)

	m.total.Add(1)
}

// Total returns the number of recorded observations
func (m *Monitor) Total() uint64 {
	return m.total.Load()
}

func updateMin(v *atomic.Uint64, ns uint64) {
	for {
		cur := v.Load()
		if cur != 0 && ns >= cur {
			return
		}
		if v.CompareAndSwap(cur, ns) {
			return
		}
	}
}

func updateMax(v *atomic.Uint64, ns uint64) {
	for {
		cur := v.Load()
		if ns <= cur {
			return
		}
		if v.CompareAndSwap(cur, ns) {
			return
		}
	}
}

func bucketIndex(d time.Duration) int {
	for i, bound := range bucketBounds {
		if d < bound {
			return i
		}
	}
	return len(bucketBounds)
}

// Snapshot returns the stats of every kind sorted by name
func (m *Monitor) Snapshot() []KindStats {
	var out []KindStats
	m.kinds.Range(func(key, value any) bool {
		km := value.(*kindMetrics)
		ks := KindStats{
			Kind:    key.(string),
			Count:   km.count.Load(),
			Errors:  km.errors.Load(),
			Min:     time.Duration(km.minNs.Load()),
			Max:     time.Duration(km.maxNs.Load()),
			Buckets: make([]uint64, len(km.buckets)),
		}
		if ks.Count > 0 {
			ks.Avg = time.Duration(km.totalNs.Load() / ks.Count)
		}
		for i := range km.buckets {
			ks.Buckets[i] = km.buckets[i].Load()
		}
		out = append(out, ks)
		return true
	})

	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

// Map returns the snapshot keyed by kind, with durations in microseconds
func (m *Monitor) Map() map[string]any {
	out := make(map[string]any)
	for _, ks := range m.Snapshot() {
		out[ks.Kind] = map[string]any{
			"count":  ks.Count,
			"errors": ks.Errors,
			"avg_us": ks.Avg.Microseconds(),
			"min_us": ks.Min.Microseconds(),
			"max_us": ks.Max.Microseconds(),
		}
	}
	return out
}

// Bottlenecks reports kinds whose average latency exceeds SlowThreshold or
// whose error rate exceeds ErrorRateThreshold.
func (m *Monitor) Bottlenecks() []Bottleneck {
	var out []Bottleneck
	for _, ks := range m.Snapshot() {
		if ks.Count == 0 {
			continue
		}
		if ks.Avg > SlowThreshold {
			out = append(out, Bottleneck{
				Type:     "latency",
				Kind:     ks.Kind,
				Severity: 8,
				Details:  fmt.Sprintf("high latency (%v avg)", ks.Avg),
			})
		}
		rate := float64(ks.Errors) / float64(ks.Count)
		if rate > ErrorRateThreshold {
			out = append(out, Bottleneck{
				Type:     "errors",
				Kind:     ks.Kind,
				Severity: 10,
				Details:  fmt.Sprintf("%.1f%% error rate", rate*100),
			})
		}
	}
	return out
}
