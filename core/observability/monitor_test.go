package observability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitorRecord(t *testing.T) {
	m := NewMonitor()

	m.Record("GET 200", 10*time.Millisecond, false)
	m.Record("GET 200", 20*time.Millisecond, false)
	m.Record("GET 200", 30*time.Millisecond, false)
	m.Record("GET 404", 2*time.Millisecond, false)

	snap := m.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "GET 200", snap[0].Kind)
	assert.EqualValues(t, 3, snap[0].Count)
	assert.Equal(t, 20*time.Millisecond, snap[0].Avg)
	assert.Equal(t, 10*time.Millisecond, snap[0].Min)
	assert.Equal(t, 30*time.Millisecond, snap[0].Max)
	// 10ms, 20ms and 30ms all fall in the [10ms, 50ms) bucket
	assert.EqualValues(t, 3, snap[0].Buckets[3])
	assert.EqualValues(t, 4, m.Total())
}

func TestMonitorDisabled(t *testing.T) {
	m := NewMonitor()
	m.SetEnabled(false)
	m.Record("GET 200", time.Millisecond, false)
	assert.Empty(t, m.Snapshot())
}

func TestMonitorMap(t *testing.T) {
	m := NewMonitor()
	m.Record("HEAD 200", 1500*time.Microsecond, false)

	kind, ok := m.Map()["HEAD 200"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 1, kind["count"])
	assert.EqualValues(t, 1500, kind["avg_us"])
}

func TestBottlenecks(t *testing.T) {
	m := NewMonitor()
	for i := 0; i < 10; i++ {
		m.Record("GET 200", 150*time.Millisecond, false)
		m.Record("GET 500", time.Millisecond, true)
		m.Record("GET 304", time.Millisecond, false)
	}

	got := map[string]string{}
	for _, b := range m.Bottlenecks() {
		got[b.Kind] = b.Type
	}
	assert.Equal(t, map[string]string{"GET 200": "latency", "GET 500": "errors"}, got)
}

func BenchmarkRecord(b *testing.B) {
	m := NewMonitor()
	for i := 0; i < b.N; i++ {
		m.Record("GET 200", 10*time.Millisecond, false)
	}
}
