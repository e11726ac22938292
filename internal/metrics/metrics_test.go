package metrics

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================
// Counters and gauges
// ============================================================

func TestCounter(t *testing.T) {
	c := NewCounter("test_total", "test counter")
	c.Inc()
	c.Add(4)
	assert.Equal(t, uint64(5), c.Value())
}

func TestGauge(t *testing.T) {
	g := NewGauge("test_gauge", "test gauge")
	g.Set(3)
	g.Inc()
	g.Dec()
	g.Dec()
	assert.Equal(t, int64(2), g.Value())
}

// ============================================================
// Registry
// ============================================================

func TestRegistryReturnsSameInstance(t *testing.T) {
	r := NewRegistry()
	a := r.Counter("events_total", "events")
	b := r.Counter("events_total", "events")
	require.Same(t, a, b)

	a.Inc()
	assert.Equal(t, uint64(1), b.Value())
}

func TestRegistrySnapshot(t *testing.T) {
	r := NewRegistry()
	r.Counter("commits_total", "commits").Add(7)
	r.Gauge("connected", "connected").Set(1)

	snap := r.Snapshot()
	assert.Equal(t, int64(7), snap["commits_total"])
	assert.Equal(t, int64(1), snap["connected"])
}

func TestWriteToPrometheusFormat(t *testing.T) {
	r := NewRegistry()
	r.Counter("b_total", "second").Add(2)
	r.Counter("a_total", "first").Inc()
	r.Gauge("up", "daemon up").Set(1)

	var sb strings.Builder
	_, err := r.WriteTo(&sb)
	require.NoError(t, err)

	out := sb.String()
	assert.Contains(t, out, "# TYPE a_total counter\na_total 1\n")
	assert.Contains(t, out, "# TYPE b_total counter\nb_total 2\n")
	assert.Contains(t, out, "# TYPE up gauge\nup 1\n")

	// Counters are emitted in sorted name order.
	assert.Less(t, strings.Index(out, "a_total"), strings.Index(out, "b_total"))
}
