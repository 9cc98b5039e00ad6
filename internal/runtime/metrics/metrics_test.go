package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheus_RegisterIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheus(reg)

	require.NoError(t, m.Register())
	require.NoError(t, m.Register())

	other := NewPrometheus(reg)
	err := other.Register()
	require.NoError(t, err, "duplicate registration of identical collectors should be tolerated")
}

func TestPrometheus_Inc(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheus(reg)
	require.NoError(t, m.Register())

	m.Inc(CounterUpserts)
	m.Inc(CounterUpserts)
	m.Inc(CounterDeletes)
	m.Inc(Counter("not_a_counter"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Counter(CounterUpserts)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Counter(CounterDeletes)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Counter(CounterDroppedWrites)))
	assert.Nil(t, m.Counter(Counter("not_a_counter")))
}

func TestPrometheus_ObservePropagationKeepsNegativeValues(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheus(reg)
	require.NoError(t, m.Register())

	m.ObservePropagation(5 * time.Second)
	m.ObservePropagation(-2 * time.Second)

	assert.Equal(t, -2.0, testutil.ToFloat64(m.lastPropagation))
	assert.Equal(t, 1, testutil.CollectAndCount(m.Propagation()))

	expected := `
# HELP cdcsync_last_propagation_delay_seconds Most recent propagation delay; negative values indicate clock skew
# TYPE cdcsync_last_propagation_delay_seconds gauge
cdcsync_last_propagation_delay_seconds -2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "cdcsync_last_propagation_delay_seconds"))
}

func TestPrometheus_ObserveApplyByOperation(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheus(reg)
	require.NoError(t, m.Register())

	m.ObserveApply("create", 10*time.Millisecond)
	m.ObserveApply("delete", 20*time.Millisecond)

	assert.Equal(t, 2, testutil.CollectAndCount(m.applyDuration))
}

func TestPrometheus_MetricNames(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheus(reg)
	require.NoError(t, m.Register())
	m.ObserveApply("create", time.Millisecond)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"cdcsync_upserts_total",
		"cdcsync_deletes_total",
		"cdcsync_apply_duration_seconds",
		"cdcsync_propagation_delay_seconds",
		"cdcsync_dead_lettered_total",
	} {
		assert.True(t, names[want], "missing metric %s", want)
	}
}

func TestNopRecorder(t *testing.T) {
	var r Recorder = Nop{}
	r.Inc(CounterUpserts)
	r.ObserveApply("create", time.Second)
	r.ObservePropagation(time.Second)
}
