package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersOnGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RPCCalls.WithLabelValues("get_height", "ok").Inc()
	m.Transitions.WithLabelValues("pending", "confirmed").Add(2)
	m.PendingIDs.Set(7)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RPCCalls.WithLabelValues("get_height", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Transitions.WithLabelValues("pending", "confirmed")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.PendingIDs))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNew_SeparateRegistriesDoNotCollide(t *testing.T) {
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "ok", Outcome(""))
	assert.Equal(t, "unreachable", Outcome("unreachable"))
}
