package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSetBackendStatus_OneHotAcrossCalls(t *testing.T) {
	t.Parallel()

	reg := New(prometheus.NewRegistry())

	reg.SetBackendStatus("weather", "connecting")
	assert.Equal(t, float64(1), testutil.ToFloat64(reg.BackendStatus.WithLabelValues("weather", "connecting")))
	assert.Equal(t, float64(0), testutil.ToFloat64(reg.BackendStatus.WithLabelValues("weather", "connected")))

	reg.SetBackendStatus("weather", "connected")
	assert.Equal(t, float64(0), testutil.ToFloat64(reg.BackendStatus.WithLabelValues("weather", "connecting")), "the previous status should be zeroed out")
	assert.Equal(t, float64(1), testutil.ToFloat64(reg.BackendStatus.WithLabelValues("weather", "connected")))
}

func TestIncBackendFailures(t *testing.T) {
	t.Parallel()

	reg := New(prometheus.NewRegistry())

	reg.IncBackendFailures("weather")
	reg.IncBackendFailures("weather")

	assert.Equal(t, float64(2), testutil.ToFloat64(reg.BackendFailures.WithLabelValues("weather")))
}

func TestObserveRequest(t *testing.T) {
	t.Parallel()

	reg := New(prometheus.NewRegistry())

	reg.ObserveRequest("weather", "tools/call", 0.2)

	assert.Equal(t, float64(1), testutil.ToFloat64(reg.RequestsTotal.WithLabelValues("weather", "tools/call")))
}

func TestIncError(t *testing.T) {
	t.Parallel()

	reg := New(prometheus.NewRegistry())

	reg.IncError("weather", "timeout")

	assert.Equal(t, float64(1), testutil.ToFloat64(reg.ErrorsTotal.WithLabelValues("weather", "timeout")))
}

func TestIncRetry(t *testing.T) {
	t.Parallel()

	reg := New(prometheus.NewRegistry())

	reg.IncRetry("weather")
	reg.IncRetry("weather")
	reg.IncRetry("weather")

	assert.Equal(t, float64(3), testutil.ToFloat64(reg.RetriesTotal.WithLabelValues("weather")))
}

func TestIncListChanged(t *testing.T) {
	t.Parallel()

	reg := New(prometheus.NewRegistry())

	reg.IncListChanged("tools")

	assert.Equal(t, float64(1), testutil.ToFloat64(reg.ListChangedTotal.WithLabelValues("tools")))
}
