package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersUnderNamespace(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New("qbtest", reg)

	m.SessionsCreated.Inc()
	m.BoundaryFailures.WithLabelValues("register_table", "InvalidArgument").Inc()
	m.BoundaryFailures.WithLabelValues("register_table", "InvalidArgument").Inc()

	require.Equal(t, 1.0, testutil.ToFloat64(m.SessionsCreated))
	require.Equal(t, 2.0, testutil.ToFloat64(m.BoundaryFailures.WithLabelValues("register_table", "InvalidArgument")))

	families, err := reg.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, family := range families {
		names[family.GetName()] = true
	}
	require.True(t, names["qbtest_sessions_created_total"])
	require.True(t, names["qbtest_boundary_failures_total"])
}
