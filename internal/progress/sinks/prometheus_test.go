package sinks

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/dossier-crawler/internal/progress"
)

func TestPrometheusSinkSetsGauges(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	sink.Callback()(progress.Snapshot{
		Total:              10,
		Processed:          4,
		Successful:         3,
		Failed:             1,
		ItemsPerSecond:     0.5,
		EstimatedRemaining: 12 * time.Second,
	})

	require.Equal(t, 10.0, testutil.ToFloat64(sink.total))
	require.Equal(t, 4.0, testutil.ToFloat64(sink.processed))
	require.Equal(t, 3.0, testutil.ToFloat64(sink.successful))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.failed))
	require.InDelta(t, 0.5, testutil.ToFloat64(sink.rate), 1e-9)
	require.InDelta(t, 12.0, testutil.ToFloat64(sink.eta), 1e-9)
	require.Equal(t, 6, testutil.CollectAndCount(reg))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
