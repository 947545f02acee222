package prometheus

import (
	"testing"
	"time"

	"github.com/marmos91/netclass/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionMetrics(t *testing.T) {
	metrics.InitRegistry()
	m := NewSessionMetrics()

	m.RecordMessage("NetworkClassCreated", time.Millisecond, "")
	m.RecordMessage("NetworkClassUpdated", time.Millisecond, "Unauthorized")
	m.RecordConnectionAccepted()
	m.RecordConnectionRejected("password")
	m.SetActiveConnections(2)
	m.SetOwnedObjects(3)
	m.SetPendingSnapshots(1)
	m.RecordSnapshotRelayed(4)

	families, err := metrics.GetRegistry().Gather()
	require.NoError(t, err)

	values := make(map[string]float64)
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			switch {
			case metric.GetCounter() != nil:
				values[f.GetName()] += metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				values[f.GetName()] = metric.GetGauge().GetValue()
			}
		}
	}

	assert.Equal(t, 2.0, values["netclass_messages_total"])
	assert.Equal(t, 1.0, values["netclass_connections_accepted_total"])
	assert.Equal(t, 1.0, values["netclass_connections_rejected_total"])
	assert.Equal(t, 2.0, values["netclass_active_connections"])
	assert.Equal(t, 3.0, values["netclass_owned_objects"])
	assert.Equal(t, 1.0, values["netclass_pending_snapshots"])
	assert.Equal(t, 1.0, values["netclass_snapshots_relayed_total"])
}
