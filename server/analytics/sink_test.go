package analytics

import (
	"os"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

func TestStatsSinkRoundTrip(t *testing.T) {
	sink := NewStatsSink(logs.NewTestingLog(t), t.TempDir())

	_, ok := sink.Read(5)
	require.False(t, ok)

	stats := NewZoneStats(2)
	stats.TotalVehicles = 3
	stats.VehicleTypeCounts["car"] = 2
	stats.VehicleTypeCounts["bus"] = 1
	stats.ZoneVehicleCounts[0]["car"] = 2
	stats.ZoneVehicleCounts[1]["bus"] = 1

	require.NoError(t, sink.Write(5, &stats))
	got, ok := sink.Read(5)
	require.True(t, ok)
	require.Equal(t, stats, *got)

	// Each write replaces the whole snapshot
	next := NewZoneStats(2)
	next.TotalVehicles = 1
	next.VehicleTypeCounts["truck"] = 1
	next.ZoneVehicleCounts[1]["truck"] = 1
	require.NoError(t, sink.Write(5, &next))
	got, ok = sink.Read(5)
	require.True(t, ok)
	require.Equal(t, next, *got)
	require.NotContains(t, got.VehicleTypeCounts, "car")
}

func TestStatsSinkDelete(t *testing.T) {
	sink := NewStatsSink(logs.NewTestingLog(t), t.TempDir())

	stats := NewZoneStats(1)
	require.NoError(t, sink.Write(9, &stats))
	_, ok := sink.Read(9)
	require.True(t, ok)

	require.NoError(t, sink.Delete(9))
	_, ok = sink.Read(9)
	require.False(t, ok)

	// Deleting again is fine
	require.NoError(t, sink.Delete(9))
}

func TestStatsSinkCorrupt(t *testing.T) {
	sink := NewStatsSink(logs.NewTestingLog(t), t.TempDir())
	require.NoError(t, os.WriteFile(sink.Filename(3), []byte("{garbage"), 0644))
	_, ok := sink.Read(3)
	require.False(t, ok)
}
