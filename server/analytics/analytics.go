package analytics

import (
	"github.com/zonecam/zonecam/pkg/vision"
	"github.com/zonecam/zonecam/server/zones"
)

// ZoneStats is the latest-state snapshot for one camera. The JSON field
// names are the published stats format, so don't rename them.
type ZoneStats struct {
	TotalVehicles     int              `json:"total_vehicles"`
	VehicleTypeCounts map[string]int   `json:"vehicle_type_counts"`
	ZoneVehicleCounts []map[string]int `json:"zone_vehicle_counts"`
}

// NewZoneStats returns an empty snapshot with one counts entry per zone.
func NewZoneStats(nZones int) ZoneStats {
	stats := ZoneStats{
		VehicleTypeCounts: map[string]int{},
		ZoneVehicleCounts: make([]map[string]int, nZones),
	}
	for i := range stats.ZoneVehicleCounts {
		stats.ZoneVehicleCounts[i] = map[string]int{}
	}
	return stats
}

// KeptDetection is a detection that passed the vehicle and zone gates,
// together with the index of the zone its centroid landed in.
type KeptDetection struct {
	vision.Detection
	Zone int
}

// Aggregate computes the stats snapshot for one frame. A detection is
// counted iff its class is a vehicle and its box centroid falls inside one
// of the given zones. ZoneVehicleCounts is aligned with zoneList. Inputs
// are never modified, and the result depends on nothing else.
func Aggregate(detections []vision.Detection, zoneList []zones.Zone) (ZoneStats, []KeptDetection) {
	stats := NewZoneStats(len(zoneList))
	idx := vision.NewZoneIndex(zones.Polygons(zoneList))
	kept := []KeptDetection{}
	for _, det := range detections {
		// The detector may return classes we didn't ask for
		if !vision.IsVehicleClass(det.Class) {
			continue
		}
		zone := idx.Locate(det.Box.Center())
		if zone == -1 {
			continue
		}
		name := det.ClassName()
		stats.TotalVehicles++
		stats.VehicleTypeCounts[name]++
		stats.ZoneVehicleCounts[zone][name]++
		kept = append(kept, KeptDetection{Detection: det, Zone: zone})
	}
	return stats, kept
}
