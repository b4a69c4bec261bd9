package vision

import (
	"slices"

	"github.com/bmharper/flatbush-go"
)

// ZoneIndex answers point-in-zone queries against a fixed set of polygons.
// The bounding boxes go into a spatial index, so with many zones we only run
// the exact containment test on the handful whose box covers the point.
type ZoneIndex struct {
	polygons []Polygon
	fb       *flatbush.Flatbush[int32]
	nearby   []int
}

func NewZoneIndex(polygons []Polygon) *ZoneIndex {
	z := &ZoneIndex{
		polygons: polygons,
	}
	if len(polygons) != 0 {
		z.fb = flatbush.NewFlatbush[int32]()
		z.fb.Reserve(len(polygons))
		for _, poly := range polygons {
			b := poly.Bounds()
			z.fb.Add(int32(b.X), int32(b.Y), int32(b.X2()), int32(b.Y2()))
		}
		z.fb.Finish()
	}
	return z
}

// Locate returns the index of the first polygon that contains pt, or -1.
// When polygons overlap, the one earliest in the original list wins, so we
// sort the candidates that come back from the spatial index.
func (z *ZoneIndex) Locate(pt Point) int {
	if z.fb == nil {
		return -1
	}
	z.nearby = z.fb.SearchFast(int32(pt.X), int32(pt.Y), int32(pt.X), int32(pt.Y), z.nearby)
	slices.Sort(z.nearby)
	for _, i := range z.nearby {
		if z.polygons[i].Contains(pt) {
			return i
		}
	}
	return -1
}
