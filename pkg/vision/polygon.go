package vision

// Polygon is a closed polygon with integer vertex coordinates.
// The edge from the last vertex back to the first is implicit.
type Polygon []Point

// Valid polygons have at least 3 vertices.
func (poly Polygon) Valid() bool {
	return len(poly) >= 3
}

// Bounds returns the axis-aligned bounding box of the polygon.
func (poly Polygon) Bounds() Rect {
	if len(poly) == 0 {
		return Rect{}
	}
	x1, y1 := poly[0].X, poly[0].Y
	x2, y2 := x1, y1
	for _, p := range poly[1:] {
		x1 = min(x1, p.X)
		y1 = min(y1, p.Y)
		x2 = max(x2, p.X)
		y2 = max(y2, p.Y)
	}
	return Rect{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1}
}

// Contains reports whether pt is inside the polygon, by casting a ray in +X
// and counting edge crossings. An invalid polygon contains nothing.
// The crossing comparison is inclusive, so boundary points resolve
// deterministically, but depending on the surrounding edges they can land
// on either side. See TestPolygonBoundary for the concrete behavior.
func (poly Polygon) Contains(pt Point) bool {
	if !poly.Valid() {
		return false
	}
	x, y := float32(pt.X), float32(pt.Y)
	inside := false
	p1 := poly[0]
	for i := 1; i <= len(poly); i++ {
		p2 := poly[i%len(poly)]
		// Horizontal edges fail the Y window test, so p1.Y != p2.Y below.
		if pt.Y > min(p1.Y, p2.Y) && pt.Y <= max(p1.Y, p2.Y) && pt.X <= max(p1.X, p2.X) {
			crosses := p1.X == p2.X
			if !crosses {
				xInters := (y-float32(p1.Y))*float32(p2.X-p1.X)/float32(p2.Y-p1.Y) + float32(p1.X)
				crosses = x <= xInters
			}
			if crosses {
				inside = !inside
			}
		}
		p1 = p2
	}
	return inside
}
