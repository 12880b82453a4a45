package fitter

import (
	"math"

	"backend-shaperun/internal/shape"
	"backend-shaperun/internal/shared/geo"
)

// orderFrom rotates a closed outline's vertex cycle so anchor comes first.
func orderFrom(o shape.Outline, anchor int) []shape.Point {
	if !o.Closed || anchor == 0 {
		return append([]shape.Point(nil), o.Points...)
	}
	out := make([]shape.Point, 0, len(o.Points))
	out = append(out, o.Points[anchor:]...)
	return append(out, o.Points[:anchor]...)
}

// place puts ring[0] on start, rotates the outline counter-clockwise by
// rotationDeg and scales unit lengths to metres.
func place(ring []shape.Point, start geo.LatLng, rotationDeg, scale float64) []geo.LatLng {
	theta := rotationDeg * math.Pi / 180
	sin, cos := math.Sin(theta), math.Cos(theta)
	origin := ring[0]
	out := make([]geo.LatLng, len(ring))
	for i, p := range ring {
		x, y := p.X-origin.X, p.Y-origin.Y
		east := (x*cos - y*sin) * scale
		north := (x*sin + y*cos) * scale
		out[i] = geo.Offset(start, east, north)
	}
	return out
}

// densify splits edges longer than maxSegM, keeping every input vertex.
func densify(pts []geo.LatLng, maxSegM float64) []geo.LatLng {
	if len(pts) < 2 || maxSegM <= 0 {
		return pts
	}
	out := []geo.LatLng{pts[0]}
	for i := 1; i < len(pts); i++ {
		a, b := pts[i-1], pts[i]
		n := int(math.Ceil(geo.Distance(a, b) / maxSegM))
		for k := 1; k < n; k++ {
			out = append(out, geo.Lerp(a, b, float64(k)/float64(n)))
		}
		out = append(out, b)
	}
	return out
}
