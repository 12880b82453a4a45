package shape

import (
	"math"

	"backend-shaperun/internal/apperr"
)

const collinearTolerance = 1e-9

// Validate rejects outlines the fitter cannot work with.
func Validate(points []Point) error {
	for _, p := range points {
		if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
			return apperr.New(apperr.InvalidShape, "outline contains non-finite coordinates")
		}
	}
	distinct := dedupe(points)
	if len(distinct) < 3 {
		return apperr.Newf(apperr.InvalidShape, "outline needs at least 3 distinct points, got %d", len(distinct))
	}
	minX, minY, maxX, maxY := extent(distinct)
	if maxX-minX == 0 && maxY-minY == 0 {
		return apperr.New(apperr.InvalidShape, "outline has zero extent")
	}
	if collinear(distinct) {
		return apperr.New(apperr.InvalidShape, "outline points are collinear")
	}
	return nil
}

// Normalize validates points and scales them into the unit square,
// keeping the aspect ratio. Consecutive duplicates and a repeated
// closing vertex are dropped.
func Normalize(points []Point, closed bool) (Outline, error) {
	if err := Validate(points); err != nil {
		return Outline{}, err
	}
	pts := dropConsecutive(points)
	if closed && len(pts) > 1 && pts[0] == pts[len(pts)-1] {
		pts = pts[:len(pts)-1]
	}
	minX, minY, maxX, maxY := extent(pts)
	size := math.Max(maxX-minX, maxY-minY)
	out := make([]Point, len(pts))
	for i, p := range pts {
		out[i] = Point{X: (p.X - minX) / size, Y: (p.Y - minY) / size}
	}
	return Outline{Points: out, Closed: closed}, nil
}

// Perimeter is the outline length in its own units, including the
// closing edge for closed outlines.
func (o Outline) Perimeter() float64 {
	total := 0.0
	for i := 1; i < len(o.Points); i++ {
		total += dist(o.Points[i-1], o.Points[i])
	}
	if o.Closed && len(o.Points) > 2 {
		total += dist(o.Points[len(o.Points)-1], o.Points[0])
	}
	return total
}

// Ring returns the vertices in drawing order, repeating the first
// vertex at the end of closed outlines.
func (o Outline) Ring() []Point {
	out := append([]Point(nil), o.Points...)
	if o.Closed && len(out) > 0 {
		out = append(out, out[0])
	}
	return out
}

func extent(points []Point) (minX, minY, maxX, maxY float64) {
	minX, minY = math.Inf(1), math.Inf(1)
	maxX, maxY = math.Inf(-1), math.Inf(-1)
	for _, p := range points {
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		maxX = math.Max(maxX, p.X)
		maxY = math.Max(maxY, p.Y)
	}
	return
}

func dedupe(points []Point) []Point {
	seen := make(map[Point]struct{}, len(points))
	var out []Point
	for _, p := range points {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

func dropConsecutive(points []Point) []Point {
	var out []Point
	for i, p := range points {
		if i > 0 && p == points[i-1] {
			continue
		}
		out = append(out, p)
	}
	return out
}

func collinear(points []Point) bool {
	a, b := points[0], points[1]
	for _, c := range points[2:] {
		cross := (b.X-a.X)*(c.Y-a.Y) - (b.Y-a.Y)*(c.X-a.X)
		if math.Abs(cross) > collinearTolerance {
			return false
		}
	}
	return true
}

func dist(a, b Point) float64 {
	return math.Hypot(b.X-a.X, b.Y-a.Y)
}
