package geo

import "math"

const (
	earthRadiusKm = 6371.0
	// metres per degree of latitude on the equirectangular approximation
	metresPerDegree = 111320.0
)

type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (p LatLng) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lng, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// Distance returns the great-circle distance in metres.
func Distance(a, b LatLng) float64 {
	return HaversineKm(a.Lat, a.Lng, b.Lat, b.Lng) * 1000
}

// Offset moves origin by east/north metres on a local flat frame.
func Offset(origin LatLng, eastM, northM float64) LatLng {
	return LatLng{
		Lat: origin.Lat + northM/metresPerDegree,
		Lng: origin.Lng + eastM/(metresPerDegree*math.Cos(toRad(origin.Lat))),
	}
}

// ToLocal projects p into east/north metres relative to origin.
func ToLocal(origin, p LatLng) (x, y float64) {
	x = (p.Lng - origin.Lng) * metresPerDegree * math.Cos(toRad(origin.Lat))
	y = (p.Lat - origin.Lat) * metresPerDegree
	return x, y
}

func PathLength(path []LatLng) float64 {
	total := 0.0
	for i := 1; i < len(path); i++ {
		total += Distance(path[i-1], path[i])
	}
	return total
}

// DistanceToSegment is the shortest distance in metres from p to segment ab.
func DistanceToSegment(p, a, b LatLng) float64 {
	ax, ay := ToLocal(p, a)
	bx, by := ToLocal(p, b)
	dx, dy := bx-ax, by-ay
	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		return math.Hypot(ax, ay)
	}
	t := -(ax*dx + ay*dy) / lenSq
	t = math.Max(0, math.Min(1, t))
	return math.Hypot(ax+t*dx, ay+t*dy)
}

func DistanceToPath(p LatLng, path []LatLng) float64 {
	switch len(path) {
	case 0:
		return math.Inf(1)
	case 1:
		return Distance(p, path[0])
	}
	best := math.Inf(1)
	for i := 1; i < len(path); i++ {
		if d := DistanceToSegment(p, path[i-1], path[i]); d < best {
			best = d
		}
	}
	return best
}

// Sample walks path and emits a point every stepM metres, always including both ends.
func Sample(path []LatLng, stepM float64) []LatLng {
	if len(path) < 2 || stepM <= 0 {
		return append([]LatLng(nil), path...)
	}
	out := []LatLng{path[0]}
	carry := 0.0
	for i := 1; i < len(path); i++ {
		a, b := path[i-1], path[i]
		seg := Distance(a, b)
		if seg == 0 {
			continue
		}
		pos := stepM - carry
		for pos <= seg {
			out = append(out, Lerp(a, b, pos/seg))
			pos += stepM
		}
		carry = seg - (pos - stepM)
	}
	if last := path[len(path)-1]; out[len(out)-1] != last {
		out = append(out, last)
	}
	return out
}

func Lerp(a, b LatLng, t float64) LatLng {
	return LatLng{Lat: a.Lat + (b.Lat-a.Lat)*t, Lng: a.Lng + (b.Lng-a.Lng)*t}
}

// MeanDistance is the average distance from each point to path.
func MeanDistance(points, path []LatLng) float64 {
	if len(points) == 0 {
		return 0
	}
	sum := 0.0
	for _, p := range points {
		sum += DistanceToPath(p, path)
	}
	return sum / float64(len(points))
}

// Divergence is the larger of the two directed mean distances between paths.
func Divergence(a, b []LatLng, stepM float64) float64 {
	return math.Max(MeanDistance(Sample(a, stepM), b), MeanDistance(Sample(b, stepM), a))
}

type BBox struct {
	MinLat, MinLng, MaxLat, MaxLng float64
}

// Bounds returns the bounding box of path padded by padM metres.
func Bounds(path []LatLng, padM float64) BBox {
	if len(path) == 0 {
		return BBox{}
	}
	box := BBox{MinLat: path[0].Lat, MinLng: path[0].Lng, MaxLat: path[0].Lat, MaxLng: path[0].Lng}
	for _, p := range path[1:] {
		box.MinLat = math.Min(box.MinLat, p.Lat)
		box.MinLng = math.Min(box.MinLng, p.Lng)
		box.MaxLat = math.Max(box.MaxLat, p.Lat)
		box.MaxLng = math.Max(box.MaxLng, p.Lng)
	}
	sw := Offset(LatLng{Lat: box.MinLat, Lng: box.MinLng}, -padM, -padM)
	ne := Offset(LatLng{Lat: box.MaxLat, Lng: box.MaxLng}, padM, padM)
	return BBox{MinLat: sw.Lat, MinLng: sw.Lng, MaxLat: ne.Lat, MaxLng: ne.Lng}
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
