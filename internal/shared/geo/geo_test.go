package geo

import (
	"math"
	"testing"
)

func TestHaversineKm(t *testing.T) {
	// Jakarta (-6.2, 106.816) to Bandung (-6.9175, 107.6191) ~ 115-120 km
	d := HaversineKm(-6.2, 106.816, -6.9175, 107.6191)
	if d < 100 || d > 140 {
		t.Fatalf("unexpected distance: %v", d)
	}
}

func TestOffsetRoundTrip(t *testing.T) {
	origin := LatLng{Lat: 37.5665, Lng: 126.9780}
	p := Offset(origin, 300, -400)
	if d := Distance(origin, p); math.Abs(d-500) > 2 {
		t.Fatalf("expected ~500m, got %v", d)
	}
	x, y := ToLocal(origin, p)
	if math.Abs(x-300) > 0.01 || math.Abs(y+400) > 0.01 {
		t.Fatalf("unexpected local coords %v %v", x, y)
	}
}

func TestDistanceToSegment(t *testing.T) {
	origin := LatLng{Lat: 37.5, Lng: 127}
	a := Offset(origin, -100, 0)
	b := Offset(origin, 100, 0)
	p := Offset(origin, 0, 30)
	if d := DistanceToSegment(p, a, b); math.Abs(d-30) > 0.5 {
		t.Fatalf("expected 30m, got %v", d)
	}
	beyond := Offset(origin, 140, 30)
	if d := DistanceToSegment(beyond, a, b); math.Abs(d-50) > 0.5 {
		t.Fatalf("expected 50m to endpoint, got %v", d)
	}
	if d := DistanceToPath(p, nil); !math.IsInf(d, 1) {
		t.Fatalf("empty path should be infinitely far")
	}
}

func TestSampleSpacing(t *testing.T) {
	origin := LatLng{Lat: 37.5, Lng: 127}
	path := []LatLng{origin, Offset(origin, 105, 0), Offset(origin, 105, 50)}
	pts := Sample(path, 20)
	if pts[0] != path[0] || pts[len(pts)-1] != path[2] {
		t.Fatalf("sample must keep both ends")
	}
	// 155m of path at 20m spacing: 7 interior steps plus both ends
	if len(pts) != 9 {
		t.Fatalf("expected 9 samples, got %d", len(pts))
	}
	for i := 1; i < len(pts)-1; i++ {
		if d := PathLength(pts[:i+1]); math.Abs(d-float64(i)*20) > 12 {
			t.Fatalf("sample %d drifted: %v", i, d)
		}
	}
}

func TestDivergence(t *testing.T) {
	origin := LatLng{Lat: 37.5, Lng: 127}
	a := []LatLng{origin, Offset(origin, 500, 0)}
	b := []LatLng{Offset(origin, 0, 60), Offset(origin, 500, 60)}
	if d := Divergence(a, a, 20); d > 0.01 {
		t.Fatalf("identical paths should not diverge: %v", d)
	}
	if d := Divergence(a, b, 20); math.Abs(d-60) > 1 {
		t.Fatalf("expected ~60m divergence, got %v", d)
	}
}

func TestValidAndBounds(t *testing.T) {
	if (LatLng{Lat: 91, Lng: 0}).Valid() || (LatLng{Lat: math.NaN()}).Valid() {
		t.Fatalf("expected invalid coordinates")
	}
	origin := LatLng{Lat: 37.5, Lng: 127}
	box := Bounds([]LatLng{origin, Offset(origin, 100, 100)}, 10)
	if box.MinLat >= origin.Lat || box.MaxLng <= origin.Lng {
		t.Fatalf("unexpected bounds %+v", box)
	}
}
