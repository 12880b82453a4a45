package roadgraph

import (
	"context"

	"backend-shaperun/internal/shared/geo"
)

// Path is a street-following polyline between two routable points.
type Path struct {
	Points    []geo.LatLng `json:"points"`
	DistanceM float64      `json:"distance_m"`
}

// Router answers the two questions the fitter asks of the street network.
// Nearest returns up to n routable points within radiusM of p ordered by
// distance; an empty result means nothing routable is close. ShortestPath
// fails with an UnroutableArea error when the points are disconnected.
type Router interface {
	Nearest(ctx context.Context, p geo.LatLng, radiusM float64, n int) ([]geo.LatLng, error)
	ShortestPath(ctx context.Context, from, to geo.LatLng) (Path, error)
}
