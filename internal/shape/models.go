package shape

import "time"

// Point is a vertex in the shape's own frame, y pointing up.
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

type Template struct {
	ID                  string    `json:"id" yaml:"id"`
	Slug                string    `json:"slug" yaml:"slug"`
	Name                string    `json:"name" yaml:"name"`
	Icon                string    `json:"icon" yaml:"icon"`
	Category            string    `json:"category" yaml:"category"`
	EstimatedDistanceKm float64   `json:"estimated_distance_km" yaml:"estimated_distance_km"`
	Outline             []Point   `json:"outline" yaml:"outline"`
	Closed              bool      `json:"closed" yaml:"closed"`
	Active              bool      `json:"is_active" yaml:"active"`
	CreatedAt           time.Time `json:"created_at" yaml:"-"`
}

// Outline is a validated, unit-normalized shape ready for fitting.
type Outline struct {
	Points []Point
	Closed bool
}
