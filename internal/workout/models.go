package workout

import (
	"time"

	"backend-shaperun/internal/route"
	"backend-shaperun/internal/shared/geo"
)

const (
	StatusActive    = "active"
	StatusPaused    = "paused"
	StatusCompleted = "completed"
)

// Rejection causes reported per fix.
const (
	CauseNonMonotonic      = "non_monotonic_timestamp"
	CauseSpeedCeiling      = "speed_ceiling"
	CauseInvalidCoordinate = "invalid_coordinate"
	CauseOutsideSession    = "outside_session"
)

// Fix is one GPS sample reported by the client.
type Fix struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Alt       *float64  `json:"alt,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// PathPoint is an accepted fix. Resumed marks the first fix after a pause;
// the gap leading to it counts toward neither distance nor moving time.
type PathPoint struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Alt       *float64  `json:"alt,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Resumed   bool      `json:"resumed,omitempty"`
}

func (p PathPoint) LatLng() geo.LatLng {
	return geo.LatLng{Lat: p.Lat, Lng: p.Lng}
}

type FixResult struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
	Cause    string `json:"cause,omitempty"`
}

type StartRequest struct {
	RouteID  string      `json:"route_id"`
	OptionID string      `json:"option_id"`
	Mode     route.Mode  `json:"mode"`
	Start    *geo.LatLng `json:"start,omitempty"`
}

type Workout struct {
	ID              string      `json:"id"`
	UserID          string      `json:"user_id"`
	RouteID         *string     `json:"route_id"`
	RouteOptionID   *string     `json:"route_option_id"`
	Mode            route.Mode  `json:"mode"`
	Status          string      `json:"status"`
	StartedAt       time.Time   `json:"started_at"`
	PausedAt        *time.Time  `json:"paused_at,omitempty"`
	PausedTotalSec  float64     `json:"paused_total_sec"`
	CompletedAt     *time.Time  `json:"completed_at,omitempty"`
	StartPoint      *geo.LatLng `json:"start_point,omitempty"`
	EndPoint        *geo.LatLng `json:"end_point,omitempty"`
	DistanceM       float64     `json:"distance_m"`
	DurationSec     float64     `json:"duration_sec"`
	AvgPaceSecPerKm float64     `json:"avg_pace_sec_per_km"`
	MinPaceSecPerKm float64     `json:"min_pace_sec_per_km"`
	MaxPaceSecPerKm float64     `json:"max_pace_sec_per_km"`
	Calories        float64     `json:"calories"`
	ElevationGainM  float64     `json:"elevation_gain_m"`
	ElevationLossM  float64     `json:"elevation_loss_m"`
	RouteCompletion *float64    `json:"route_completion"`
	ShapeAccuracy   *float64    `json:"shape_accuracy"`
	ActualPath      []PathPoint `json:"actual_path"`
	Splits          []Split     `json:"splits,omitempty"`

	resumePending bool
}

// Split is the time taken for one whole kilometre.
type Split struct {
	ID           string  `json:"id,omitempty"`
	WorkoutID    string  `json:"workout_id,omitempty"`
	KmIndex      int     `json:"km_index"`
	PaceSecPerKm float64 `json:"pace_sec_per_km"`
	DurationSec  float64 `json:"duration_sec"`
}
