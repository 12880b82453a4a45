package route

import (
	"time"

	"backend-shaperun/internal/apperr"
	"backend-shaperun/internal/shape"
	"backend-shaperun/internal/shared/geo"
)

type Mode string

const (
	ModeRunning Mode = "running"
	ModeWalking Mode = "walking"
)

func (m Mode) Valid() bool {
	return m == ModeRunning || m == ModeWalking
}

// Running conditions and walking intensities with their planning pace.
var (
	runningPace = map[string]float64{
		"recovery":  10,
		"fat_burn":  9,
		"challenge": 7,
	}
	walkingPace = map[string]float64{
		"light":    15,
		"moderate": 12,
		"brisk":    10,
	}
)

type RunningPlan struct {
	Condition string `json:"condition"`
}

type WalkingPlan struct {
	Intensity         string `json:"intensity"`
	TargetDurationMin int    `json:"target_duration_min,omitempty"`
}

// Plan carries the mode-specific settings. Exactly one of Running or
// Walking is set and it must agree with Mode.
type Plan struct {
	Mode    Mode         `json:"mode"`
	Running *RunningPlan `json:"running,omitempty"`
	Walking *WalkingPlan `json:"walking,omitempty"`
}

func (p Plan) Validate() error {
	switch p.Mode {
	case ModeRunning:
		if p.Running == nil || p.Walking != nil {
			return apperr.New(apperr.InvalidRequest, "running routes need a running plan only")
		}
		if _, ok := runningPace[p.Running.Condition]; !ok {
			return apperr.Newf(apperr.InvalidRequest, "unknown running condition %q", p.Running.Condition)
		}
	case ModeWalking:
		if p.Walking == nil || p.Running != nil {
			return apperr.New(apperr.InvalidRequest, "walking routes need a walking plan only")
		}
		if _, ok := walkingPace[p.Walking.Intensity]; !ok {
			return apperr.Newf(apperr.InvalidRequest, "unknown walking intensity %q", p.Walking.Intensity)
		}
		if p.Walking.TargetDurationMin < 0 {
			return apperr.New(apperr.InvalidRequest, "target duration cannot be negative")
		}
	default:
		return apperr.Newf(apperr.InvalidRequest, "unknown mode %q", p.Mode)
	}
	return nil
}

// PaceMinPerKm is the planning pace. Call Validate first.
func (p Plan) PaceMinPerKm() float64 {
	if p.Running != nil {
		return runningPace[p.Running.Condition]
	}
	if p.Walking != nil {
		return walkingPace[p.Walking.Intensity]
	}
	return 0
}

// TargetDistanceM derives a distance from a walking target duration,
// returning 0 when the plan does not imply one.
func (p Plan) TargetDistanceM() float64 {
	if p.Walking == nil || p.Walking.TargetDurationMin == 0 {
		return 0
	}
	pace := p.PaceMinPerKm()
	if pace == 0 {
		return 0
	}
	return float64(p.Walking.TargetDurationMin) / pace * 1000
}

const (
	StatusActive  = "active"
	StatusDeleted = "deleted"
)

type Route struct {
	ID            string        `json:"id"`
	UserID        string        `json:"user_id"`
	ShapeID       *string       `json:"shape_id"`
	Name          string        `json:"name"`
	Mode          Mode          `json:"mode"`
	Start         geo.LatLng    `json:"start"`
	CustomOutline []shape.Point `json:"custom_outline,omitempty"`
	Plan          Plan          `json:"plan"`
	SafetyMode    bool          `json:"safety_mode"`
	Status        string        `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
	Options       []Option      `json:"options"`
}

type Option struct {
	ID               string       `json:"id"`
	RouteID          string       `json:"route_id"`
	OptionNumber     int          `json:"option_number"`
	Name             string       `json:"name"`
	Tag              string       `json:"tag"`
	Coordinates      []geo.LatLng `json:"coordinates"`
	DistanceKm       float64      `json:"distance_km"`
	EstimatedTimeMin int          `json:"estimated_time_min"`
	Difficulty       string       `json:"difficulty"`
	SafetyScore      float64      `json:"safety_score"`
	LightingScore    float64      `json:"lighting_score"`
	SidewalkScore    float64      `json:"sidewalk_score"`
	ShapeFit         float64      `json:"shape_fit"`
	ElevationGainM   float64      `json:"elevation_gain_m"`
	ElevationLossM   float64      `json:"elevation_loss_m"`
}

// Summary is the list view of a route.
type Summary struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Mode        Mode      `json:"mode"`
	OptionCount int       `json:"option_count"`
	CreatedAt   time.Time `json:"created_at"`
}
