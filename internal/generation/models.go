package generation

import (
	"encoding/json"
	"time"

	"backend-shaperun/internal/apperr"
	"backend-shaperun/internal/route"
	"backend-shaperun/internal/shape"
	"backend-shaperun/internal/shared/geo"
)

type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// State is one of Processing, Completed or Failed.
type State interface {
	Status() Status
}

type Processing struct {
	Progress              int
	Step                  string
	EstimatedRemainingSec int
}

type Completed struct {
	RouteID string
}

// Failed keeps the last progress reached so polls never see it drop.
type Failed struct {
	Code     apperr.Code
	Message  string
	Progress int
}

func (Processing) Status() Status { return StatusProcessing }
func (Completed) Status() Status  { return StatusCompleted }
func (Failed) Status() Status     { return StatusFailed }

// Request is the generation payload as submitted by the client. A shape
// is given by exactly one of ShapeID, CustomOutline or CustomSVG.
type Request struct {
	ShapeID       string        `json:"shape_id,omitempty"`
	CustomOutline []shape.Point `json:"custom_outline,omitempty"`
	CustomSVG     string        `json:"custom_svg,omitempty"`
	// Closed applies to CustomOutline; SVG paths close with Z.
	Closed           *bool      `json:"closed,omitempty"`
	Name             string     `json:"name,omitempty"`
	Start            geo.LatLng `json:"start"`
	TargetDistanceKm float64    `json:"target_distance_km,omitempty"`
	Plan             route.Plan `json:"plan"`
	SafetyMode       bool       `json:"safety_mode"`
}

// Task is a generation request and its state. Owner names the API
// instance whose worker pool runs it.
type Task struct {
	ID          string
	UserID      string
	Owner       string
	Request     Request
	State       State
	CreatedAt   time.Time
	CompletedAt *time.Time
}

type taskError struct {
	Code    apperr.Code `json:"code"`
	Message string      `json:"message"`
}

type taskView struct {
	TaskID             string     `json:"task_id"`
	Status             Status     `json:"status"`
	Progress           int        `json:"progress"`
	CurrentStep        string     `json:"current_step"`
	EstimatedRemaining int        `json:"estimated_remaining"`
	RouteID            string     `json:"route_id,omitempty"`
	Error              *taskError `json:"error,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
}

// MarshalJSON flattens the state for polling clients.
func (t Task) MarshalJSON() ([]byte, error) {
	v := taskView{TaskID: t.ID, CreatedAt: t.CreatedAt, CompletedAt: t.CompletedAt}
	switch s := t.State.(type) {
	case Processing:
		v.Status = StatusProcessing
		v.Progress = s.Progress
		v.CurrentStep = s.Step
		v.EstimatedRemaining = s.EstimatedRemainingSec
	case Completed:
		v.Status = StatusCompleted
		v.Progress = 100
		v.CurrentStep = stepDone
		v.RouteID = s.RouteID
	case Failed:
		v.Status = StatusFailed
		v.Progress = s.Progress
		v.Error = &taskError{Code: s.Code, Message: s.Message}
	}
	return json.Marshal(v)
}

// Checkpoints reported while a job runs.
const (
	stepQueued      = "queued"
	stepNormalizing = "normalizing shape"
	stepSnapping    = "snapping to roads"
	stepScoring     = "scoring candidates"
	stepSaving      = "saving routes"
	stepDone        = "done"

	progressNormalizing = 10
	progressSnapping    = 40
	progressScoring     = 70
	progressSaving      = 90
)
