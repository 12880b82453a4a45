package workout

import (
	"math"
	"sort"
	"time"

	"backend-shaperun/internal/apperr"
	"backend-shaperun/internal/route"
	"backend-shaperun/internal/shared/geo"
)

// Acceptance and statistics policy.
const (
	RunningSpeedCeilingMps = 12.0
	WalkingSpeedCeilingMps = 5.0

	PaceWindowM        = 250.0
	CorridorM          = 30.0
	PlannedSampleStepM = 10.0

	BodyMassKg = 70.0
	RunningMET = 10.0
	WalkingMET = 3.5

	// ClockSkewAllowance is how far past the server clock a fix may be
	// stamped.
	ClockSkewAllowance = 30 * time.Second
)

func speedCeiling(m route.Mode) float64 {
	if m == route.ModeWalking {
		return WalkingSpeedCeilingMps
	}
	return RunningSpeedCeilingMps
}

func metOf(m route.Mode) float64 {
	if m == route.ModeWalking {
		return WalkingMET
	}
	return RunningMET
}

func conflict(action, status string) error {
	return apperr.Newf(apperr.SessionStateConflict, "cannot %s a workout that is %s", action, status)
}

// Track sorts the batch by timestamp and appends every acceptable fix to
// the path. Results line up with the input order. now is the server
// clock; fixes stamped before the session started or past now are
// rejected.
func (w *Workout) Track(now time.Time, fixes []Fix) ([]FixResult, error) {
	if w.Status != StatusActive {
		return nil, conflict("track", w.Status)
	}
	order := make([]int, len(fixes))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return fixes[order[a]].Timestamp.Before(fixes[order[b]].Timestamp)
	})

	latest := now.Add(ClockSkewAllowance)
	results := make([]FixResult, len(fixes))
	for _, i := range order {
		results[i] = w.accept(fixes[i], latest)
	}
	if w.StartPoint == nil && len(w.ActualPath) > 0 {
		start := w.ActualPath[0].LatLng()
		w.StartPoint = &start
	}
	return results, nil
}

func (w *Workout) accept(f Fix, latest time.Time) FixResult {
	p := PathPoint{Lat: f.Lat, Lng: f.Lng, Alt: f.Alt, Timestamp: f.Timestamp.UTC()}
	if !p.LatLng().Valid() || (p.Alt != nil && (math.IsNaN(*p.Alt) || math.IsInf(*p.Alt, 0))) {
		return rejected(CauseInvalidCoordinate)
	}
	if p.Timestamp.Before(w.StartedAt) || p.Timestamp.After(latest) {
		return rejected(CauseOutsideSession)
	}
	if n := len(w.ActualPath); n > 0 {
		last := w.ActualPath[n-1]
		if !p.Timestamp.After(last.Timestamp) {
			return rejected(CauseNonMonotonic)
		}
		if w.resumePending {
			p.Resumed = true
		} else {
			dt := p.Timestamp.Sub(last.Timestamp).Seconds()
			if geo.Distance(last.LatLng(), p.LatLng())/dt > speedCeiling(w.Mode) {
				return rejected(CauseSpeedCeiling)
			}
		}
	}
	w.resumePending = false
	w.ActualPath = append(w.ActualPath, p)
	return FixResult{Accepted: true}
}

func rejected(cause string) FixResult {
	return FixResult{Reason: string(apperr.GpsOutlier), Cause: cause}
}

func (w *Workout) Pause(now time.Time) error {
	if w.Status != StatusActive {
		return conflict("pause", w.Status)
	}
	now = now.UTC()
	w.Status = StatusPaused
	w.PausedAt = &now
	return nil
}

func (w *Workout) Resume(now time.Time) error {
	if w.Status != StatusPaused {
		return conflict("resume", w.Status)
	}
	w.closePause(now)
	w.Status = StatusActive
	w.resumePending = len(w.ActualPath) > 0
	return nil
}

func (w *Workout) closePause(now time.Time) {
	if w.PausedAt != nil {
		if gap := now.Sub(*w.PausedAt).Seconds(); gap > 0 {
			w.PausedTotalSec += gap
		}
		w.PausedAt = nil
	}
}

// Cancellable reports whether the workout may still be discarded.
func (w *Workout) Cancellable() error {
	if w.Status == StatusCompleted {
		return conflict("cancel", w.Status)
	}
	return nil
}

// Finish closes the session and computes its statistics and splits.
// planned is the polyline the workout followed, nil for free workouts.
func (w *Workout) Finish(now time.Time, planned []geo.LatLng) error {
	if w.Status != StatusActive && w.Status != StatusPaused {
		return conflict("complete", w.Status)
	}
	now = now.UTC()
	w.closePause(now)
	w.Status = StatusCompleted
	w.CompletedAt = &now
	w.resumePending = false

	w.DurationSec = math.Max(0, now.Sub(w.StartedAt).Seconds()-w.PausedTotalSec)
	moves := movements(w.ActualPath)
	w.DistanceM = moves[len(moves)-1].dist
	if n := len(w.ActualPath); n > 0 {
		end := w.ActualPath[n-1].LatLng()
		w.EndPoint = &end
	}

	w.AvgPaceSecPerKm = 0
	if w.DistanceM > 0 {
		w.AvgPaceSecPerKm = round1(w.DurationSec / (w.DistanceM / 1000))
	}
	w.MinPaceSecPerKm, w.MaxPaceSecPerKm = w.AvgPaceSecPerKm, w.AvgPaceSecPerKm
	if lo, hi, ok := paceRange(moves, PaceWindowM); ok {
		w.MinPaceSecPerKm, w.MaxPaceSecPerKm = round1(lo), round1(hi)
	}

	w.ElevationGainM, w.ElevationLossM = elevation(w.ActualPath)
	w.Calories = round1(metOf(w.Mode) * BodyMassKg * w.DurationSec / 3600)
	w.RouteCompletion, w.ShapeAccuracy = coverage(planned, w.ActualPath)
	w.Splits = capSplits(CalculateSplits(w.ActualPath), w.DurationSec)
	return nil
}

// movement is the cumulative moving distance and time at a path index.
type movement struct {
	dist float64
	sec  float64
}

func movements(path []PathPoint) []movement {
	out := make([]movement, 1, len(path)+1)
	for i := 1; i < len(path); i++ {
		m := out[len(out)-1]
		if !path[i].Resumed {
			m.dist += geo.Distance(path[i-1].LatLng(), path[i].LatLng())
			m.sec += path[i].Timestamp.Sub(path[i-1].Timestamp).Seconds()
		}
		out = append(out, m)
	}
	return out
}

// paceRange returns the fastest and slowest pace over windows of at least
// windowM metres.
func paceRange(moves []movement, windowM float64) (fastest, slowest float64, ok bool) {
	j := 0
	for i := range moves {
		if j < i {
			j = i
		}
		for j < len(moves) && moves[j].dist-moves[i].dist < windowM {
			j++
		}
		if j == len(moves) {
			break
		}
		pace := (moves[j].sec - moves[i].sec) / ((moves[j].dist - moves[i].dist) / 1000)
		if !ok || pace < fastest {
			fastest = pace
		}
		if !ok || pace > slowest {
			slowest = pace
		}
		ok = true
	}
	return fastest, slowest, ok
}

func elevation(path []PathPoint) (gain, loss float64) {
	var prev *float64
	for _, p := range path {
		if p.Alt == nil {
			continue
		}
		if prev != nil {
			if d := *p.Alt - *prev; d > 0 {
				gain += d
			} else {
				loss -= d
			}
		}
		prev = p.Alt
	}
	return round1(gain), round1(loss)
}

// coverage compares the actual path with the planned polyline. Completion
// is the share of planned samples inside the corridor; accuracy is the
// geometric mean of completion and the share of fixes inside it.
func coverage(planned []geo.LatLng, path []PathPoint) (completion, accuracy *float64) {
	if len(planned) < 2 {
		return nil, nil
	}
	runs := runsOf(path)
	samples := geo.Sample(planned, PlannedSampleStepM)
	covered := 0
	for _, s := range samples {
		if distanceToRuns(s, runs) <= CorridorM {
			covered++
		}
	}
	c := math.Min(100, 100*float64(covered)/float64(len(samples)))

	onRoute := 0.0
	if len(path) > 0 {
		inside := 0
		for _, p := range path {
			if geo.DistanceToPath(p.LatLng(), planned) <= CorridorM {
				inside++
			}
		}
		onRoute = 100 * float64(inside) / float64(len(path))
	}
	a := math.Min(100, math.Sqrt(c*onRoute))

	c, a = round1(c), round1(a)
	return &c, &a
}

// runsOf splits the path at resumed fixes so pause gaps are not treated as
// travelled segments.
func runsOf(path []PathPoint) [][]geo.LatLng {
	var runs [][]geo.LatLng
	var cur []geo.LatLng
	for _, p := range path {
		if p.Resumed && len(cur) > 0 {
			runs = append(runs, cur)
			cur = nil
		}
		cur = append(cur, p.LatLng())
	}
	if len(cur) > 0 {
		runs = append(runs, cur)
	}
	return runs
}

func distanceToRuns(p geo.LatLng, runs [][]geo.LatLng) float64 {
	best := math.Inf(1)
	for _, r := range runs {
		best = math.Min(best, geo.DistanceToPath(p, r))
	}
	return best
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
