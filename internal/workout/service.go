package workout

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"backend-shaperun/internal/apperr"
	"backend-shaperun/internal/db"
	"backend-shaperun/internal/metrics"
	"backend-shaperun/internal/route"
	"backend-shaperun/internal/shared/geo"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// PlannedRoutes resolves the option a workout follows.
type PlannedRoutes interface {
	Option(ctx context.Context, userID, routeID, optionID string) (route.Option, error)
}

// Broadcaster fans accepted fixes out to live viewers.
type Broadcaster interface {
	Broadcast(workoutID string, payload []byte)
}

type Service struct {
	db     db.Querier
	routes PlannedRoutes
	hub    Broadcaster
	logger log.Logger
	now    func() time.Time
}

func NewService(q db.Querier, routes PlannedRoutes, hub Broadcaster, logger log.Logger) *Service {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Service{db: q, routes: routes, hub: hub, logger: logger, now: time.Now}
}

// clock reads the time at the precision Postgres stores, so a record
// read back matches the one first returned.
func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

const workoutColumns = `id, user_id, route_id, route_option_id, mode, status, started_at, paused_at,
	paused_total_sec, completed_at, actual_path, resume_pending, start_point, end_point,
	distance_m, duration_sec, avg_pace_sec_km, min_pace_sec_km, max_pace_sec_km, calories,
	elevation_gain_m, elevation_loss_m, route_completion, shape_accuracy`

func (s *Service) Start(ctx context.Context, userID string, req StartRequest) (Workout, error) {
	if !req.Mode.Valid() {
		return Workout{}, apperr.New(apperr.InvalidRequest, "mode must be running or walking")
	}
	if req.Start != nil && !req.Start.Valid() {
		return Workout{}, apperr.New(apperr.InvalidRequest, "start coordinate is invalid")
	}
	w := Workout{
		ID:         uuid.NewString(),
		UserID:     userID,
		Mode:       req.Mode,
		Status:     StatusActive,
		StartedAt:  s.clock(),
		StartPoint: req.Start,
		ActualPath: []PathPoint{},
	}
	switch {
	case req.RouteID != "":
		opt, err := s.routes.Option(ctx, userID, req.RouteID, req.OptionID)
		if err != nil {
			return Workout{}, err
		}
		routeID := req.RouteID
		w.RouteID, w.RouteOptionID = &routeID, &opt.ID
	case req.OptionID != "":
		return Workout{}, apperr.New(apperr.InvalidRequest, "option_id requires route_id")
	}

	start, err := pointJSON(w.StartPoint)
	if err != nil {
		return Workout{}, err
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO workouts (id, user_id, route_id, route_option_id, mode, status, started_at, start_point)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING started_at
	`, w.ID, w.UserID, w.RouteID, w.RouteOptionID, string(w.Mode), w.Status, w.StartedAt, start)
	if err := row.Scan(&w.StartedAt); err != nil {
		if db.IsUniqueViolation(err) {
			return Workout{}, apperr.New(apperr.SessionStateConflict, "another workout is already in progress")
		}
		return Workout{}, err
	}
	w.StartedAt = w.StartedAt.UTC()
	metrics.WorkoutTransitionsTotal.WithLabelValues(StatusActive).Inc()
	return w, nil
}

// Track records a batch of fixes against an active workout.
func (s *Service) Track(ctx context.Context, userID, id string, fixes []Fix) ([]FixResult, error) {
	var (
		results []FixResult
		before  int
	)
	w, err := s.mutate(ctx, userID, id, func(w *Workout) error {
		before = len(w.ActualPath)
		var err error
		results, err = w.Track(s.clock(), fixes)
		return err
	})
	if err != nil {
		return nil, err
	}

	for i, r := range results {
		if r.Accepted {
			metrics.WorkoutFixesTotal.WithLabelValues(metrics.FixAccepted, "").Inc()
			continue
		}
		metrics.WorkoutFixesTotal.WithLabelValues(metrics.FixRejected, r.Cause).Inc()
		level.Debug(s.logger).Log("msg", "fix rejected", "workout", id, "cause", r.Cause, "timestamp", fixes[i].Timestamp)
	}
	if added := w.ActualPath[before:]; len(added) > 0 {
		s.broadcast(w.ID, added)
	}
	return results, nil
}

func (s *Service) Pause(ctx context.Context, userID, id string) (Workout, error) {
	w, err := s.mutate(ctx, userID, id, func(w *Workout) error { return w.Pause(s.clock()) })
	if err != nil {
		return Workout{}, err
	}
	metrics.WorkoutTransitionsTotal.WithLabelValues(StatusPaused).Inc()
	return w, nil
}

func (s *Service) Resume(ctx context.Context, userID, id string) (Workout, error) {
	w, err := s.mutate(ctx, userID, id, func(w *Workout) error { return w.Resume(s.clock()) })
	if err != nil {
		return Workout{}, err
	}
	w.StartedAt = w.StartedAt.UTC()
	metrics.WorkoutTransitionsTotal.WithLabelValues(StatusActive).Inc()
	return w, nil
}

// Complete finishes the workout and stores its splits. Completing an
// already completed workout returns the stored record.
func (s *Service) Complete(ctx context.Context, userID, id string) (Workout, error) {
	var (
		w        Workout
		finished bool
	)
	err := db.InTx(ctx, s.db, func(tx pgx.Tx) error {
		var err error
		if w, err = lockWorkout(ctx, tx, userID, id); err != nil {
			return err
		}
		if w.Status == StatusCompleted {
			w.Splits, err = loadSplits(ctx, tx, w.ID)
			return err
		}
		planned, err := s.plannedPath(ctx, w)
		if err != nil {
			return err
		}
		if err := w.Finish(s.clock(), planned); err != nil {
			return err
		}
		for i := range w.Splits {
			w.Splits[i].ID = uuid.NewString()
			w.Splits[i].WorkoutID = w.ID
		}
		if err := saveWorkout(ctx, tx, w); err != nil {
			return err
		}
		finished = true
		return insertSplits(ctx, tx, w.Splits)
	})
	if err != nil {
		return Workout{}, err
	}
	if finished {
		metrics.WorkoutTransitionsTotal.WithLabelValues(StatusCompleted).Inc()
		level.Info(s.logger).Log("msg", "workout completed", "workout", w.ID, "distance_m", w.DistanceM, "splits", len(w.Splits))
	}
	return w, nil
}

// Cancel discards an unfinished workout. Cancelling one that no longer
// exists does nothing.
func (s *Service) Cancel(ctx context.Context, userID, id string) error {
	return db.InTx(ctx, s.db, func(tx pgx.Tx) error {
		status, err := lockStatus(ctx, tx, userID, id)
		if db.IsNoRows(err) {
			return nil
		}
		if err != nil {
			return err
		}
		w := Workout{Status: status}
		if err := w.Cancellable(); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM workouts WHERE id = $1`, id); err != nil {
			return err
		}
		metrics.WorkoutTransitionsTotal.WithLabelValues("cancelled").Inc()
		return nil
	})
}

// Delete hides a completed workout from the user's history.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	return db.InTx(ctx, s.db, func(tx pgx.Tx) error {
		status, err := lockStatus(ctx, tx, userID, id)
		if db.IsNoRows(err) {
			return apperr.New(apperr.NotFound, "workout not found")
		}
		if err != nil {
			return err
		}
		if status != StatusCompleted {
			return conflict("delete", status)
		}
		_, err = tx.Exec(ctx, `UPDATE workouts SET deleted_at = now() WHERE id = $1`, id)
		return err
	})
}

func (s *Service) Get(ctx context.Context, userID, id string) (Workout, error) {
	w, err := scanWorkout(s.db.QueryRow(ctx, `
		SELECT `+workoutColumns+`
		FROM workouts WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL
	`, id, userID))
	if db.IsNoRows(err) {
		return Workout{}, apperr.New(apperr.NotFound, "workout not found")
	}
	if err != nil {
		return Workout{}, err
	}
	if w.Status == StatusCompleted {
		if w.Splits, err = loadSplits(ctx, s.db, w.ID); err != nil {
			return Workout{}, err
		}
	}
	return w, nil
}

// History orders accepted by List.
const (
	SortDate     = "date"
	SortDistance = "distance"
	SortCalories = "calories"
)

var historyOrder = map[string]string{
	SortDate:     "completed_at DESC",
	SortDistance: "distance_m DESC",
	SortCalories: "calories DESC",
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// ListQuery selects one page of a user's workout history. Mode is
// optional.
type ListQuery struct {
	Page  int
	Limit int
	Mode  route.Mode
	Sort  string
}

// Page is a slice of history plus the size of the whole history.
type Page struct {
	Workouts []Workout `json:"workouts"`
	Total    int       `json:"total"`
	Page     int       `json:"page"`
	Limit    int       `json:"limit"`
}

// List returns the user's completed, undeleted workouts. Splits are not
// loaded.
func (s *Service) List(ctx context.Context, userID string, q ListQuery) (Page, error) {
	if q.Page == 0 {
		q.Page = 1
	}
	if q.Limit == 0 {
		q.Limit = DefaultPageSize
	}
	if q.Sort == "" {
		q.Sort = SortDate
	}
	order, ok := historyOrder[strings.TrimSuffix(q.Sort, "_desc")]
	switch {
	case !ok:
		return Page{}, apperr.Newf(apperr.InvalidRequest, "sort must be %s, %s or %s", SortDate, SortDistance, SortCalories)
	case q.Page < 1:
		return Page{}, apperr.New(apperr.InvalidRequest, "page must be at least 1")
	case q.Limit < 1 || q.Limit > MaxPageSize:
		return Page{}, apperr.Newf(apperr.InvalidRequest, "limit must be between 1 and %d", MaxPageSize)
	case q.Mode != "" && !q.Mode.Valid():
		return Page{}, apperr.New(apperr.InvalidRequest, "mode must be running or walking")
	}

	const filter = `FROM workouts
		WHERE user_id = $1 AND status = 'completed' AND deleted_at IS NULL AND ($2 = '' OR mode = $2)`
	page := Page{Workouts: []Workout{}, Page: q.Page, Limit: q.Limit}
	if err := s.db.QueryRow(ctx, `SELECT count(*) `+filter, userID, string(q.Mode)).Scan(&page.Total); err != nil {
		return Page{}, err
	}

	rows, err := s.db.Query(ctx, `SELECT `+workoutColumns+` `+filter+`
		ORDER BY `+order+`, id
		LIMIT $3 OFFSET $4
	`, userID, string(q.Mode), q.Limit, (q.Page-1)*q.Limit)
	if err != nil {
		return Page{}, err
	}
	defer rows.Close()
	for rows.Next() {
		w, err := scanWorkout(rows)
		if err != nil {
			return Page{}, err
		}
		page.Workouts = append(page.Workouts, w)
	}
	return page, rows.Err()
}

// Owns reports whether the user has an undeleted workout with this id.
func (s *Service) Owns(ctx context.Context, userID, id string) (bool, error) {
	var ok bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM workouts WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL)
	`, id, userID).Scan(&ok)
	return ok, err
}

// GetActive returns the user's unfinished workout.
func (s *Service) GetActive(ctx context.Context, userID string) (Workout, error) {
	w, err := scanWorkout(s.db.QueryRow(ctx, `
		SELECT `+workoutColumns+`
		FROM workouts WHERE user_id = $1 AND status IN ('active','paused') AND deleted_at IS NULL
	`, userID))
	if db.IsNoRows(err) {
		return Workout{}, apperr.New(apperr.NotFound, "no active workout")
	}
	return w, err
}

func (s *Service) mutate(ctx context.Context, userID, id string, fn func(*Workout) error) (Workout, error) {
	var w Workout
	err := db.InTx(ctx, s.db, func(tx pgx.Tx) error {
		var err error
		if w, err = lockWorkout(ctx, tx, userID, id); err != nil {
			return err
		}
		if err := fn(&w); err != nil {
			return err
		}
		return saveWorkout(ctx, tx, w)
	})
	return w, err
}

func (s *Service) plannedPath(ctx context.Context, w Workout) ([]geo.LatLng, error) {
	if w.RouteID == nil || s.routes == nil {
		return nil, nil
	}
	optionID := ""
	if w.RouteOptionID != nil {
		optionID = *w.RouteOptionID
	}
	opt, err := s.routes.Option(ctx, w.UserID, *w.RouteID, optionID)
	if apperr.Is(err, apperr.NotFound) {
		level.Warn(s.logger).Log("msg", "planned route gone, skipping completion", "workout", w.ID, "route", *w.RouteID)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return opt.Coordinates, nil
}

func (s *Service) broadcast(workoutID string, points []PathPoint) {
	if s.hub == nil {
		return
	}
	payload, err := json.Marshal(struct {
		WorkoutID string      `json:"workout_id"`
		Points    []PathPoint `json:"points"`
	}{workoutID, points})
	if err != nil {
		level.Warn(s.logger).Log("msg", "encode live fixes", "err", err)
		return
	}
	s.hub.Broadcast(workoutID, payload)
}

func lockWorkout(ctx context.Context, q db.Querier, userID, id string) (Workout, error) {
	w, err := scanWorkout(q.QueryRow(ctx, `
		SELECT `+workoutColumns+`
		FROM workouts WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL
		FOR UPDATE
	`, id, userID))
	if db.IsNoRows(err) {
		return Workout{}, apperr.New(apperr.NotFound, "workout not found")
	}
	return w, err
}

func lockStatus(ctx context.Context, q db.Querier, userID, id string) (string, error) {
	var status string
	err := q.QueryRow(ctx, `
		SELECT status FROM workouts WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL
		FOR UPDATE
	`, id, userID).Scan(&status)
	return status, err
}

func saveWorkout(ctx context.Context, q db.Querier, w Workout) error {
	path, err := json.Marshal(w.ActualPath)
	if err != nil {
		return fmt.Errorf("encode path: %w", err)
	}
	start, err := pointJSON(w.StartPoint)
	if err != nil {
		return err
	}
	end, err := pointJSON(w.EndPoint)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `
		UPDATE workouts
		SET status = $2, paused_at = $3, paused_total_sec = $4, completed_at = $5, actual_path = $6,
		    resume_pending = $7, start_point = $8, end_point = $9, distance_m = $10, duration_sec = $11,
		    avg_pace_sec_km = $12, min_pace_sec_km = $13, max_pace_sec_km = $14, calories = $15,
		    elevation_gain_m = $16, elevation_loss_m = $17, route_completion = $18, shape_accuracy = $19
		WHERE id = $1
	`, w.ID, w.Status, w.PausedAt, w.PausedTotalSec, w.CompletedAt, path,
		w.resumePending, start, end, w.DistanceM, w.DurationSec,
		w.AvgPaceSecPerKm, w.MinPaceSecPerKm, w.MaxPaceSecPerKm, w.Calories,
		w.ElevationGainM, w.ElevationLossM, w.RouteCompletion, w.ShapeAccuracy)
	return err
}

func insertSplits(ctx context.Context, q db.Querier, splits []Split) error {
	for _, sp := range splits {
		if _, err := q.Exec(ctx, `
			INSERT INTO workout_splits (id, workout_id, km_index, pace_sec_km, duration_sec)
			VALUES ($1,$2,$3,$4,$5)
		`, sp.ID, sp.WorkoutID, sp.KmIndex, sp.PaceSecPerKm, sp.DurationSec); err != nil {
			return err
		}
	}
	return nil
}

func loadSplits(ctx context.Context, q db.Querier, workoutID string) ([]Split, error) {
	rows, err := q.Query(ctx, `
		SELECT id, workout_id, km_index, pace_sec_km, duration_sec
		FROM workout_splits WHERE workout_id = $1
		ORDER BY km_index
	`, workoutID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var splits []Split
	for rows.Next() {
		var sp Split
		if err := rows.Scan(&sp.ID, &sp.WorkoutID, &sp.KmIndex, &sp.PaceSecPerKm, &sp.DurationSec); err != nil {
			return nil, err
		}
		splits = append(splits, sp)
	}
	return splits, rows.Err()
}

func scanWorkout(row pgx.Row) (Workout, error) {
	var (
		w                Workout
		mode             string
		path, start, end []byte
	)
	err := row.Scan(&w.ID, &w.UserID, &w.RouteID, &w.RouteOptionID, &mode, &w.Status, &w.StartedAt, &w.PausedAt,
		&w.PausedTotalSec, &w.CompletedAt, &path, &w.resumePending, &start, &end,
		&w.DistanceM, &w.DurationSec, &w.AvgPaceSecPerKm, &w.MinPaceSecPerKm, &w.MaxPaceSecPerKm, &w.Calories,
		&w.ElevationGainM, &w.ElevationLossM, &w.RouteCompletion, &w.ShapeAccuracy)
	if err != nil {
		return Workout{}, err
	}
	w.Mode = route.Mode(mode)
	w.StartedAt = w.StartedAt.UTC()
	w.PausedAt = utc(w.PausedAt)
	w.CompletedAt = utc(w.CompletedAt)
	w.ActualPath = []PathPoint{}
	if len(path) > 0 {
		if err := json.Unmarshal(path, &w.ActualPath); err != nil {
			return Workout{}, fmt.Errorf("decode path: %w", err)
		}
	}
	if w.StartPoint, err = decodePoint(start); err != nil {
		return Workout{}, err
	}
	if w.EndPoint, err = decodePoint(end); err != nil {
		return Workout{}, err
	}
	return w, nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func pointJSON(p *geo.LatLng) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	return json.Marshal(p)
}

func decodePoint(raw []byte) (*geo.LatLng, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var p geo.LatLng
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode point: %w", err)
	}
	return &p, nil
}
