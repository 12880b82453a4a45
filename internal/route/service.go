package route

import (
	"context"
	"encoding/json"
	"fmt"

	"backend-shaperun/internal/apperr"
	"backend-shaperun/internal/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type Service struct {
	db db.Querier
}

func NewService(db db.Querier) *Service {
	return &Service{db: db}
}

// Insert writes the route and its options inside tx, assigning ids.
// Callers own the transaction so the write can share it with other
// bookkeeping.
func (s *Service) Insert(ctx context.Context, tx pgx.Tx, r *Route) error {
	if len(r.Options) == 0 || len(r.Options) > 3 {
		return fmt.Errorf("route needs 1 to 3 options, got %d", len(r.Options))
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.Status = StatusActive

	plan, err := json.Marshal(r.Plan)
	if err != nil {
		return err
	}
	var outline []byte
	if len(r.CustomOutline) > 0 {
		if outline, err = json.Marshal(r.CustomOutline); err != nil {
			return err
		}
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO routes (id, user_id, shape_id, name, mode, start_lat, start_lng, custom_outline, plan, safety_mode, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at
	`, r.ID, r.UserID, r.ShapeID, r.Name, string(r.Mode), r.Start.Lat, r.Start.Lng, outline, plan, r.SafetyMode, r.Status)
	if err := row.Scan(&r.CreatedAt); err != nil {
		return fmt.Errorf("insert route: %w", err)
	}

	for i := range r.Options {
		o := &r.Options[i]
		o.ID = uuid.NewString()
		o.RouteID = r.ID
		coords, err := json.Marshal(o.Coordinates)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO route_options (id, route_id, option_number, name, tag, coordinates, distance_km, estimated_time_min,
				difficulty, safety_score, lighting_score, sidewalk_score, shape_fit, elevation_gain_m, elevation_loss_m)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		`, o.ID, o.RouteID, o.OptionNumber, o.Name, o.Tag, coords, o.DistanceKm, o.EstimatedTimeMin,
			o.Difficulty, o.SafetyScore, o.LightingScore, o.SidewalkScore, o.ShapeFit, o.ElevationGainM, o.ElevationLossM)
		if err != nil {
			return fmt.Errorf("insert option %d: %w", o.OptionNumber, err)
		}
	}
	return nil
}

// Get returns an active route owned by userID together with its options.
func (s *Service) Get(ctx context.Context, userID, id string) (Route, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, user_id, shape_id, name, mode, start_lat, start_lng, custom_outline, plan, safety_mode, status, created_at
		FROM routes WHERE id = $1 AND user_id = $2 AND status = 'active'
	`, id, userID)

	var (
		r             Route
		mode          string
		outline, plan []byte
	)
	err := row.Scan(&r.ID, &r.UserID, &r.ShapeID, &r.Name, &mode, &r.Start.Lat, &r.Start.Lng, &outline, &plan, &r.SafetyMode, &r.Status, &r.CreatedAt)
	if db.IsNoRows(err) {
		return Route{}, apperr.New(apperr.NotFound, "route not found")
	}
	if err != nil {
		return Route{}, err
	}
	r.Mode = Mode(mode)
	if len(outline) > 0 {
		if err := json.Unmarshal(outline, &r.CustomOutline); err != nil {
			return Route{}, fmt.Errorf("decode outline: %w", err)
		}
	}
	if err := json.Unmarshal(plan, &r.Plan); err != nil {
		return Route{}, fmt.Errorf("decode plan: %w", err)
	}

	r.Options, err = s.options(ctx, r.ID)
	if err != nil {
		return Route{}, err
	}
	return r, nil
}

func (s *Service) options(ctx context.Context, routeID string) ([]Option, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+optionColumns+`
		FROM route_options o WHERE o.route_id = $1
		ORDER BY o.option_number
	`, routeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Option
	for rows.Next() {
		o, err := scanOption(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Option loads one option of an active route owned by userID. An empty
// optionID picks the best ranked option.
func (s *Service) Option(ctx context.Context, userID, routeID, optionID string) (Option, error) {
	var row pgx.Row
	if optionID == "" {
		row = s.db.QueryRow(ctx, `
			SELECT `+optionColumns+`
			FROM route_options o JOIN routes r ON r.id = o.route_id
			WHERE o.route_id = $1 AND r.user_id = $2 AND r.status = 'active'
			ORDER BY o.option_number LIMIT 1
		`, routeID, userID)
	} else {
		row = s.db.QueryRow(ctx, `
			SELECT `+optionColumns+`
			FROM route_options o JOIN routes r ON r.id = o.route_id
			WHERE o.route_id = $1 AND r.user_id = $2 AND o.id = $3 AND r.status = 'active'
		`, routeID, userID, optionID)
	}
	o, err := scanOption(row)
	if db.IsNoRows(err) {
		return Option{}, apperr.New(apperr.NotFound, "route option not found")
	}
	return o, err
}

func (s *Service) List(ctx context.Context, userID string) ([]Summary, error) {
	rows, err := s.db.Query(ctx, `
		SELECT r.id, r.name, r.mode, COUNT(o.id), r.created_at
		FROM routes r LEFT JOIN route_options o ON o.route_id = r.id
		WHERE r.user_id = $1 AND r.status = 'active'
		GROUP BY r.id
		ORDER BY r.created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Summary{}
	for rows.Next() {
		var (
			sum  Summary
			mode string
		)
		if err := rows.Scan(&sum.ID, &sum.Name, &mode, &sum.OptionCount, &sum.CreatedAt); err != nil {
			return nil, err
		}
		sum.Mode = Mode(mode)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Delete soft-deletes a route. Workouts keep referencing it.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE routes SET status = 'deleted'
		WHERE id = $1 AND user_id = $2 AND status = 'active'
	`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.NotFound, "route not found")
	}
	return nil
}

const optionColumns = `o.id, o.route_id, o.option_number, o.name, o.tag, o.coordinates, o.distance_km, o.estimated_time_min,
	o.difficulty, o.safety_score, o.lighting_score, o.sidewalk_score, o.shape_fit, o.elevation_gain_m, o.elevation_loss_m`

func scanOption(row pgx.Row) (Option, error) {
	var (
		o      Option
		coords []byte
	)
	if err := row.Scan(&o.ID, &o.RouteID, &o.OptionNumber, &o.Name, &o.Tag, &coords, &o.DistanceKm, &o.EstimatedTimeMin,
		&o.Difficulty, &o.SafetyScore, &o.LightingScore, &o.SidewalkScore, &o.ShapeFit, &o.ElevationGainM, &o.ElevationLossM); err != nil {
		return Option{}, err
	}
	if err := json.Unmarshal(coords, &o.Coordinates); err != nil {
		return Option{}, fmt.Errorf("decode coordinates: %w", err)
	}
	return o, nil
}
