package places

import (
	"context"
	"encoding/json"
	"fmt"

	"backend-shaperun/internal/apperr"
	"backend-shaperun/internal/db"
	"backend-shaperun/internal/shared/geo"

	"github.com/jackc/pgx/v5"
)

// Infrastructure is the street furniture and terrain the scorer consults.
type Infrastructure interface {
	Points(ctx context.Context, kind Kind, box geo.BBox) ([]geo.LatLng, error)
	Sidewalks(ctx context.Context, box geo.BBox) ([][]geo.LatLng, error)
	Elevations(ctx context.Context, pts []geo.LatLng) ([]float64, error)
}

// ElevationSource returns one elevation in metres per input point.
type ElevationSource interface {
	Elevations(ctx context.Context, pts []geo.LatLng) ([]float64, error)
}

// Service stores infrastructure features in PostGIS and forwards
// elevation lookups to an ElevationSource.
type Service struct {
	db        db.Querier
	elevation ElevationSource
}

func NewService(db db.Querier, elevation ElevationSource) *Service {
	return &Service{db: db, elevation: elevation}
}

func (s *Service) AddFeature(ctx context.Context, f Feature) (Feature, error) {
	if !f.Kind.Valid() {
		return Feature{}, apperr.Newf(apperr.InvalidRequest, "unknown feature kind %q", f.Kind)
	}
	if !(geo.LatLng{Lat: f.Lat, Lng: f.Lng}).Valid() {
		return Feature{}, apperr.New(apperr.InvalidRequest, "invalid coordinates")
	}
	var row pgx.Row
	if f.Kind == KindHazard {
		row = s.db.QueryRow(ctx, `
			INSERT INTO hazards (kind, location)
			VALUES ($1, ST_SetSRID(ST_MakePoint($2,$3), 4326)::geography)
			RETURNING id
		`, f.Label, f.Lng, f.Lat)
	} else {
		row = s.db.QueryRow(ctx, fmt.Sprintf(`
			INSERT INTO %s (location)
			VALUES (ST_SetSRID(ST_MakePoint($1,$2), 4326)::geography)
			RETURNING id
		`, tables[f.Kind]), f.Lng, f.Lat)
	}
	if err := row.Scan(&f.ID); err != nil {
		return Feature{}, err
	}
	return f, nil
}

func (s *Service) AddSidewalk(ctx context.Context, path []geo.LatLng) (Sidewalk, error) {
	if len(path) < 2 {
		return Sidewalk{}, apperr.New(apperr.InvalidRequest, "sidewalk needs at least two points")
	}
	line, err := json.Marshal(lineString(path))
	if err != nil {
		return Sidewalk{}, err
	}
	sw := Sidewalk{Path: path}
	row := s.db.QueryRow(ctx, `
		INSERT INTO sidewalks (path)
		VALUES (ST_SetSRID(ST_GeomFromGeoJSON($1), 4326)::geography)
		RETURNING id
	`, string(line))
	if err := row.Scan(&sw.ID); err != nil {
		return Sidewalk{}, err
	}
	return sw, nil
}

func (s *Service) DeleteFeature(ctx context.Context, kind Kind, id int64) error {
	if !kind.Valid() {
		return apperr.Newf(apperr.InvalidRequest, "unknown feature kind %q", kind)
	}
	tag, err := s.db.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id=$1`, tables[kind]), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.Newf(apperr.NotFound, "%s %d not found", kind, id)
	}
	return nil
}

func (s *Service) Points(ctx context.Context, kind Kind, box geo.BBox) ([]geo.LatLng, error) {
	if !kind.Valid() {
		return nil, apperr.Newf(apperr.InvalidRequest, "unknown feature kind %q", kind)
	}
	rows, err := s.db.Query(ctx, fmt.Sprintf(`
		SELECT ST_Y(location::geometry), ST_X(location::geometry)
		FROM %s
		WHERE ST_Intersects(location, ST_MakeEnvelope($1,$2,$3,$4, 4326)::geography)
	`, tables[kind]), box.MinLng, box.MinLat, box.MaxLng, box.MaxLat)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pts []geo.LatLng
	for rows.Next() {
		var p geo.LatLng
		if err := rows.Scan(&p.Lat, &p.Lng); err != nil {
			return nil, err
		}
		pts = append(pts, p)
	}
	return pts, rows.Err()
}

func (s *Service) Sidewalks(ctx context.Context, box geo.BBox) ([][]geo.LatLng, error) {
	rows, err := s.db.Query(ctx, `
		SELECT ST_AsGeoJSON(path::geometry)
		FROM sidewalks
		WHERE ST_Intersects(path, ST_MakeEnvelope($1,$2,$3,$4, 4326)::geography)
	`, box.MinLng, box.MinLat, box.MaxLng, box.MaxLat)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out [][]geo.LatLng
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var line geoJSONLine
		if err := json.Unmarshal([]byte(raw), &line); err != nil {
			return nil, fmt.Errorf("decode sidewalk: %w", err)
		}
		out = append(out, line.path())
	}
	return out, rows.Err()
}

// Elevations returns nil when no elevation source is configured.
func (s *Service) Elevations(ctx context.Context, pts []geo.LatLng) ([]float64, error) {
	if s.elevation == nil {
		return nil, nil
	}
	return s.elevation.Elevations(ctx, pts)
}

// Near collects every feature within radiusM of center.
func (s *Service) Near(ctx context.Context, center geo.LatLng, radiusM float64) (Nearby, error) {
	box := geo.Bounds([]geo.LatLng{center}, radiusM)
	var out Nearby
	for _, kind := range []Kind{KindLamp, KindCCTV, KindHazard} {
		pts, err := s.Points(ctx, kind, box)
		if err != nil {
			return Nearby{}, err
		}
		features := []Feature{}
		for _, p := range pts {
			if geo.Distance(center, p) <= radiusM {
				features = append(features, Feature{Kind: kind, Lat: p.Lat, Lng: p.Lng})
			}
		}
		switch kind {
		case KindLamp:
			out.Lamps = features
		case KindCCTV:
			out.CCTV = features
		case KindHazard:
			out.Hazards = features
		}
	}
	lines, err := s.Sidewalks(ctx, box)
	if err != nil {
		return Nearby{}, err
	}
	out.Sidewalks = []Sidewalk{}
	for _, l := range lines {
		out.Sidewalks = append(out.Sidewalks, Sidewalk{Path: l})
	}
	return out, nil
}

type geoJSONLine struct {
	Type        string       `json:"type"`
	Coordinates [][2]float64 `json:"coordinates"`
}

func lineString(path []geo.LatLng) geoJSONLine {
	line := geoJSONLine{Type: "LineString"}
	for _, p := range path {
		line.Coordinates = append(line.Coordinates, [2]float64{p.Lng, p.Lat})
	}
	return line
}

func (l geoJSONLine) path() []geo.LatLng {
	out := make([]geo.LatLng, len(l.Coordinates))
	for i, c := range l.Coordinates {
		out[i] = geo.LatLng{Lat: c[1], Lng: c[0]}
	}
	return out
}
