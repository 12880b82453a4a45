package shape

import (
	"context"
	"encoding/json"
	"fmt"

	"backend-shaperun/internal/apperr"
	"backend-shaperun/internal/db"

	"github.com/jackc/pgx/v5"
)

// Service is the read side of the shape template catalog plus the
// seeding path used by routectl.
type Service struct {
	db db.Querier
}

func NewService(db db.Querier) *Service {
	return &Service{db: db}
}

func (s *Service) List(ctx context.Context) ([]Template, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, slug, name, icon, category, estimated_distance_km, outline, closed, is_active, created_at
		FROM shape_templates WHERE is_active = TRUE
		ORDER BY category, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	templates := []Template{}
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

// Get returns an active template. Missing and disabled templates are both NotFound.
func (s *Service) Get(ctx context.Context, id string) (Template, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, slug, name, icon, category, estimated_distance_km, outline, closed, is_active, created_at
		FROM shape_templates WHERE id = $1 AND is_active = TRUE
	`, id)
	t, err := scanTemplate(row)
	if db.IsNoRows(err) {
		return Template{}, apperr.Newf(apperr.NotFound, "shape template %s not found", id)
	}
	return t, err
}

// Upsert writes a template keyed by slug.
func (s *Service) Upsert(ctx context.Context, t Template) error {
	if _, err := Normalize(t.Outline, t.Closed); err != nil {
		return fmt.Errorf("template %s: %w", t.Slug, err)
	}
	outline, err := json.Marshal(t.Outline)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO shape_templates (id, slug, name, icon, category, estimated_distance_km, outline, closed, is_active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (slug) DO UPDATE
		SET name=EXCLUDED.name, icon=EXCLUDED.icon, category=EXCLUDED.category,
		    estimated_distance_km=EXCLUDED.estimated_distance_km, outline=EXCLUDED.outline,
		    closed=EXCLUDED.closed, is_active=EXCLUDED.is_active
	`, t.ID, t.Slug, t.Name, t.Icon, t.Category, t.EstimatedDistanceKm, outline, t.Closed, t.Active)
	return err
}

func scanTemplate(row pgx.Row) (Template, error) {
	var (
		t       Template
		outline []byte
	)
	if err := row.Scan(&t.ID, &t.Slug, &t.Name, &t.Icon, &t.Category, &t.EstimatedDistanceKm, &outline, &t.Closed, &t.Active, &t.CreatedAt); err != nil {
		return Template{}, err
	}
	if err := json.Unmarshal(outline, &t.Outline); err != nil {
		return Template{}, fmt.Errorf("decode outline for %s: %w", t.ID, err)
	}
	return t, nil
}

// SeedFile upserts every template defined in the YAML file at path.
func (s *Service) SeedFile(ctx context.Context, path string) (int, error) {
	templates, err := LoadSeeds(path)
	if err != nil {
		return 0, err
	}
	for _, t := range templates {
		if err := s.Upsert(ctx, t); err != nil {
			return 0, err
		}
	}
	return len(templates), nil
}
