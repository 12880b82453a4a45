package db

import (
	"context"
	"fmt"
)

// migrations are applied in order; each statement must be idempotent.
var migrations = []string{
	`CREATE EXTENSION IF NOT EXISTS postgis`,
	`CREATE TABLE IF NOT EXISTS shape_templates (
		id TEXT PRIMARY KEY,
		slug TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		icon TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		estimated_distance_km DOUBLE PRECISION NOT NULL DEFAULT 0,
		outline JSONB NOT NULL,
		closed BOOLEAN NOT NULL DEFAULT TRUE,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS generation_tasks (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		owner TEXT NOT NULL DEFAULT '',
		request JSONB NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('processing','completed','failed')),
		progress INT NOT NULL DEFAULT 0 CHECK (progress BETWEEN 0 AND 100),
		current_step TEXT NOT NULL DEFAULT '',
		estimated_remaining_sec INT NOT NULL DEFAULT 0,
		route_id TEXT,
		error_code TEXT,
		error_message TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		heartbeat_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		completed_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS generation_tasks_user_idx ON generation_tasks (user_id, created_at DESC)`,
	`ALTER TABLE generation_tasks ADD COLUMN IF NOT EXISTS owner TEXT NOT NULL DEFAULT ''`,
	`ALTER TABLE generation_tasks ADD COLUMN IF NOT EXISTS heartbeat_at TIMESTAMPTZ NOT NULL DEFAULT now()`,
	`CREATE INDEX IF NOT EXISTS generation_tasks_processing_idx ON generation_tasks (owner, heartbeat_at) WHERE status = 'processing'`,
	`CREATE TABLE IF NOT EXISTS routes (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		shape_id TEXT REFERENCES shape_templates(id),
		name TEXT NOT NULL,
		mode TEXT NOT NULL,
		start_lat DOUBLE PRECISION NOT NULL,
		start_lng DOUBLE PRECISION NOT NULL,
		custom_outline JSONB,
		plan JSONB NOT NULL,
		safety_mode BOOLEAN NOT NULL DEFAULT FALSE,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS route_options (
		id TEXT PRIMARY KEY,
		route_id TEXT NOT NULL REFERENCES routes(id) ON DELETE CASCADE,
		option_number INT NOT NULL CHECK (option_number BETWEEN 1 AND 3),
		name TEXT NOT NULL,
		tag TEXT NOT NULL DEFAULT '',
		coordinates JSONB NOT NULL,
		distance_km DOUBLE PRECISION NOT NULL,
		estimated_time_min INT NOT NULL,
		difficulty TEXT NOT NULL,
		safety_score DOUBLE PRECISION NOT NULL,
		lighting_score DOUBLE PRECISION NOT NULL,
		sidewalk_score DOUBLE PRECISION NOT NULL,
		shape_fit DOUBLE PRECISION NOT NULL,
		elevation_gain_m DOUBLE PRECISION NOT NULL DEFAULT 0,
		elevation_loss_m DOUBLE PRECISION NOT NULL DEFAULT 0,
		UNIQUE (route_id, option_number)
	)`,
	`CREATE TABLE IF NOT EXISTS workouts (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		route_id TEXT REFERENCES routes(id),
		route_option_id TEXT REFERENCES route_options(id),
		mode TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('active','paused','completed')),
		started_at TIMESTAMPTZ NOT NULL,
		paused_at TIMESTAMPTZ,
		paused_total_sec DOUBLE PRECISION NOT NULL DEFAULT 0,
		completed_at TIMESTAMPTZ,
		actual_path JSONB NOT NULL DEFAULT '[]',
		resume_pending BOOLEAN NOT NULL DEFAULT false,
		start_point JSONB,
		end_point JSONB,
		distance_m DOUBLE PRECISION NOT NULL DEFAULT 0,
		duration_sec DOUBLE PRECISION NOT NULL DEFAULT 0,
		avg_pace_sec_km DOUBLE PRECISION NOT NULL DEFAULT 0,
		min_pace_sec_km DOUBLE PRECISION NOT NULL DEFAULT 0,
		max_pace_sec_km DOUBLE PRECISION NOT NULL DEFAULT 0,
		calories DOUBLE PRECISION NOT NULL DEFAULT 0,
		elevation_gain_m DOUBLE PRECISION NOT NULL DEFAULT 0,
		elevation_loss_m DOUBLE PRECISION NOT NULL DEFAULT 0,
		route_completion DOUBLE PRECISION,
		shape_accuracy DOUBLE PRECISION,
		deleted_at TIMESTAMPTZ
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS workouts_one_open_per_user ON workouts (user_id) WHERE status IN ('active','paused')`,
	`CREATE TABLE IF NOT EXISTS workout_splits (
		id TEXT PRIMARY KEY,
		workout_id TEXT NOT NULL REFERENCES workouts(id) ON DELETE CASCADE,
		km_index INT NOT NULL,
		pace_sec_km DOUBLE PRECISION NOT NULL,
		duration_sec DOUBLE PRECISION NOT NULL,
		UNIQUE (workout_id, km_index)
	)`,
	`CREATE TABLE IF NOT EXISTS street_lamps (id BIGSERIAL PRIMARY KEY, location GEOGRAPHY(POINT, 4326) NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS cctv_cameras (id BIGSERIAL PRIMARY KEY, location GEOGRAPHY(POINT, 4326) NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS hazards (id BIGSERIAL PRIMARY KEY, kind TEXT NOT NULL, location GEOGRAPHY(POINT, 4326) NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS sidewalks (id BIGSERIAL PRIMARY KEY, path GEOGRAPHY(LINESTRING, 4326) NOT NULL)`,
	`CREATE INDEX IF NOT EXISTS street_lamps_location_idx ON street_lamps USING GIST (location)`,
	`CREATE INDEX IF NOT EXISTS cctv_cameras_location_idx ON cctv_cameras USING GIST (location)`,
	`CREATE INDEX IF NOT EXISTS hazards_location_idx ON hazards USING GIST (location)`,
	`CREATE INDEX IF NOT EXISTS sidewalks_path_idx ON sidewalks USING GIST (path)`,
}

// Migrate creates the schema if it does not exist.
func Migrate(ctx context.Context, q Querier) error {
	for i, stmt := range migrations {
		if _, err := q.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
