package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"backend-shaperun/internal/apperr"
	"backend-shaperun/internal/db"
	"backend-shaperun/internal/route"

	"github.com/jackc/pgx/v5"
)

// Store persists task rows. Every write is a single-row update guarded
// by status = 'processing', so a terminal task never changes again.
type Store interface {
	Create(ctx context.Context, t Task) (Task, error)
	Progress(ctx context.Context, id string, p Processing) error
	Fail(ctx context.Context, id string, f Failed) error
	Complete(ctx context.Context, id string, r *route.Route) error
	Get(ctx context.Context, userID, id string) (Task, error)
	Heartbeat(ctx context.Context, owner string) error
	FailProcessing(ctx context.Context, owner string, staleAfter time.Duration, f Failed) (int64, error)
}

// ErrNotProcessing is returned when a task already reached a terminal state.
var ErrNotProcessing = errors.New("task is no longer processing")

type PgStore struct {
	db     db.Querier
	routes *route.Service
}

func NewPgStore(q db.Querier, routes *route.Service) *PgStore {
	return &PgStore{db: q, routes: routes}
}

func (s *PgStore) Create(ctx context.Context, t Task) (Task, error) {
	payload, err := json.Marshal(t.Request)
	if err != nil {
		return Task{}, err
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO generation_tasks (id, user_id, owner, request, status, progress, current_step)
		VALUES ($1,$2,$3,$4,'processing',0,$5)
		RETURNING created_at
	`, t.ID, t.UserID, t.Owner, payload, stepQueued)
	if err := row.Scan(&t.CreatedAt); err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}
	t.State = Processing{Step: stepQueued}
	return t, nil
}

func (s *PgStore) Progress(ctx context.Context, id string, p Processing) error {
	_, err := s.db.Exec(ctx, `
		UPDATE generation_tasks
		SET progress = GREATEST(progress, $2), current_step = $3, estimated_remaining_sec = $4,
			heartbeat_at = now()
		WHERE id = $1 AND status = 'processing'
	`, id, p.Progress, p.Step, p.EstimatedRemainingSec)
	return err
}

func (s *PgStore) Fail(ctx context.Context, id string, f Failed) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE generation_tasks
		SET status = 'failed', error_code = $2, error_message = $3, estimated_remaining_sec = 0, completed_at = now()
		WHERE id = $1 AND status = 'processing'
	`, id, string(f.Code), f.Message)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotProcessing
	}
	return nil
}

// Complete saves the route and flips the task in one transaction.
func (s *PgStore) Complete(ctx context.Context, id string, r *route.Route) error {
	return db.InTx(ctx, s.db, func(tx pgx.Tx) error {
		if err := s.routes.Insert(ctx, tx, r); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
			UPDATE generation_tasks
			SET status = 'completed', progress = 100, current_step = $3, estimated_remaining_sec = 0,
				route_id = $2, completed_at = now()
			WHERE id = $1 AND status = 'processing'
		`, id, r.ID, stepDone)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotProcessing
		}
		return nil
	})
}

func (s *PgStore) Get(ctx context.Context, userID, id string) (Task, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, user_id, request, status, progress, current_step, estimated_remaining_sec,
			route_id, error_code, error_message, created_at, completed_at
		FROM generation_tasks WHERE id = $1 AND user_id = $2
	`, id, userID)

	var (
		t                      Task
		payload                []byte
		status, step           string
		progress, remaining    int
		routeID, code, message *string
	)
	err := row.Scan(&t.ID, &t.UserID, &payload, &status, &progress, &step, &remaining,
		&routeID, &code, &message, &t.CreatedAt, &t.CompletedAt)
	if db.IsNoRows(err) {
		return Task{}, apperr.New(apperr.NotFound, "task not found")
	}
	if err != nil {
		return Task{}, err
	}
	if err := json.Unmarshal(payload, &t.Request); err != nil {
		return Task{}, fmt.Errorf("decode request: %w", err)
	}

	switch Status(status) {
	case StatusCompleted:
		t.State = Completed{RouteID: deref(routeID)}
	case StatusFailed:
		t.State = Failed{Code: apperr.Code(deref(code)), Message: deref(message), Progress: progress}
	default:
		t.State = Processing{Progress: progress, Step: step, EstimatedRemainingSec: remaining}
	}
	return t, nil
}

// Heartbeat renews the lease on every processing task owned by owner.
func (s *PgStore) Heartbeat(ctx context.Context, owner string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE generation_tasks SET heartbeat_at = now()
		WHERE owner = $1 AND status = 'processing'
	`, owner)
	return err
}

// FailProcessing fails the processing tasks whose job is gone: those owned
// by owner, which is starting up, and those whose lease has not been
// renewed for staleAfter. Tasks of other live instances are left alone.
func (s *PgStore) FailProcessing(ctx context.Context, owner string, staleAfter time.Duration, f Failed) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE generation_tasks
		SET status = 'failed', error_code = $1, error_message = $2, estimated_remaining_sec = 0, completed_at = now()
		WHERE status = 'processing'
			AND (owner = $3 OR heartbeat_at < now() - make_interval(secs => $4))
	`, string(f.Code), f.Message, owner, staleAfter.Seconds())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
