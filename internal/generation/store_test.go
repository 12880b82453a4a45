package generation

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"backend-shaperun/internal/apperr"
	"backend-shaperun/internal/route"
	"backend-shaperun/internal/shared/geo"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
)

var errQuery = errors.New("query failed")

var taskColumns = []string{"id", "user_id", "request", "status", "progress", "current_step", "estimated_remaining_sec",
	"route_id", "error_code", "error_message", "created_at", "completed_at"}

func anyArgs(n int) []interface{} {
	args := make([]interface{}, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func strPtr(s string) *string { return &s }

func TestPgStoreCreateProgressFail(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	store := NewPgStore(mock, route.NewService(mock))

	mock.ExpectQuery(`INSERT INTO generation_tasks`).
		WithArgs("task-1", "user-1", "api-1", pgxmock.AnyArg(), stepQueued).
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	task, err := store.Create(context.Background(), Task{ID: "task-1", UserID: "user-1", Owner: "api-1", Request: Request{ShapeID: "shape-1"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.State.Status() != StatusProcessing || task.CreatedAt.IsZero() {
		t.Fatalf("unexpected task: %+v", task)
	}

	mock.ExpectExec(`SET progress = GREATEST\(progress, \$2\)`).
		WithArgs("task-1", 40, stepSnapping, 12).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	if err := store.Progress(context.Background(), "task-1", Processing{Progress: 40, Step: stepSnapping, EstimatedRemainingSec: 12}); err != nil {
		t.Fatalf("progress: %v", err)
	}

	mock.ExpectExec(`SET status = 'failed'.+WHERE id = \$1 AND status = 'processing'`).
		WithArgs("task-1", "UnroutableArea", "no streets").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	if err := store.Fail(context.Background(), "task-1", Failed{Code: apperr.UnroutableArea, Message: "no streets"}); err != nil {
		t.Fatalf("fail: %v", err)
	}

	mock.ExpectExec(`SET status = 'failed'`).
		WithArgs("task-1", "Internal", "again").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	if err := store.Fail(context.Background(), "task-1", Failed{Code: apperr.Internal, Message: "again"}); !errors.Is(err, ErrNotProcessing) {
		t.Fatalf("expected ErrNotProcessing, got %v", err)
	}

	mock.ExpectExec(`SET heartbeat_at = now\(\)\s+WHERE owner = \$1 AND status = 'processing'`).
		WithArgs("api-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	if err := store.Heartbeat(context.Background(), "api-1"); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	mock.ExpectExec(`WHERE status = 'processing'\s+AND \(owner = \$3 OR heartbeat_at < now\(\) - make_interval\(secs => \$4\)\)`).
		WithArgs("Interrupted", "restart", "api-1", 60.0).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))
	n, err := store.FailProcessing(context.Background(), "api-1", time.Minute, Failed{Code: apperr.Interrupted, Message: "restart"})
	if err != nil || n != 3 {
		t.Fatalf("fail processing: %v %d", err, n)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPgStoreCompleteIsTransactional(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	store := NewPgStore(mock, route.NewService(mock))
	newRoute := func() *route.Route {
		return &route.Route{
			UserID: "user-1",
			Name:   "Custom route",
			Mode:   route.ModeRunning,
			Start:  geo.LatLng{Lat: 37.5, Lng: 127},
			Plan:   route.Plan{Mode: route.ModeRunning, Running: &route.RunningPlan{Condition: "recovery"}},
			Options: []route.Option{{OptionNumber: 1, Name: "Custom route A", Coordinates: []geo.LatLng{{Lat: 37.5, Lng: 127}}}},
		}
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO routes`).WithArgs(anyArgs(11)...).
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mock.ExpectExec(`INSERT INTO route_options`).WithArgs(anyArgs(15)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`SET status = 'completed'`).WithArgs("task-1", pgxmock.AnyArg(), stepDone).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	r := newRoute()
	if err := store.Complete(context.Background(), "task-1", r); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if r.ID == "" {
		t.Fatalf("route id not assigned")
	}

	// a task that is no longer processing rolls the route back
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO routes`).WithArgs(anyArgs(11)...).
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mock.ExpectExec(`INSERT INTO route_options`).WithArgs(anyArgs(15)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`SET status = 'completed'`).WithArgs("task-2", pgxmock.AnyArg(), stepDone).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	if err := store.Complete(context.Background(), "task-2", newRoute()); !errors.Is(err, ErrNotProcessing) {
		t.Fatalf("expected ErrNotProcessing, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPgStoreGetStates(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	store := NewPgStore(mock, nil)
	payload, _ := json.Marshal(Request{ShapeID: "shape-1", TargetDistanceKm: 3})
	now := time.Now()

	mock.ExpectQuery(`FROM generation_tasks WHERE id = \$1 AND user_id = \$2`).
		WithArgs("t1", "user-1").
		WillReturnRows(pgxmock.NewRows(taskColumns).
			AddRow("t1", "user-1", payload, "processing", 55, stepSnapping, 20, nil, nil, nil, now, nil))
	task, err := store.Get(context.Background(), "user-1", "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	p, ok := task.State.(Processing)
	if !ok || p.Progress != 55 || p.Step != stepSnapping || task.Request.ShapeID != "shape-1" {
		t.Fatalf("unexpected processing task: %+v", task)
	}

	mock.ExpectQuery(`FROM generation_tasks`).
		WithArgs("t2", "user-1").
		WillReturnRows(pgxmock.NewRows(taskColumns).
			AddRow("t2", "user-1", payload, "completed", 100, stepDone, 0, strPtr("route-1"), nil, nil, now, &now))
	task, err = store.Get(context.Background(), "user-1", "t2")
	if err != nil || task.State != (Completed{RouteID: "route-1"}) || task.CompletedAt == nil {
		t.Fatalf("unexpected completed task: %+v %v", task, err)
	}

	mock.ExpectQuery(`FROM generation_tasks`).
		WithArgs("t3", "user-1").
		WillReturnRows(pgxmock.NewRows(taskColumns).
			AddRow("t3", "user-1", payload, "failed", 40, stepSnapping, 0, nil, strPtr("UnroutableArea"), strPtr("no streets"), now, &now))
	task, err = store.Get(context.Background(), "user-1", "t3")
	if err != nil || task.State != (Failed{Code: apperr.UnroutableArea, Message: "no streets", Progress: 40}) {
		t.Fatalf("unexpected failed task: %+v %v", task, err)
	}

	mock.ExpectQuery(`FROM generation_tasks`).
		WithArgs("t4", "user-2").
		WillReturnError(pgx.ErrNoRows)
	if _, err := store.Get(context.Background(), "user-2", "t4"); apperr.CodeOf(err) != apperr.NotFound {
		t.Fatalf("expected not found, got %v", err)
	}

	mock.ExpectQuery(`FROM generation_tasks`).
		WithArgs("t5", "user-1").
		WillReturnError(errQuery)
	if _, err := store.Get(context.Background(), "user-1", "t5"); !errors.Is(err, errQuery) {
		t.Fatalf("expected query error, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTaskJSONFlattensState(t *testing.T) {
	cases := []struct {
		state State
		want  map[string]interface{}
	}{
		{Processing{Progress: 40, Step: stepSnapping, EstimatedRemainingSec: 9}, map[string]interface{}{"status": "processing", "progress": 40.0, "current_step": stepSnapping, "estimated_remaining": 9.0}},
		{Completed{RouteID: "r1"}, map[string]interface{}{"status": "completed", "progress": 100.0, "route_id": "r1"}},
		{Failed{Code: apperr.UnroutableArea, Message: "no streets", Progress: 40}, map[string]interface{}{"status": "failed", "progress": 40.0}},
	}
	for _, tc := range cases {
		raw, err := json.Marshal(Task{ID: "t1", State: tc.state})
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var got map[string]interface{}
		_ = json.Unmarshal(raw, &got)
		if got["task_id"] != "t1" {
			t.Fatalf("missing task id: %s", raw)
		}
		for k, v := range tc.want {
			if got[k] != v {
				t.Fatalf("%s: want %v got %v (%s)", k, v, got[k], raw)
			}
		}
		if _, isFailed := tc.state.(Failed); isFailed {
			e, _ := got["error"].(map[string]interface{})
			if e["code"] != "UnroutableArea" || e["message"] != "no streets" {
				t.Fatalf("unexpected error body: %s", raw)
			}
		} else if _, ok := got["error"]; ok {
			t.Fatalf("unexpected error field: %s", raw)
		}
	}
}
