package generation

import (
	"context"
	"sync"
	"time"

	"backend-shaperun/internal/apperr"
	"backend-shaperun/internal/fitter"
	"backend-shaperun/internal/places"
	"backend-shaperun/internal/route"
	"backend-shaperun/internal/shape"
	"backend-shaperun/internal/shared/geo"

	"github.com/google/uuid"
)

// memStore mirrors PgStore's guarded updates in memory.
type memStore struct {
	mu       sync.Mutex
	tasks    map[string]Task
	routes   map[string]*route.Route
	history  map[string][]int
	beats    map[string]time.Time
	beatRuns int
	failNext error
}

func newMemStore() *memStore {
	return &memStore{
		tasks:   map[string]Task{},
		routes:  map[string]*route.Route{},
		history: map[string][]int{},
		beats:   map[string]time.Time{},
	}
}

func (m *memStore) Create(_ context.Context, t Task) (Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return Task{}, err
	}
	t.State = Processing{Step: stepQueued}
	m.tasks[t.ID] = t
	m.beats[t.ID] = time.Now()
	return t, nil
}

func (m *memStore) Progress(_ context.Context, id string, p Processing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil
	}
	cur, ok := t.State.(Processing)
	if !ok {
		return nil
	}
	if p.Progress < cur.Progress {
		p.Progress = cur.Progress
	}
	t.State = p
	m.tasks[id] = t
	m.history[id] = append(m.history[id], p.Progress)
	m.beats[id] = time.Now()
	return nil
}

func (m *memStore) Fail(_ context.Context, id string, f Failed) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.State.Status() != StatusProcessing {
		return ErrNotProcessing
	}
	f.Progress = t.State.(Processing).Progress
	t.State = f
	m.tasks[id] = t
	return nil
}

func (m *memStore) Complete(_ context.Context, id string, r *route.Route) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.State.Status() != StatusProcessing {
		return ErrNotProcessing
	}
	r.ID = uuid.NewString()
	m.routes[r.ID] = r
	t.State = Completed{RouteID: r.ID}
	m.tasks[id] = t
	return nil
}

func (m *memStore) Get(_ context.Context, userID, id string) (Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.UserID != userID {
		return Task{}, apperr.New(apperr.NotFound, "task not found")
	}
	return t, nil
}

func (m *memStore) Heartbeat(_ context.Context, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.beatRuns++
	for id, t := range m.tasks {
		if t.Owner == owner && t.State.Status() == StatusProcessing {
			m.beats[id] = time.Now()
		}
	}
	return nil
}

func (m *memStore) FailProcessing(_ context.Context, owner string, staleAfter time.Duration, f Failed) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, t := range m.tasks {
		p, ok := t.State.(Processing)
		if !ok {
			continue
		}
		if t.Owner == owner || time.Since(m.beats[id]) > staleAfter {
			f.Progress = p.Progress
			t.State = f
			m.tasks[id] = t
			n++
		}
	}
	return n, nil
}

// age backdates the lease of a task.
func (m *memStore) age(id string, by time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.beats[id] = m.beats[id].Add(-by)
}

func (m *memStore) heartbeats() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.beatRuns
}

func (m *memStore) task(id string) Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tasks[id]
}

func (m *memStore) progress(id string) []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.history[id]...)
}

type shapeMap map[string]shape.Template

func (s shapeMap) Get(_ context.Context, id string) (shape.Template, error) {
	t, ok := s[id]
	if !ok {
		return shape.Template{}, apperr.New(apperr.NotFound, "shape not found")
	}
	return t, nil
}

// bareStreets has no street furniture and flat terrain.
type bareStreets struct{}

func (bareStreets) Points(context.Context, places.Kind, geo.BBox) ([]geo.LatLng, error) {
	return nil, nil
}

func (bareStreets) Sidewalks(context.Context, geo.BBox) ([][]geo.LatLng, error) {
	return nil, nil
}

func (bareStreets) Elevations(context.Context, []geo.LatLng) ([]float64, error) {
	return nil, nil
}

// placesDown answers every lookup like an unreachable places service.
type placesDown struct{ bareStreets }

func (placesDown) Points(context.Context, places.Kind, geo.BBox) ([]geo.LatLng, error) {
	return nil, apperr.New(apperr.CollaboratorUnavailable, "places is unavailable")
}

// stallingFitter reports half its seeds then fails.
type stallingFitter struct{}

func (stallingFitter) Fit(_ context.Context, _ fitter.Params, progress fitter.ProgressFunc) ([]fitter.Candidate, error) {
	progress(4, 8)
	return nil, apperr.New(apperr.UnroutableArea, "the street network cannot trace this shape")
}

// blockingFitter parks every job until released or cancelled.
type blockingFitter struct {
	entered chan struct{}
	release chan struct{}
}

func newBlockingFitter() *blockingFitter {
	return &blockingFitter{entered: make(chan struct{}, 16), release: make(chan struct{})}
}

func (b *blockingFitter) Fit(ctx context.Context, _ fitter.Params, _ fitter.ProgressFunc) ([]fitter.Candidate, error) {
	b.entered <- struct{}{}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.release:
		return nil, apperr.New(apperr.UnroutableArea, "released")
	}
}
