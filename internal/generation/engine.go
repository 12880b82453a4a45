// Package generation runs shape-route generation as background jobs
// that clients submit and then poll.
package generation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"backend-shaperun/internal/apperr"
	"backend-shaperun/internal/fitter"
	"backend-shaperun/internal/metrics"
	"backend-shaperun/internal/route"
	"backend-shaperun/internal/scorer"
	"backend-shaperun/internal/shape"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
)

const (
	MinTargetM = 500.0
	MaxTargetM = 42195.0

	// storeWriteTimeout bounds bookkeeping writes made after a job's own
	// context is gone.
	storeWriteTimeout = 5 * time.Second
)

type ShapeSource interface {
	Get(ctx context.Context, id string) (shape.Template, error)
}

type Fitter interface {
	Fit(ctx context.Context, p fitter.Params, progress fitter.ProgressFunc) ([]fitter.Candidate, error)
}

type Ranker interface {
	Rank(ctx context.Context, cands []fitter.Candidate, p scorer.Params) ([]scorer.Scored, error)
}

type Config struct {
	Workers   int
	QueueSize int
	// Timeout bounds one job from dequeue to its final write.
	Timeout time.Duration
	// Seeds is the number of placements the fitter tries per job.
	Seeds int
	// Instance identifies this process as the owner of the tasks it queues.
	// It should survive restarts so a restarted instance reclaims its own
	// interrupted tasks.
	Instance string
	// Lease is how long a processing task may go without a heartbeat
	// before any instance may fail it as abandoned.
	Lease time.Duration
}

type Engine struct {
	store  Store
	shapes ShapeSource
	fitter Fitter
	ranker Ranker
	pool   *Pool
	cfg    Config
	logger log.Logger

	stopBeat chan struct{}
	beatWG   sync.WaitGroup
	stopOnce sync.Once
}

func NewEngine(store Store, shapes ShapeSource, f Fitter, r Ranker, cfg Config, logger log.Logger) *Engine {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.Instance == "" {
		cfg.Instance = "local"
	}
	if cfg.Lease <= 0 {
		cfg.Lease = time.Minute
	}
	return &Engine{
		store:    store,
		shapes:   shapes,
		fitter:   f,
		ranker:   r,
		pool:     NewPool(cfg.QueueSize, logger),
		cfg:      cfg,
		logger:   logger,
		stopBeat: make(chan struct{}),
	}
}

// Start launches the workers and the lease heartbeat for this
// instance's tasks.
func (e *Engine) Start() error {
	if err := e.pool.Start(e.cfg.Workers); err != nil {
		return err
	}
	e.beatWG.Add(1)
	go e.heartbeat(e.cfg.Lease / 3)
	return nil
}

// Stop cancels running jobs and waits for the workers. Cancelled jobs
// fail their tasks with Interrupted.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopBeat) })
	e.beatWG.Wait()
	e.pool.Stop()
}

func (e *Engine) heartbeat(every time.Duration) {
	defer e.beatWG.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopBeat:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), storeWriteTimeout)
			if err := e.store.Heartbeat(ctx, e.cfg.Instance); err != nil {
				level.Warn(e.logger).Log("msg", "task heartbeat failed", "instance", e.cfg.Instance, "err", err)
			}
			cancel()
		}
	}
}

// job is a validated request ready for a worker.
type job struct {
	taskID    string
	userID    string
	req       Request
	outline   shape.Outline
	targetM   float64
	shapeID   *string
	shapeName string
	routeName string
}

// Submit validates req, records a processing task and queues it. It
// returns as soon as the task row exists.
func (e *Engine) Submit(ctx context.Context, userID string, req Request) (Task, error) {
	j, err := e.resolve(ctx, req)
	if err != nil {
		return Task{}, err
	}
	j.taskID = uuid.NewString()
	j.userID = userID

	task, err := e.store.Create(ctx, Task{ID: j.taskID, UserID: userID, Owner: e.cfg.Instance, Request: req})
	if err != nil {
		return Task{}, err
	}

	err = e.pool.Submit(func(poolCtx context.Context) { e.run(poolCtx, j) })
	if err == nil {
		level.Info(e.logger).Log("msg", "generation queued", "task", task.ID, "user", userID, "target_m", j.targetM)
		return task, nil
	}

	failed := Failed{Code: apperr.Overloaded, Message: "generation queue is full, try again later"}
	if !errors.Is(err, ErrQueueFull) {
		failed.Message = "generation is not accepting work"
	}
	if ferr := e.store.Fail(ctx, task.ID, failed); ferr != nil {
		level.Error(e.logger).Log("msg", "failed to record rejected task", "task", task.ID, "err", ferr)
	}
	metrics.GenerationTasksTotal.WithLabelValues(metrics.OutcomeRejected).Inc()
	metrics.GenerationFailuresTotal.WithLabelValues(string(failed.Code)).Inc()
	level.Warn(e.logger).Log("msg", "generation rejected", "task", task.ID, "err", err)

	task.State = failed
	return task, apperr.Wrap(apperr.Overloaded, err, failed.Message)
}

func (e *Engine) Poll(ctx context.Context, userID, taskID string) (Task, error) {
	return e.store.Get(ctx, userID, taskID)
}

// RecoverInterrupted fails tasks left processing by this instance's
// previous process and by instances whose lease expired. Call it before
// Start.
func (e *Engine) RecoverInterrupted(ctx context.Context) (int64, error) {
	n, err := e.store.FailProcessing(ctx, e.cfg.Instance, e.cfg.Lease,
		Failed{Code: apperr.Interrupted, Message: "generation was interrupted by a restart"})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		level.Warn(e.logger).Log("msg", "failed interrupted generation tasks", "count", n)
		metrics.GenerationFailuresTotal.WithLabelValues(string(apperr.Interrupted)).Add(float64(n))
	}
	return n, nil
}

func (e *Engine) resolve(ctx context.Context, req Request) (job, error) {
	given := 0
	for _, set := range []bool{req.ShapeID != "", len(req.CustomOutline) > 0, req.CustomSVG != ""} {
		if set {
			given++
		}
	}
	if given != 1 {
		return job{}, apperr.New(apperr.InvalidShape, "give exactly one of shape_id, custom_outline or custom_svg")
	}
	if !req.Start.Valid() {
		return job{}, apperr.New(apperr.InvalidRequest, "start coordinate is invalid")
	}
	if err := req.Plan.Validate(); err != nil {
		return job{}, err
	}

	j := job{req: req, shapeName: "Custom", routeName: req.Name}
	var templateKm float64
	switch {
	case req.ShapeID != "":
		tpl, err := e.shapes.Get(ctx, req.ShapeID)
		if apperr.Is(err, apperr.NotFound) {
			return job{}, apperr.Newf(apperr.InvalidShape, "unknown or inactive shape %q", req.ShapeID)
		}
		if err != nil {
			return job{}, err
		}
		if j.outline, err = shape.Normalize(tpl.Outline, tpl.Closed); err != nil {
			return job{}, err
		}
		id := tpl.ID
		j.shapeID = &id
		j.shapeName = tpl.Name
		templateKm = tpl.EstimatedDistanceKm
	case req.CustomSVG != "":
		pts, closed, err := shape.ParseSVGPath(req.CustomSVG)
		if err != nil {
			return job{}, err
		}
		if j.outline, err = shape.Normalize(pts, closed); err != nil {
			return job{}, err
		}
	default:
		closed := true
		if req.Closed != nil {
			closed = *req.Closed
		}
		var err error
		if j.outline, err = shape.Normalize(req.CustomOutline, closed); err != nil {
			return job{}, err
		}
	}
	if j.routeName == "" {
		j.routeName = j.shapeName + " route"
	}

	switch {
	case req.TargetDistanceKm > 0:
		j.targetM = req.TargetDistanceKm * 1000
	case req.Plan.TargetDistanceM() > 0:
		j.targetM = req.Plan.TargetDistanceM()
	case templateKm > 0:
		j.targetM = templateKm * 1000
	default:
		return job{}, apperr.New(apperr.InvalidRequest, "target distance is required for custom shapes")
	}
	if math.IsNaN(j.targetM) || j.targetM < MinTargetM || j.targetM > MaxTargetM {
		return job{}, apperr.Newf(apperr.InvalidRequest, "target distance must be between %.1f and %.1f km", MinTargetM/1000, MaxTargetM/1000)
	}
	return j, nil
}

// tracker reports checkpoints for one job, never moving backwards.
type tracker struct {
	e       *Engine
	taskID  string
	started time.Time
	mu      sync.Mutex
	last    int
}

func (t *tracker) report(ctx context.Context, progress int, step string) {
	t.mu.Lock()
	if progress < t.last {
		progress = t.last
	}
	t.last = progress
	t.mu.Unlock()

	remaining := 0
	if progress > 0 && progress < 100 {
		elapsed := time.Since(t.started).Seconds()
		remaining = int(math.Ceil(elapsed / float64(progress) * float64(100-progress)))
	}
	if err := t.e.store.Progress(ctx, t.taskID, Processing{Progress: progress, Step: step, EstimatedRemainingSec: remaining}); err != nil {
		level.Warn(t.e.logger).Log("msg", "progress write failed", "task", t.taskID, "err", err)
	}
}

func (e *Engine) run(ctx context.Context, j job) {
	started := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	routeID, options, err := e.generate(ctx, j, &tracker{e: e, taskID: j.taskID, started: started})
	metrics.GenerationDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		e.fail(j, err)
		return
	}

	metrics.GenerationTasksTotal.WithLabelValues(metrics.OutcomeCompleted).Inc()
	metrics.GenerationOptionsTotal.Observe(float64(options))
	level.Info(e.logger).Log("msg", "generation completed", "task", j.taskID, "route", routeID, "options", options,
		"took", time.Since(started).Round(time.Millisecond))
}

func (e *Engine) generate(ctx context.Context, j job, tr *tracker) (string, int, error) {
	tr.report(ctx, progressNormalizing, stepNormalizing)
	tr.report(ctx, progressSnapping, stepSnapping)

	cands, err := e.fitter.Fit(ctx, fitter.Params{
		Outline:         j.outline,
		Start:           j.req.Start,
		TargetDistanceM: j.targetM,
		Seeds:           e.cfg.Seeds,
		Mode:            j.req.Plan.Mode,
		SafetyMode:      j.req.SafetyMode,
	}, func(done, total int) {
		tr.report(ctx, progressSnapping+(progressScoring-progressSnapping)*done/total, stepSnapping)
	})
	if err != nil {
		return "", 0, err
	}

	tr.report(ctx, progressScoring, stepScoring)
	scored, err := e.ranker.Rank(ctx, cands, scorer.Params{
		TargetDistanceM: j.targetM,
		SafetyMode:      j.req.SafetyMode,
		PaceMinPerKm:    j.req.Plan.PaceMinPerKm(),
		ShapeName:       j.shapeName,
	})
	if err != nil {
		return "", 0, err
	}
	if len(scored) == 0 {
		return "", 0, apperr.New(apperr.UnroutableArea, "no candidate route survived scoring")
	}

	tr.report(ctx, progressSaving, stepSaving)
	r := e.buildRoute(j, scored)
	if err := e.store.Complete(ctx, j.taskID, r); err != nil {
		return "", 0, fmt.Errorf("save route: %w", err)
	}
	return r.ID, len(r.Options), nil
}

func (e *Engine) buildRoute(j job, scored []scorer.Scored) *route.Route {
	r := &route.Route{
		UserID:     j.userID,
		ShapeID:    j.shapeID,
		Name:       j.routeName,
		Mode:       j.req.Plan.Mode,
		Start:      j.req.Start,
		Plan:       j.req.Plan,
		SafetyMode: j.req.SafetyMode,
	}
	if j.shapeID == nil {
		r.CustomOutline = j.outline.Points
	}
	for _, s := range scored {
		r.Options = append(r.Options, route.Option{
			OptionNumber:     s.OptionNumber,
			Name:             s.Name,
			Tag:              s.Tag,
			Coordinates:      s.Points,
			DistanceKm:       round(s.DistanceKm, 2),
			EstimatedTimeMin: s.EstimatedTimeMin,
			Difficulty:       string(s.Difficulty),
			SafetyScore:      round(s.SafetyScore, 1),
			LightingScore:    round(s.LightingScore, 1),
			SidewalkScore:    round(s.SidewalkScore, 1),
			ShapeFit:         round(s.ShapeFit, 1),
			ElevationGainM:   round(s.ElevationGainM, 1),
			ElevationLossM:   round(s.ElevationLossM, 1),
		})
	}
	return r
}

func (e *Engine) fail(j job, err error) {
	f := failureOf(err)
	ctx, cancel := context.WithTimeout(context.Background(), storeWriteTimeout)
	defer cancel()
	if werr := e.store.Fail(ctx, j.taskID, f); werr != nil {
		level.Error(e.logger).Log("msg", "failed to record task failure", "task", j.taskID, "err", werr)
	}
	metrics.GenerationTasksTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
	metrics.GenerationFailuresTotal.WithLabelValues(string(f.Code)).Inc()
	level.Warn(e.logger).Log("msg", "generation failed", "task", j.taskID, "code", f.Code, "err", err)
}

// failureOf maps a job error to the stable code clients see.
func failureOf(err error) Failed {
	var ae *apperr.Error
	switch {
	case errors.As(err, &ae):
		return Failed{Code: ae.Code, Message: ae.Message}
	case errors.Is(err, context.Canceled):
		return Failed{Code: apperr.Interrupted, Message: "generation was interrupted by shutdown"}
	case errors.Is(err, context.DeadlineExceeded):
		return Failed{Code: apperr.CollaboratorTimeout, Message: "generation timed out"}
	default:
		return Failed{Code: apperr.Internal, Message: "internal error"}
	}
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
