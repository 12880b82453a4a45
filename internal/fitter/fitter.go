// Package fitter turns a normalized outline into street-following
// candidate routes around a start point.
package fitter

import (
	"context"
	"errors"
	"fmt"
	"math"

	"backend-shaperun/internal/apperr"
	"backend-shaperun/internal/roadgraph"
	"backend-shaperun/internal/route"
	"backend-shaperun/internal/shape"
	"backend-shaperun/internal/shared/geo"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

type Config struct {
	// StartSearchRadiusM bounds the search for a routable point near the start.
	StartSearchRadiusM float64
	// SnapRadiusM bounds waypoint snapping; it is widened once by SnapWidening.
	SnapRadiusM  float64
	SnapWidening float64
	// NearestCandidates is how many routable points are considered per waypoint.
	NearestCandidates int
	// Circuity is the expected ratio of street distance to outline length.
	Circuity float64
	// SegmentDivisor caps outline segments at target/SegmentDivisor.
	SegmentDivisor float64
	// MaxDeviationRatio discards candidates whose mean divergence from the
	// outline exceeds this share of the target distance.
	MaxDeviationRatio float64
	// FeedbackTolerance triggers one rescaled refit per seed.
	FeedbackTolerance float64
	// AcceptTolerance is the distance band candidates must land in.
	AcceptTolerance float64
	// SafetySeeds is how many extra placements safety mode tries, giving
	// the safety-weighted ranking more to choose from.
	SafetySeeds int
}

func DefaultConfig() Config {
	return Config{
		StartSearchRadiusM: 1500,
		SnapRadiusM:        250,
		SnapWidening:       3,
		NearestCandidates:  4,
		Circuity:           1.2,
		SegmentDivisor:     20,
		MaxDeviationRatio:  0.25,
		FeedbackTolerance:  0.12,
		AcceptTolerance:    0.15,
		SafetySeeds:        4,
	}
}

type Params struct {
	Outline         shape.Outline
	Start           geo.LatLng
	TargetDistanceM float64
	// Seeds is the number of placements tried; each rotates the outline
	// and, for closed outlines, anchors a different vertex on the start.
	Seeds int
	// Mode picks the routing profile registered with WithModeRouter.
	Mode       route.Mode
	SafetyMode bool
}

type Candidate struct {
	Seed           int          `json:"seed"`
	RotationDeg    float64      `json:"rotation_deg"`
	AnchorVertex   int          `json:"anchor_vertex"`
	Points         []geo.LatLng `json:"points"`
	DistanceM      float64      `json:"distance_m"`
	MeanDeviationM float64      `json:"mean_deviation_m"`
	// ShapeFit is 100 for a perfect trace and falls to 0 at the deviation limit.
	ShapeFit float64 `json:"shape_fit"`
	// Waypoints is the outline as placed on the map before snapping.
	Waypoints []geo.LatLng `json:"-"`
}

// ProgressFunc is told after each seed how many of total are done.
type ProgressFunc func(done, total int)

var errWaypointUnroutable = errors.New("waypoint has no routable point nearby")

type Fitter struct {
	router roadgraph.Router
	byMode map[route.Mode]roadgraph.Router
	cfg    Config
	logger log.Logger
}

func New(router roadgraph.Router, cfg Config, logger log.Logger) *Fitter {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Fitter{router: router, cfg: cfg, logger: logger}
}

// WithModeRouter routes fits for mode through r instead of the default
// router. Call it before the fitter is shared.
func (f *Fitter) WithModeRouter(mode route.Mode, r roadgraph.Router) *Fitter {
	if f.byMode == nil {
		f.byMode = map[route.Mode]roadgraph.Router{}
	}
	f.byMode[mode] = r
	return f
}

func (f *Fitter) forMode(mode route.Mode) *Fitter {
	r, ok := f.byMode[mode]
	if !ok {
		return f
	}
	cp := *f
	cp.router = r
	return &cp
}

// Fit returns the candidates that land within AcceptTolerance of the
// target distance. It fails with UnroutableArea when nothing could be
// routed or nothing lands in the band, and passes collaborator failures
// through unchanged.
func (f *Fitter) Fit(ctx context.Context, p Params, progress ProgressFunc) ([]Candidate, error) {
	f = f.forMode(p.Mode)
	if len(p.Outline.Points) < 3 {
		return nil, apperr.New(apperr.InvalidShape, "outline needs at least 3 points")
	}
	if !p.Start.Valid() {
		return nil, apperr.New(apperr.InvalidRequest, "start coordinate is invalid")
	}
	if p.TargetDistanceM <= 0 {
		return nil, apperr.New(apperr.InvalidRequest, "target distance must be positive")
	}
	seeds := p.Seeds
	if seeds <= 0 {
		seeds = 8
	}
	if p.SafetyMode {
		seeds += f.cfg.SafetySeeds
	}

	snapped, err := f.router.Nearest(ctx, p.Start, f.cfg.StartSearchRadiusM, 1)
	if err != nil {
		return nil, err
	}
	if len(snapped) == 0 {
		return nil, apperr.Newf(apperr.UnroutableArea, "no routable street within %.0f m of the start", f.cfg.StartSearchRadiusM)
	}
	startAnchor := snapped[0]

	baseScale := p.TargetDistanceM / f.cfg.Circuity / p.Outline.Perimeter()
	var (
		accepted []Candidate
		routed   int
	)
	for seed := 0; seed < seeds; seed++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cand, err := f.fitSeed(ctx, p, seed, seeds, startAnchor, baseScale)
		if progress != nil {
			progress(seed+1, seeds)
		}
		if err != nil {
			if isCollaboratorFailure(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			level.Debug(f.logger).Log("msg", "seed discarded", "seed", seed, "err", err)
			continue
		}
		routed++
		if f.withinBand(cand.DistanceM, p.TargetDistanceM, f.cfg.AcceptTolerance) {
			accepted = append(accepted, cand)
		} else {
			level.Debug(f.logger).Log("msg", "seed outside distance band", "seed", seed, "distance_m", cand.DistanceM)
		}
	}

	switch {
	case routed == 0:
		return nil, apperr.New(apperr.UnroutableArea, "the street network around the start cannot trace this shape")
	case len(accepted) == 0:
		return nil, apperr.Newf(apperr.UnroutableArea, "no placement lands within %.0f%% of the target distance", 100*f.cfg.AcceptTolerance)
	}
	return accepted, nil
}

// fitSeed places, snaps and routes one seed, refitting once at a
// corrected scale when the routed length misses the target.
func (f *Fitter) fitSeed(ctx context.Context, p Params, seed, seeds int, startAnchor geo.LatLng, scale float64) (Candidate, error) {
	rotation := float64(seed) * 360 / float64(seeds)
	anchor := 0
	if p.Outline.Closed {
		anchor = (seed * len(p.Outline.Points) / seeds) % len(p.Outline.Points)
	}

	cand, err := f.trace(ctx, p, rotation, anchor, startAnchor, scale)
	if err != nil {
		return Candidate{}, err
	}
	if cand.DistanceM > 0 && !f.withinBand(cand.DistanceM, p.TargetDistanceM, f.cfg.FeedbackTolerance) {
		retry, err := f.trace(ctx, p, rotation, anchor, startAnchor, scale*p.TargetDistanceM/cand.DistanceM)
		if err == nil && math.Abs(retry.DistanceM-p.TargetDistanceM) < math.Abs(cand.DistanceM-p.TargetDistanceM) {
			cand = retry
		} else if err != nil && isCollaboratorFailure(err) {
			return Candidate{}, err
		}
	}
	cand.Seed = seed

	limit := f.cfg.MaxDeviationRatio * p.TargetDistanceM
	if cand.MeanDeviationM > limit {
		return Candidate{}, fmt.Errorf("seed %d deviates %.0f m from the outline", seed, cand.MeanDeviationM)
	}
	cand.ShapeFit = 100 * (1 - cand.MeanDeviationM/limit)
	return cand, nil
}

func (f *Fitter) trace(ctx context.Context, p Params, rotation float64, anchor int, startAnchor geo.LatLng, scale float64) (Candidate, error) {
	ring := orderFrom(p.Outline, anchor)
	waypoints := place(ring, p.Start, rotation, scale)
	drawn := waypoints
	if p.Outline.Closed {
		drawn = append(append([]geo.LatLng(nil), waypoints...), waypoints[0])
	}
	dense := densify(drawn, p.TargetDistanceM/f.cfg.SegmentDivisor)
	if p.Outline.Closed {
		// the closing vertex is the start anchor, appended after snapping
		dense = dense[:len(dense)-1]
	}

	anchors, err := f.snap(ctx, dense, startAnchor)
	if err != nil {
		return Candidate{}, err
	}
	if p.Outline.Closed {
		anchors = append(anchors, startAnchor)
	}

	route, dist, err := f.routeLegs(ctx, anchors)
	if err != nil {
		return Candidate{}, err
	}

	if geo.Distance(p.Start, route[0]) > 1 {
		dist += geo.Distance(p.Start, route[0])
		route = append([]geo.LatLng{p.Start}, route...)
	}
	if p.Outline.Closed && geo.Distance(route[len(route)-1], p.Start) > 1 {
		dist += geo.Distance(route[len(route)-1], p.Start)
		route = append(route, p.Start)
	}

	step := math.Max(10, p.TargetDistanceM/100)
	return Candidate{
		RotationDeg:    rotation,
		AnchorVertex:   anchor,
		Points:         route,
		DistanceM:      dist,
		MeanDeviationM: geo.Divergence(drawn, route, step),
		Waypoints:      drawn,
	}, nil
}

// snap maps each waypoint onto the street network. The first waypoint
// sits on the start and takes its anchor. Later waypoints take the
// nearest routable point not already used, so distinct vertices do not
// collapse onto the same street node.
func (f *Fitter) snap(ctx context.Context, waypoints []geo.LatLng, startAnchor geo.LatLng) ([]geo.LatLng, error) {
	anchors := []geo.LatLng{startAnchor}
	used := map[geo.LatLng]bool{startAnchor: true}

	for _, wp := range waypoints[1:] {
		cands, err := f.router.Nearest(ctx, wp, f.cfg.SnapRadiusM, f.cfg.NearestCandidates)
		if err != nil {
			return nil, err
		}
		if len(cands) == 0 {
			cands, err = f.router.Nearest(ctx, wp, f.cfg.SnapRadiusM*f.cfg.SnapWidening, f.cfg.NearestCandidates)
			if err != nil {
				return nil, err
			}
		}
		if len(cands) == 0 {
			return nil, errWaypointUnroutable
		}

		pick := cands[0]
		for _, c := range cands {
			if !used[c] {
				pick = c
				break
			}
		}
		used[pick] = true
		anchors = append(anchors, pick)
	}
	return anchors, nil
}

func (f *Fitter) routeLegs(ctx context.Context, anchors []geo.LatLng) ([]geo.LatLng, float64, error) {
	route := []geo.LatLng{anchors[0]}
	total := 0.0
	for i := 1; i < len(anchors); i++ {
		from, to := anchors[i-1], anchors[i]
		if from == to {
			continue
		}
		leg, err := f.router.ShortestPath(ctx, from, to)
		if err != nil {
			return nil, 0, err
		}
		for j, pt := range leg.Points {
			if j == 0 && pt == route[len(route)-1] {
				continue
			}
			route = append(route, pt)
		}
		total += leg.DistanceM
	}
	return route, total, nil
}

func (f *Fitter) withinBand(actual, target, tolerance float64) bool {
	return math.Abs(actual-target) <= tolerance*target
}

func isCollaboratorFailure(err error) bool {
	switch apperr.CodeOf(err) {
	case apperr.CollaboratorTimeout, apperr.CollaboratorUnavailable:
		return true
	}
	return false
}
