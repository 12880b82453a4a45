// Package scorer rates fitted candidates on street infrastructure and
// picks up to three distinct options.
package scorer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"backend-shaperun/internal/apperr"
	"backend-shaperun/internal/fitter"
	"backend-shaperun/internal/places"
	"backend-shaperun/internal/shared/geo"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Scoring policy.
const (
	SampleStepM    = 20.0
	LampRadiusM    = 15.0
	CCTVRadiusM    = 50.0
	HazardRadiusM  = 30.0
	HazardPenalty  = 5.0
	SidewalkRangeM = 12.0
	MinDivergenceM = 40.0
	MaxOptions     = 3
)

type weights struct {
	distance, shape, safety, lighting, sidewalk float64
}

var (
	balancedWeights = weights{distance: 0.40, shape: 0.30, safety: 0.10, lighting: 0.10, sidewalk: 0.10}
	safetyWeights   = weights{distance: 0.25, shape: 0.15, safety: 0.30, lighting: 0.15, sidewalk: 0.15}
)

const (
	TagBest        = "BEST"
	TagAlternative = "ALTERNATIVE"
)

type Difficulty string

const (
	Easy     Difficulty = "easy"
	Moderate Difficulty = "moderate"
	Hard     Difficulty = "hard"
)

type Params struct {
	TargetDistanceM float64
	SafetyMode      bool
	// PaceMinPerKm converts distance into estimated time.
	PaceMinPerKm float64
	// ShapeName prefixes option names, e.g. "Heart route A".
	ShapeName string
}

type Scored struct {
	fitter.Candidate
	OptionNumber     int
	Name             string
	Tag              string
	DistanceKm       float64
	EstimatedTimeMin int
	Difficulty       Difficulty
	SafetyScore      float64
	LightingScore    float64
	SidewalkScore    float64
	ElevationGainM   float64
	ElevationLossM   float64
	Composite        float64
}

type Scorer struct {
	infra  places.Infrastructure
	logger log.Logger
}

func New(infra places.Infrastructure, logger log.Logger) *Scorer {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Scorer{infra: infra, logger: logger}
}

// Rank scores every candidate and returns at most MaxOptions mutually
// distinct ones, numbered from 1 by rank. A lookup that fails on bad or
// missing data leaves the affected score at zero; a places or elevation
// service that times out or is down fails the ranking.
func (s *Scorer) Rank(ctx context.Context, cands []fitter.Candidate, p Params) ([]Scored, error) {
	scored := make([]Scored, 0, len(cands))
	for _, c := range cands {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sc, err := s.score(ctx, c, p)
		if err != nil {
			return nil, err
		}
		scored = append(scored, sc)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Composite != scored[j].Composite {
			return scored[i].Composite > scored[j].Composite
		}
		return scored[i].MeanDeviationM < scored[j].MeanDeviationM
	})

	kept := make([]Scored, 0, MaxOptions)
	for _, c := range scored {
		if len(kept) == MaxOptions {
			break
		}
		if distinct(c, kept) {
			kept = append(kept, c)
		}
	}

	name := p.ShapeName
	if name == "" {
		name = "Custom"
	}
	for i := range kept {
		kept[i].OptionNumber = i + 1
		kept[i].Name = fmt.Sprintf("%s route %c", name, 'A'+i)
		kept[i].Tag = TagAlternative
		if i == 0 {
			kept[i].Tag = TagBest
		}
	}
	return kept, nil
}

func distinct(c Scored, kept []Scored) bool {
	for _, k := range kept {
		if geo.Divergence(c.Points, k.Points, SampleStepM) < MinDivergenceM {
			return false
		}
	}
	return true
}

func (s *Scorer) score(ctx context.Context, c fitter.Candidate, p Params) (Scored, error) {
	out := Scored{Candidate: c, DistanceKm: c.DistanceM / 1000}
	samples := geo.Sample(c.Points, SampleStepM)
	box := geo.Bounds(c.Points, CCTVRadiusM)

	lamps, err := s.points(ctx, places.KindLamp, box)
	if err != nil {
		return Scored{}, err
	}
	cctv, err := s.points(ctx, places.KindCCTV, box)
	if err != nil {
		return Scored{}, err
	}
	hazards, err := s.points(ctx, places.KindHazard, box)
	if err != nil {
		return Scored{}, err
	}

	if len(samples) > 0 {
		lit, safe := 0, 0
		for _, pt := range samples {
			nearLamp := within(pt, lamps, LampRadiusM)
			if nearLamp {
				lit++
			}
			if nearLamp || within(pt, cctv, CCTVRadiusM) {
				safe++
			}
		}
		n := float64(len(samples))
		out.LightingScore = 100 * float64(lit) / n
		penalty := HazardPenalty * float64(hazardsNear(c.Points, hazards))
		out.SafetyScore = math.Max(0, 100*float64(safe)/n-penalty)

		sidewalks, err := s.infra.Sidewalks(ctx, box)
		if err != nil {
			if err := s.degrade(err, "sidewalk lookup failed, scoring as zero", "seed", c.Seed); err != nil {
				return Scored{}, err
			}
		} else {
			covered := 0
			for _, pt := range samples {
				for _, sw := range sidewalks {
					if geo.DistanceToPath(pt, sw) <= SidewalkRangeM {
						covered++
						break
					}
				}
			}
			out.SidewalkScore = 100 * float64(covered) / n
		}

		elev, err := s.infra.Elevations(ctx, samples)
		if err != nil {
			if err := s.degrade(err, "elevation lookup failed, scoring as flat", "seed", c.Seed); err != nil {
				return Scored{}, err
			}
		} else {
			out.ElevationGainM, out.ElevationLossM = gainLoss(elev)
		}
	}

	out.Difficulty = DifficultyOf(out.DistanceKm, out.ElevationGainM)
	out.EstimatedTimeMin = int(math.Round(out.DistanceKm * p.PaceMinPerKm))
	out.Composite = composite(out, p)
	return out, nil
}

func (s *Scorer) points(ctx context.Context, kind places.Kind, box geo.BBox) ([]geo.LatLng, error) {
	pts, err := s.infra.Points(ctx, kind, box)
	if err != nil {
		return nil, s.degrade(err, "infrastructure lookup failed, scoring as zero", "kind", kind)
	}
	return pts, nil
}

// degrade logs a lookup failure that only costs a score and returns the
// ones that must fail the job: an unreachable collaborator or a dead
// context.
func (s *Scorer) degrade(err error, msg string, keyvals ...interface{}) error {
	if err == nil {
		return nil
	}
	switch apperr.CodeOf(err) {
	case apperr.CollaboratorTimeout, apperr.CollaboratorUnavailable:
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	level.Warn(s.logger).Log(append([]interface{}{"msg", msg, "err", err}, keyvals...)...)
	return nil
}

func composite(s Scored, p Params) float64 {
	w := balancedWeights
	if p.SafetyMode {
		w = safetyWeights
	}
	distanceFit := 0.0
	if p.TargetDistanceM > 0 {
		distanceFit = 100 * math.Max(0, 1-math.Abs(s.DistanceM-p.TargetDistanceM)/p.TargetDistanceM)
	}
	return w.distance*distanceFit +
		w.shape*s.ShapeFit +
		w.safety*s.SafetyScore +
		w.lighting*s.LightingScore +
		w.sidewalk*s.SidewalkScore
}

// DifficultyOf grades a route by km plus one km per 100 m of climb.
func DifficultyOf(km, gainM float64) Difficulty {
	effort := km + gainM/100
	switch {
	case effort < 3:
		return Easy
	case effort < 6:
		return Moderate
	default:
		return Hard
	}
}

func within(p geo.LatLng, pts []geo.LatLng, radiusM float64) bool {
	for _, q := range pts {
		if geo.Distance(p, q) <= radiusM {
			return true
		}
	}
	return false
}

func hazardsNear(path, hazards []geo.LatLng) int {
	n := 0
	for _, h := range hazards {
		if geo.DistanceToPath(h, path) <= HazardRadiusM {
			n++
		}
	}
	return n
}

func gainLoss(elev []float64) (gain, loss float64) {
	for i := 1; i < len(elev); i++ {
		d := elev[i] - elev[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	return gain, loss
}
