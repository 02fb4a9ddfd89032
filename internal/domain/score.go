package domain

import (
	"fmt"
	"math"

	"github.com/couchcryptid/uavo-incident-aggregator/internal/geo"
)

// DefaultHighSignalConfidence is the signal confidence at or above which a
// member counts toward the correlation bonus.
const DefaultHighSignalConfidence = 0.7

// Weights are the coefficients of the confidence formula.
type Weights struct {
	PointCount  float64 `json:"point_count"`
	Diversity   float64 `json:"diversity"`
	Correlation float64 `json:"correlation"`
}

// DefaultWeights returns equal weights.
func DefaultWeights() Weights {
	return Weights{PointCount: 1.0 / 3, Diversity: 1.0 / 3, Correlation: 1.0 / 3}
}

// Normalize scales the weights to sum to 1. Negative weights or a zero sum
// are configuration errors.
func (w Weights) Normalize() (Weights, error) {
	for _, v := range []float64{w.PointCount, w.Diversity, w.Correlation} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return Weights{}, fmt.Errorf("%w: weights must be finite and non-negative, got %+v", ErrConfiguration, w)
		}
	}
	sum := w.PointCount + w.Diversity + w.Correlation
	if sum <= 0 {
		return Weights{}, fmt.Errorf("%w: weights must have a positive sum", ErrConfiguration)
	}
	if math.Abs(sum-1) < 1e-9 {
		return w, nil
	}
	return Weights{
		PointCount:  w.PointCount / sum,
		Diversity:   w.Diversity / sum,
		Correlation: w.Correlation / sum,
	}, nil
}

// RiskThresholds are the lower bounds of the medium, high and critical
// buckets. Scores below Medium are low.
type RiskThresholds struct {
	Medium   float64 `json:"medium"`
	High     float64 `json:"high"`
	Critical float64 `json:"critical"`
}

// DefaultRiskThresholds returns 0.3 / 0.6 / 0.85.
func DefaultRiskThresholds() RiskThresholds {
	return RiskThresholds{Medium: 0.3, High: 0.6, Critical: 0.85}
}

// Validate requires strictly increasing thresholds within (0, 1].
func (t RiskThresholds) Validate() error {
	if !(t.Medium > 0 && t.Medium < t.High && t.High < t.Critical && t.Critical <= 1) {
		return fmt.Errorf("%w: risk thresholds must be strictly increasing within (0,1], got %+v", ErrConfiguration, t)
	}
	return nil
}

// Level maps a risk score to its bucket.
func (t RiskThresholds) Level(score float64) RiskLevel {
	switch {
	case score < t.Medium:
		return RiskLow
	case score < t.High:
		return RiskMedium
	case score < t.Critical:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// Zone is a sensitive area that raises the risk of nearby incidents.
type Zone struct {
	Name     string
	Center   geo.Point
	RadiusKm float64
	Boost    float64
}

// boostAt returns the full boost inside the radius, decaying linearly to
// zero at twice the radius.
func (z Zone) boostAt(p geo.Point) float64 {
	d := geo.HaversineKm(z.Center, p)
	switch {
	case d <= z.RadiusKm:
		return z.Boost
	case d >= 2*z.RadiusKm:
		return 0
	default:
		return z.Boost * (2*z.RadiusKm - d) / z.RadiusKm
	}
}

// ScoreConfig configures a Scorer.
type ScoreConfig struct {
	Weights              Weights
	HighSignalConfidence float64
	Thresholds           RiskThresholds
	Zones                []Zone
}

// DefaultScoreConfig returns equal weights, default thresholds and no zones.
func DefaultScoreConfig() ScoreConfig {
	return ScoreConfig{
		Weights:              DefaultWeights(),
		HighSignalConfidence: DefaultHighSignalConfidence,
		Thresholds:           DefaultRiskThresholds(),
	}
}

// Score is the scorer's verdict on one cluster.
type Score struct {
	Confidence float64
	RiskScore  float64
	RiskLevel  RiskLevel
	Correlated bool
}

// Scorer derives confidence and risk for clusters.
type Scorer struct {
	cfg ScoreConfig
}

// NewScorer validates cfg and normalizes its weights.
func NewScorer(cfg ScoreConfig) (*Scorer, error) {
	w, err := cfg.Weights.Normalize()
	if err != nil {
		return nil, err
	}
	cfg.Weights = w

	if err := cfg.Thresholds.Validate(); err != nil {
		return nil, err
	}
	if cfg.HighSignalConfidence < 0 || cfg.HighSignalConfidence > 1 || math.IsNaN(cfg.HighSignalConfidence) {
		return nil, fmt.Errorf("%w: high signal confidence must be within [0,1], got %v", ErrConfiguration, cfg.HighSignalConfidence)
	}
	for _, z := range cfg.Zones {
		if !z.Center.Valid() || !(z.RadiusKm > 0) || z.Boost < 0 {
			return nil, fmt.Errorf("%w: invalid sensitive zone %q", ErrConfiguration, z.Name)
		}
	}
	return &Scorer{cfg: cfg}, nil
}

// Score computes the confidence and risk of a non-empty cluster.
func (s *Scorer) Score(c *Cluster) Score {
	size := min(c.Size(), MaxClusterSize)

	pointCount := float64(size) / MaxClusterSize
	distinct := distinctSourceTypes(c.Members)
	diversity := float64(len(distinct)) / float64(min(size, len(KnownSourceTypes)))

	var correlation float64
	correlated := s.correlated(c.Members)
	if correlated {
		correlation = 1
	}

	w := s.cfg.Weights
	confidence := clamp01(w.PointCount*pointCount + w.Diversity*diversity + w.Correlation*correlation)

	risk := confidence
	if len(s.cfg.Zones) > 0 {
		risk = clamp01(confidence + s.zoneBoost(centroidOf(c.Members)))
	}

	return Score{
		Confidence: confidence,
		RiskScore:  risk,
		RiskLevel:  s.cfg.Thresholds.Level(risk),
		Correlated: correlated,
	}
}

// correlated reports whether at least two distinct source types each have a
// member at or above the high signal confidence.
func (s *Scorer) correlated(members []*Observation) bool {
	strong := make(map[SourceType]struct{})
	for _, o := range members {
		if o.Signal.Confidence != nil && *o.Signal.Confidence >= s.cfg.HighSignalConfidence {
			strong[o.SourceType] = struct{}{}
		}
	}
	return len(strong) >= 2
}

func (s *Scorer) zoneBoost(p geo.Point) float64 {
	var boost float64
	for _, z := range s.cfg.Zones {
		boost = max(boost, z.boostAt(p))
	}
	return boost
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
