// Package quality scores datasets on completeness, consistency, validity,
// and uniqueness.
package quality

import (
	"log/slog"
	"math"
	"math/rand/v2"
	"slices"
	"strings"
	"time"

	"datawrangler/internal/config"
	"datawrangler/internal/domain"
	"datawrangler/internal/service/profile"
	"datawrangler/internal/values"
)

// Scorer computes QualityMetrics.
type Scorer struct {
	cfg    config.ScoringConfig
	seed   uint64
	logger *slog.Logger
}

// New creates a Scorer. The weights must sum to 1.
func New(cfg config.ScoringConfig, seed uint64, logger *slog.Logger) (*Scorer, error) {
	if err := cfg.Weights.Check(); err != nil {
		return nil, err
	}
	return &Scorer{cfg: cfg, seed: seed, logger: logger}, nil
}

// Score measures ds, interpreting columns by the inferred types in prof.
// Datasets above the sample threshold are scored on a seeded row sample.
func (s *Scorer) Score(ds *domain.Dataset, prof *domain.DataProfile) (domain.QualityMetrics, error) {
	if ds == nil {
		return domain.QualityMetrics{}, domain.ErrScoring("dataset is nil")
	}
	sample, fraction := s.sample(ds)

	m := domain.QualityMetrics{
		Completeness:   clamp(completeness(sample)),
		Consistency:    clamp(s.consistency(sample, prof)),
		Validity:       clamp(s.validity(sample, prof)),
		Uniqueness:     clamp(uniqueness(sample)),
		SampleFraction: fraction,
	}
	w := s.cfg.Weights
	m.Overall = clamp(w.Completeness*m.Completeness + w.Consistency*m.Consistency +
		w.Validity*m.Validity + w.Uniqueness*m.Uniqueness)
	return m, nil
}

// Compare returns the per-metric and overall change from before to after.
func Compare(before, after domain.QualityMetrics) domain.QualityDelta {
	return domain.QualityDelta{
		Before: before,
		After:  after,
		Improvement: domain.QualityImprovement{
			Completeness: after.Completeness - before.Completeness,
			Consistency:  after.Consistency - before.Consistency,
			Validity:     after.Validity - before.Validity,
			Uniqueness:   after.Uniqueness - before.Uniqueness,
		},
		CompositeDelta: after.Overall - before.Overall,
	}
}

// sample returns the rows to score and the fraction they represent. The
// sample depends only on the seed and the row count.
func (s *Scorer) sample(ds *domain.Dataset) (*domain.Dataset, float64) {
	n := ds.NumRows()
	if n <= s.cfg.SampleThreshold || s.cfg.SampleSize >= n {
		return ds, 1
	}
	rng := rand.New(rand.NewPCG(s.seed, s.seed^0x9e3779b97f4a7c15))
	positions := rng.Perm(n)[:s.cfg.SampleSize]
	slices.Sort(positions)
	s.logger.Debug("scoring on sample", "rows", n, "sample", len(positions))
	return ds.SelectRows(positions), float64(len(positions)) / float64(n)
}

func completeness(ds *domain.Dataset) float64 {
	cells := ds.NumRows() * ds.NumColumns()
	if cells == 0 {
		return 1
	}
	return 1 - float64(ds.NullCount())/float64(cells)
}

func uniqueness(ds *domain.Dataset) float64 {
	n := ds.NumRows()
	if n == 0 {
		return 1
	}
	return float64(len(ds.DistinctPositions(nil))) / float64(n)
}

// inferredType returns the profiled type of col, inferring it when the
// profile does not describe the column.
func inferredType(col domain.Column, prof *domain.DataProfile) (domain.InferredType, *domain.ColumnProfile) {
	if cp, ok := prof.Column(col.Name); ok {
		return cp.InferredType, cp
	}
	nonNull := make([]any, 0, len(col.Values))
	for _, v := range col.Values {
		if v != nil {
			nonNull = append(nonNull, v)
		}
	}
	return profile.InferType(col.DType, nonNull), nil
}

func (s *Scorer) consistency(ds *domain.Dataset, prof *domain.DataProfile) float64 {
	var total, ok int
	for _, col := range ds.Columns {
		typ, _ := inferredType(col, prof)
		for _, v := range col.Values {
			if v == nil {
				continue
			}
			total++
			if values.Conforms(v, typ) {
				ok++
			}
		}
	}
	if total == 0 {
		return 1
	}
	return float64(ok) / float64(total)
}

func (s *Scorer) validity(ds *domain.Dataset, prof *domain.DataProfile) float64 {
	var total, ok int
	for _, col := range ds.Columns {
		typ, cp := inferredType(col, prof)
		valid := s.rule(col.Name, typ, cp)
		for _, v := range col.Values {
			if v == nil {
				continue
			}
			total++
			if valid(v) {
				ok++
			}
		}
	}
	if total == 0 {
		return 1
	}
	return float64(ok) / float64(total)
}

// rule returns the validity predicate for a column.
func (s *Scorer) rule(name string, typ domain.InferredType, cp *domain.ColumnProfile) func(any) bool {
	switch typ {
	case domain.TypeNumeric:
		lo, hi := math.Inf(-1), math.Inf(1)
		if r, ok := s.cfg.ValidRanges[name]; ok {
			lo, hi = r.Min, r.Max
		} else if cp != nil && cp.Q1 != nil && cp.Q3 != nil {
			iqr := *cp.Q3 - *cp.Q1
			lo, hi = *cp.Q1-s.cfg.FenceMultiplier*iqr, *cp.Q3+s.cfg.FenceMultiplier*iqr
		} else if cp != nil && cp.Min != nil && cp.Max != nil {
			lo, hi = *cp.Min, *cp.Max
		}
		return func(v any) bool {
			x, ok := values.ToFloat(v)
			return ok && !math.IsNaN(x) && x >= lo && x <= hi
		}
	case domain.TypeDatetime:
		return func(v any) bool {
			switch x := v.(type) {
			case time.Time:
				return !x.IsZero()
			case string:
				t, ok := values.ParseTime(x)
				return ok && !t.IsZero()
			}
			return false
		}
	case domain.TypeText, domain.TypeCategorical:
		return func(v any) bool {
			if str, ok := v.(string); ok {
				return strings.TrimSpace(str) != ""
			}
			return true
		}
	}
	return func(any) bool { return true }
}

func clamp(x float64) float64 {
	if math.IsNaN(x) {
		return 0
	}
	return math.Max(0, math.Min(1, x))
}
