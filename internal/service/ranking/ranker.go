// Package ranking orders evaluated candidates under a configured policy.
package ranking

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"datawrangler/internal/config"
	"datawrangler/internal/domain"
)

// noChange is the smallest metric change reported in reasoning.
const noChange = 1e-9

// policy scores one candidate. ok=false excludes it from the ranking.
type policy func(c domain.TransformationCandidate) (score float64, ok bool)

// Ranker ranks TransformationCandidates.
type Ranker struct {
	cfg    config.RankingConfig
	logger *slog.Logger
}

// New creates a Ranker.
func New(cfg config.RankingConfig, logger *slog.Logger) *Ranker {
	return &Ranker{cfg: cfg, logger: logger}
}

func (r *Ranker) policy() (policy, error) {
	switch r.cfg.Policy {
	case domain.PolicyCompositeScore:
		return func(c domain.TransformationCandidate) (float64, bool) {
			return c.QualityAfter.Overall, c.ValidationResult.Passed
		}, nil
	case domain.PolicyImprovement:
		return func(c domain.TransformationCandidate) (float64, bool) {
			s := c.QualityDelta.CompositeDelta
			if c.ValidationResult.Passed {
				return s, true
			}
			if r.cfg.FailedValidationPolicy != domain.FailedValidationDownweight {
				return 0, false
			}
			return s - (1-r.cfg.DownweightFactor)*math.Abs(s), true
		}, nil
	}
	return nil, domain.ErrRanking("unknown ranking policy %q", r.cfg.Policy)
}

// Excluded reports whether c is left out of the ranking entirely.
func (r *Ranker) Excluded(c domain.TransformationCandidate) bool {
	p, err := r.policy()
	if err != nil {
		return true
	}
	_, ok := p(c)
	return !ok
}

// Rank orders candidates by descending score, breaking ties by ascending
// transformation id, and assigns ranks 1..N. With TopK set only the first
// TopK are returned. The result never depends on the input order.
func (r *Ranker) Rank(candidates []domain.TransformationCandidate) ([]domain.RankedTransformation, error) {
	p, err := r.policy()
	if err != nil {
		return nil, err
	}

	ranked := make([]domain.RankedTransformation, 0, len(candidates))
	for _, c := range candidates {
		score, ok := p(c)
		if !ok {
			r.logger.Debug("candidate excluded", "transformation", c.Transformation.ID)
			continue
		}
		ranked = append(ranked, domain.RankedTransformation{
			Candidate:      c,
			CompositeScore: score,
			Reasoning:      r.reasoning(c),
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.CompositeScore != b.CompositeScore {
			return a.CompositeScore > b.CompositeScore
		}
		return a.Candidate.Transformation.ID < b.Candidate.Transformation.ID
	})
	if r.cfg.TopK > 0 && len(ranked) > r.cfg.TopK {
		ranked = ranked[:r.cfg.TopK]
	}
	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	return ranked, nil
}

// reasoning names the metric that moved the most.
func (r *Ranker) reasoning(c domain.TransformationCandidate) string {
	var parts []string
	if r.cfg.Policy == domain.PolicyCompositeScore {
		parts = append(parts, fmt.Sprintf("overall quality %.3f", c.QualityAfter.Overall))
	}

	best, delta := "", 0.0
	for _, name := range domain.MetricNames {
		d := c.QualityDelta.Improvement.Get(name)
		if math.Abs(d) > math.Abs(delta) {
			best, delta = name, d
		}
	}
	switch {
	case math.Abs(delta) < noChange:
		parts = append(parts, "no quality change")
	case delta > 0:
		parts = append(parts, fmt.Sprintf("largest %s improvement: %+.2f", best, delta))
	default:
		parts = append(parts, fmt.Sprintf("largest %s change: %+.2f", best, delta))
	}

	if !c.ValidationResult.Passed {
		codes := make([]string, 0, len(c.ValidationResult.Issues))
		for _, i := range c.ValidationResult.Errors() {
			codes = append(codes, i.Code)
		}
		parts = append(parts, fmt.Sprintf("downweighted: failed validation (%s)", strings.Join(codes, ", ")))
	}
	return strings.Join(parts, "; ")
}
