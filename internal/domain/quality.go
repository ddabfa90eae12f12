package domain

import "math"

// Quality metric names.
const (
	MetricCompleteness = "completeness"
	MetricConsistency  = "consistency"
	MetricValidity     = "validity"
	MetricUniqueness   = "uniqueness"
)

// MetricNames lists the quality dimensions in reporting order.
var MetricNames = []string{MetricCompleteness, MetricConsistency, MetricValidity, MetricUniqueness}

// WeightTolerance bounds how far quality weights may sum away from 1.
const WeightTolerance = 1e-6

// Weights are the per-dimension weights of the overall quality score.
type Weights struct {
	Completeness float64 `json:"completeness" yaml:"completeness" validate:"gte=0,lte=1"`
	Consistency  float64 `json:"consistency" yaml:"consistency" validate:"gte=0,lte=1"`
	Validity     float64 `json:"validity" yaml:"validity" validate:"gte=0,lte=1"`
	Uniqueness   float64 `json:"uniqueness" yaml:"uniqueness" validate:"gte=0,lte=1"`
}

// DefaultWeights excludes uniqueness from the overall score.
func DefaultWeights() Weights {
	return Weights{Completeness: 0.3, Consistency: 0.3, Validity: 0.4}
}

// Check verifies the weights sum to 1 within WeightTolerance.
func (w Weights) Check() error {
	sum := w.Completeness + w.Consistency + w.Validity + w.Uniqueness
	if math.Abs(sum-1) > WeightTolerance {
		return ErrConfig("quality weights must sum to 1, got %g", sum)
	}
	return nil
}

// QualityMetrics are the four quality scores and their weighted overall.
// SampleFraction is the fraction of rows the scores were computed on.
type QualityMetrics struct {
	Completeness   float64 `json:"completeness"`
	Consistency    float64 `json:"consistency"`
	Validity       float64 `json:"validity"`
	Uniqueness     float64 `json:"uniqueness"`
	Overall        float64 `json:"overall"`
	SampleFraction float64 `json:"sample_fraction"`
}

// Get returns the named metric.
func (m QualityMetrics) Get(name string) float64 {
	switch name {
	case MetricCompleteness:
		return m.Completeness
	case MetricConsistency:
		return m.Consistency
	case MetricValidity:
		return m.Validity
	case MetricUniqueness:
		return m.Uniqueness
	}
	return 0
}

// QualityImprovement holds per-dimension differences (after minus before).
type QualityImprovement struct {
	Completeness float64 `json:"completeness"`
	Consistency  float64 `json:"consistency"`
	Validity     float64 `json:"validity"`
	Uniqueness   float64 `json:"uniqueness"`
}

// Get returns the named improvement.
func (i QualityImprovement) Get(name string) float64 {
	switch name {
	case MetricCompleteness:
		return i.Completeness
	case MetricConsistency:
		return i.Consistency
	case MetricValidity:
		return i.Validity
	case MetricUniqueness:
		return i.Uniqueness
	}
	return 0
}

// QualityDelta compares quality before and after a transformation.
type QualityDelta struct {
	Before         QualityMetrics     `json:"before"`
	After          QualityMetrics     `json:"after"`
	Improvement    QualityImprovement `json:"improvement"`
	CompositeDelta float64            `json:"composite_delta"`
}
