package domain

// TransformationCandidate is the unit the ranking engine consumes.
type TransformationCandidate struct {
	Transformation   Transformation   `json:"transformation"`
	ValidationResult ValidationResult `json:"validation_result"`
	QualityBefore    QualityMetrics   `json:"quality_before"`
	QualityAfter     QualityMetrics   `json:"quality_after"`
	QualityDelta     QualityDelta     `json:"quality_delta"`
}

// RankedTransformation is a candidate with its final position.
type RankedTransformation struct {
	Rank           int                     `json:"rank"`
	Candidate      TransformationCandidate `json:"candidate"`
	CompositeScore float64                 `json:"composite_score"`
	Reasoning      string                  `json:"reasoning"`
}

// Ranking policy names.
const (
	PolicyCompositeScore = "composite_score"
	PolicyImprovement    = "improvement"
)

// Failed-validation dispositions.
const (
	FailedValidationExclude    = "exclude"
	FailedValidationDownweight = "downweight"
)
