package domain

import "time"

// PipelineStep is a state of the pipeline state machine.
type PipelineStep string

// Pipeline steps in execution order, followed by the terminal states.
const (
	StepProfiling  PipelineStep = "profiling"
	StepGeneration PipelineStep = "generation"
	StepValidation PipelineStep = "validation"
	StepExecution  PipelineStep = "execution"
	StepScoring    PipelineStep = "scoring"
	StepRanking    PipelineStep = "ranking"
	StepDone       PipelineStep = "done"
	StepFailed     PipelineStep = "failed"
)

// WorkSteps lists the non-terminal steps in order.
var WorkSteps = []PipelineStep{
	StepProfiling, StepGeneration, StepValidation, StepExecution, StepScoring, StepRanking,
}

// Terminal reports whether s ends a run.
func (s PipelineStep) Terminal() bool {
	return s == StepDone || s == StepFailed
}

// Next returns the step that follows s, or StepDone after ranking.
func (s PipelineStep) Next() PipelineStep {
	for i, w := range WorkSteps {
		if w == s && i+1 < len(WorkSteps) {
			return WorkSteps[i+1]
		}
	}
	return StepDone
}

// ValidStep reports whether s names a known step.
func ValidStep(s string) bool {
	switch PipelineStep(s) {
	case StepProfiling, StepGeneration, StepValidation, StepExecution,
		StepScoring, StepRanking, StepDone, StepFailed:
		return true
	}
	return false
}

// Failure strategies applied per step.
const (
	StrategySkip     = "skip"
	StrategyRetry    = "retry"
	StrategyAbort    = "abort"
	StrategyFallback = "fallback"
)

// StateError is the error preserved in a failed PipelineState.
type StateError struct {
	Stage   Stage        `json:"stage"`
	Code    string       `json:"code,omitempty"`
	Message string       `json:"message"`
	Step    PipelineStep `json:"step"`
}

// Substitution records an identity result used in place of a failed one.
type Substitution struct {
	Step             PipelineStep `json:"step"`
	TransformationID string       `json:"transformation_id,omitempty"`
	Reason           string       `json:"reason"`
}

// SkippedItem records a candidate dropped by the SKIP strategy or demotion.
type SkippedItem struct {
	Step             PipelineStep `json:"step"`
	TransformationID string       `json:"transformation_id"`
	Reason           string       `json:"reason"`
}

// PipelineState is the persisted snapshot of a run. The orchestrator is its
// only writer and replaces it wholesale on every transition.
type PipelineState struct {
	RunID                 string                    `json:"run_id"`
	Source                string                    `json:"source"`
	Seq                   int                       `json:"seq"`
	CurrentStep           PipelineStep              `json:"current_step"`
	CompletedSteps        []PipelineStep            `json:"completed_steps"`
	Profile               *DataProfile              `json:"profile,omitempty"`
	Transformations       []Transformation          `json:"transformations,omitempty"`
	Executions            []ExecutionRecord         `json:"executions,omitempty"`
	Candidates            []TransformationCandidate `json:"candidates"`
	RankedTransformations []RankedTransformation    `json:"ranked_transformations"`
	Substitutions         []Substitution            `json:"substitutions,omitempty"`
	Skipped               []SkippedItem             `json:"skipped,omitempty"`
	Error                 *StateError               `json:"error,omitempty"`
	StartedAt             time.Time                 `json:"started_at"`
	UpdatedAt             time.Time                 `json:"updated_at"`
}

// Completed reports whether step is in the completed list.
func (s *PipelineState) Completed(step PipelineStep) bool {
	for _, c := range s.CompletedSteps {
		if c == step {
			return true
		}
	}
	return false
}

// Clone returns a copy whose slices can be appended to independently.
func (s *PipelineState) Clone() *PipelineState {
	c := *s
	c.CompletedSteps = append([]PipelineStep(nil), s.CompletedSteps...)
	c.Transformations = append([]Transformation(nil), s.Transformations...)
	c.Executions = append([]ExecutionRecord(nil), s.Executions...)
	c.Candidates = append([]TransformationCandidate(nil), s.Candidates...)
	c.RankedTransformations = append([]RankedTransformation(nil), s.RankedTransformations...)
	c.Substitutions = append([]Substitution(nil), s.Substitutions...)
	c.Skipped = append([]SkippedItem(nil), s.Skipped...)
	if s.Error != nil {
		e := *s.Error
		c.Error = &e
	}
	return &c
}

// StateTransition is one entry of a run's append-only transition log.
type StateTransition struct {
	RunID     string       `json:"run_id"`
	Seq       int          `json:"seq"`
	From      PipelineStep `json:"from"`
	To        PipelineStep `json:"to"`
	CreatedAt time.Time    `json:"created_at"`
}

// RunSummary is a listing entry for persisted runs.
type RunSummary struct {
	RunID       string       `json:"run_id"`
	Source      string       `json:"source"`
	CurrentStep PipelineStep `json:"current_step"`
	Archived    bool         `json:"archived"`
	Error       string       `json:"error,omitempty"`
	StartedAt   time.Time    `json:"started_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// RunFilter narrows run listings.
type RunFilter struct {
	Step            *PipelineStep
	IncludeArchived bool
	Limit           int
}
