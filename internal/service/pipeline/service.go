// Package pipeline orchestrates wrangling runs: it drives the profiling,
// generation, validation, execution, scoring and ranking steps as a
// persisted state machine and resumes interrupted runs.
package pipeline

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"datawrangler/internal/config"
	"datawrangler/internal/domain"
	"datawrangler/internal/service/transform"
)

// DatasetLoader reads a dataset from a source string.
type DatasetLoader interface {
	Load(ctx context.Context, source string) (*domain.Dataset, error)
}

// Profiler profiles a dataset.
type Profiler interface {
	Profile(ctx context.Context, ds *domain.Dataset) (*domain.DataProfile, error)
}

// CandidateGenerator proposes transformations from a profile.
type CandidateGenerator interface {
	Generate(profile *domain.DataProfile) ([]domain.Transformation, error)
}

// TransformationExecutor applies transformations.
type TransformationExecutor interface {
	Execute(ctx context.Context, ds *domain.Dataset, t domain.Transformation) domain.TransformationResult
	ExecuteChain(ctx context.Context, ds *domain.Dataset, g *transform.Graph) transform.ChainResult
}

// OutputValidator checks a transformed dataset against its original.
type OutputValidator interface {
	Validate(original, transformed *domain.Dataset, scope ...domain.Transformation) domain.ValidationResult
}

// QualityScorer measures dataset quality.
type QualityScorer interface {
	Score(ds *domain.Dataset, prof *domain.DataProfile) (domain.QualityMetrics, error)
}

// CandidateRanker orders evaluated candidates.
type CandidateRanker interface {
	Rank(candidates []domain.TransformationCandidate) ([]domain.RankedTransformation, error)
	Excluded(c domain.TransformationCandidate) bool
}

// Deps holds the collaborators of a Service.
type Deps struct {
	Config    *config.Config
	Loader    DatasetLoader
	Profiler  Profiler
	Generator CandidateGenerator
	Executor  TransformationExecutor
	Validator OutputValidator
	Scorer    QualityScorer
	Ranker    CandidateRanker
	States    domain.PipelineStateRepository
	Metrics   *Metrics
	Logger    *slog.Logger
}

// Service is the orchestrator. It is the only writer of PipelineState.
type Service struct {
	cfg       *config.Config
	loader    DatasetLoader
	profiler  Profiler
	generator CandidateGenerator
	executor  TransformationExecutor
	validator OutputValidator
	scorer    QualityScorer
	ranker    CandidateRanker
	states    domain.PipelineStateRepository
	metrics   *Metrics
	logger    *slog.Logger
}

// NewService creates an orchestrator.
func NewService(d Deps) *Service {
	return &Service{
		cfg:       d.Config,
		loader:    d.Loader,
		profiler:  d.Profiler,
		generator: d.Generator,
		executor:  d.Executor,
		validator: d.Validator,
		scorer:    d.Scorer,
		ranker:    d.Ranker,
		states:    d.States,
		metrics:   d.Metrics,
		logger:    d.Logger,
	}
}

// RunRequest starts a run. Dataset takes precedence over Source; Source is
// still recorded so the run can be recovered. Only the source is persisted,
// so a run started from a Dataset with an empty Source cannot be recovered:
// Recover fails with an orchestration error coded "no_source". A non-nil
// Profile skips profiling of the input.
type RunRequest struct {
	Source  string
	Dataset *domain.Dataset
	Profile *domain.DataProfile
}

// Report summarises a finished run.
type Report struct {
	Ranked []domain.RankedTransformation `json:"ranked"`
	// TopDelta is the quality change of the top-ranked candidate.
	TopDelta        *domain.QualityDelta     `json:"top_delta,omitempty"`
	Applied         []domain.Transformation  `json:"applied"`
	ApplyMode       string                   `json:"apply_mode"`
	ComposeFallback bool                     `json:"compose_fallback,omitempty"`
	FinalValidation *domain.ValidationResult `json:"final_validation,omitempty"`
	Substitutions   []domain.Substitution    `json:"substitutions,omitempty"`
	Skipped         []domain.SkippedItem     `json:"skipped,omitempty"`
}

// PipelineResult is the outcome of Run or Recover.
type PipelineResult struct {
	RunID   string
	State   *domain.PipelineState
	Ranked  []domain.RankedTransformation
	Dataset *domain.Dataset
	Report  Report
}

// Run executes a new run to completion. When the run fails the returned
// result still carries the failed state alongside the error.
func (s *Service) Run(ctx context.Context, req RunRequest) (*PipelineResult, error) {
	runID := domain.NewID()
	now := time.Now().UTC()
	state := &domain.PipelineState{
		RunID:       runID,
		Source:      req.Source,
		CurrentStep: domain.StepProfiling,
		StartedAt:   now,
		UpdatedAt:   now,
	}
	r := s.newRun(state)
	r.injected = req.Profile
	r.logger.Info("run started", "source", req.Source)
	if req.Source == "" {
		r.logger.Warn("run has no source and cannot be recovered")
	}

	if err := r.start(ctx); err != nil {
		return nil, err
	}

	ds, err := s.prepare(ctx, req.Source, req.Dataset)
	if err != nil {
		return r.result(), r.fail(ctx, domain.StepProfiling, err, nil)
	}
	r.original = ds
	return r.finish(ctx)
}

// RecoverRun loads the persisted state of runID and resumes it.
func (s *Service) RecoverRun(ctx context.Context, runID string) (*PipelineResult, error) {
	state, err := s.states.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	return s.Recover(ctx, state)
}

// Recover resumes a run from the step after its last completed one. Inputs
// are reloaded from the recorded source and intermediate datasets are
// re-derived by re-executing the recorded transformations. Recovering a
// finished run rebuilds its result without new transitions.
func (s *Service) Recover(ctx context.Context, state *domain.PipelineState) (*PipelineResult, error) {
	if state == nil {
		return nil, domain.ErrOrchestration("no state to recover")
	}
	if state.Source == "" {
		return nil, domain.ErrOrchestration("run %s has no source to reload", state.RunID).WithCode("no_source")
	}
	r := s.newRun(state.Clone())

	ds, err := s.prepare(ctx, state.Source, nil)
	if err != nil {
		return nil, err
	}
	r.original = ds

	if state.CurrentStep == domain.StepDone {
		if err := r.finalize(ctx, state.RankedTransformations); err != nil {
			return nil, err
		}
		return r.result(), nil
	}

	resume := resumeStep(state)
	r.logger.Info("recovering run", "from", state.CurrentStep, "resume", resume)
	s.metrics.recovery(resume, "resume")

	if err := r.commit(ctx, resume, func(st *domain.PipelineState) {
		st.Error = nil
		resetFrom(st, resume)
	}); err != nil {
		return nil, err
	}
	if stepIndex(resume) > stepIndex(domain.StepValidation) {
		if err := r.restoreGraph(); err != nil {
			return r.result(), r.fail(ctx, resume, err, nil)
		}
	}
	return r.finish(ctx)
}

// ProfileOnly loads and profiles a dataset without starting a run.
func (s *Service) ProfileOnly(ctx context.Context, req RunRequest) (*domain.DataProfile, error) {
	ds, err := s.prepare(ctx, req.Source, req.Dataset)
	if err != nil {
		return nil, err
	}
	return s.profiler.Profile(ctx, ds)
}

// GenerateOnly profiles a dataset and returns the candidates generated for
// it without executing them.
func (s *Service) GenerateOnly(ctx context.Context, req RunRequest) (*domain.DataProfile, []domain.Transformation, error) {
	prof := req.Profile
	if prof == nil {
		var err error
		if prof, err = s.ProfileOnly(ctx, req); err != nil {
			return nil, nil, err
		}
	}
	ts, err := s.generator.Generate(prof)
	if err != nil {
		return nil, nil, err
	}
	return prof, ts, nil
}

// RankOnly ranks already evaluated candidates.
func (s *Service) RankOnly(candidates []domain.TransformationCandidate) ([]domain.RankedTransformation, error) {
	return s.ranker.Rank(candidates)
}

// === Run state ===

// GetRun returns the persisted state of a run.
func (s *Service) GetRun(ctx context.Context, runID string) (*domain.PipelineState, error) {
	return s.states.Get(ctx, runID)
}

// ListRuns lists persisted runs.
func (s *Service) ListRuns(ctx context.Context, filter domain.RunFilter) ([]domain.RunSummary, error) {
	return s.states.List(ctx, filter)
}

// History returns the transition log of a run.
func (s *Service) History(ctx context.Context, runID string) ([]domain.StateTransition, error) {
	return s.states.History(ctx, runID)
}

// ArchiveRun hides a run from default listings.
func (s *Service) ArchiveRun(ctx context.Context, runID string) error {
	if err := s.states.Archive(ctx, runID); err != nil {
		return err
	}
	s.logger.Info("run archived", "run_id", runID)
	return nil
}

// DeleteRun removes a run and its history.
func (s *Service) DeleteRun(ctx context.Context, runID string) error {
	if err := s.states.Delete(ctx, runID); err != nil {
		return err
	}
	s.logger.Info("run deleted", "run_id", runID)
	return nil
}

// prepare loads the input dataset when none was given and marks the
// configured holdout partition.
func (s *Service) prepare(ctx context.Context, source string, ds *domain.Dataset) (*domain.Dataset, error) {
	if ds == nil {
		if source == "" {
			return nil, domain.ErrOrchestration("run needs a dataset or a source")
		}
		if s.loader == nil {
			return nil, domain.ErrOrchestration("no loader configured for source %q", source)
		}
		var err error
		if ds, err = s.loader.Load(ctx, source); err != nil {
			return nil, domain.ErrProfiling("load %s", source).Wrap(err)
		}
	}
	h := s.cfg.Validation.Holdout
	if h.Column == "" {
		return ds, nil
	}
	marked, err := ds.MarkHoldout(h.Column, h.Value)
	if err != nil {
		return nil, domain.ErrValidation("mark holdout").Wrap(err)
	}
	return marked, nil
}

func stepIndex(step domain.PipelineStep) int {
	return slices.Index(domain.WorkSteps, step)
}

// resumeStep returns the first work step the state has not completed.
func resumeStep(state *domain.PipelineState) domain.PipelineStep {
	for _, step := range domain.WorkSteps {
		if !state.Completed(step) {
			return step
		}
		if step == domain.StepProfiling && state.Profile == nil {
			return step
		}
	}
	return domain.StepRanking
}

// resetFrom drops everything produced by step and the steps after it, so a
// resumed step starts from the same inputs as the first attempt.
func resetFrom(st *domain.PipelineState, step domain.PipelineStep) {
	idx := stepIndex(step)
	keep := func(s domain.PipelineStep) bool { return stepIndex(s) < idx }

	st.CompletedSteps = slices.DeleteFunc(st.CompletedSteps, func(s domain.PipelineStep) bool { return !keep(s) })
	st.Skipped = slices.DeleteFunc(st.Skipped, func(s domain.SkippedItem) bool { return !keep(s.Step) })
	st.Substitutions = slices.DeleteFunc(st.Substitutions, func(s domain.Substitution) bool { return !keep(s.Step) })
	if idx <= stepIndex(domain.StepProfiling) {
		st.Profile = nil
	}
	if idx <= stepIndex(domain.StepGeneration) {
		st.Transformations = nil
	}
	if idx <= stepIndex(domain.StepExecution) {
		st.Executions = nil
	}
	if idx <= stepIndex(domain.StepScoring) {
		st.Candidates = nil
	}
	st.RankedTransformations = nil
}
