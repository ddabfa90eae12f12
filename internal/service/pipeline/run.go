package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"datawrangler/internal/domain"
	"datawrangler/internal/service/transform"
)

// run is the working set of one pipeline run. Only state is persisted;
// everything else is re-derived on recovery.
type run struct {
	svc    *Service
	logger *slog.Logger

	mu    sync.Mutex
	state *domain.PipelineState

	injected *domain.DataProfile
	original *domain.Dataset
	graph    *transform.Graph

	outMu   sync.Mutex
	outputs map[string]*domain.Dataset

	final  *domain.Dataset
	report Report
}

// mutation edits the next state before it is persisted.
type mutation func(*domain.PipelineState)

type stepFunc func(r *run, ctx context.Context) (mutation, error)

var steps = map[domain.PipelineStep]stepFunc{
	domain.StepProfiling:  (*run).profileStep,
	domain.StepGeneration: (*run).generateStep,
	domain.StepValidation: (*run).validateStep,
	domain.StepExecution:  (*run).executeStep,
	domain.StepScoring:    (*run).scoreStep,
	domain.StepRanking:    (*run).rankStep,
}

func (s *Service) newRun(state *domain.PipelineState) *run {
	return &run{
		svc:     s,
		logger:  s.logger.With("run_id", state.RunID),
		state:   state,
		outputs: make(map[string]*domain.Dataset),
	}
}

// start persists the initial snapshot of a new run.
func (r *run) start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.svc.states.SaveTransition(ctx, "", r.state); err != nil {
		return domain.ErrOrchestration("persist initial state of run %s", r.state.RunID).Wrap(err)
	}
	return nil
}

// commit moves the run to step to. The next state is built from a copy of
// the current one and swapped in only after it has been persisted.
func (r *run) commit(ctx context.Context, to domain.PipelineStep, mutate mutation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	from := r.state.CurrentStep
	next := r.state.Clone()
	if mutate != nil {
		mutate(next)
	}
	if to != domain.StepFailed && to != from && !from.Terminal() {
		next.CompletedSteps = append(next.CompletedSteps, from)
	}
	next.CurrentStep = to
	next.Seq++
	next.UpdatedAt = time.Now().UTC()

	if err := r.svc.states.SaveTransition(ctx, from, next); err != nil {
		return domain.ErrOrchestration("persist transition %s -> %s", from, to).Wrap(err)
	}
	r.state = next
	r.svc.metrics.transition(from, to)
	r.logger.Debug("state transition", "from", from, "to", to, "seq", next.Seq)
	return nil
}

// fail persists the failed state and returns err, joined with any
// persistence error.
func (r *run) fail(ctx context.Context, step domain.PipelineStep, err error, mutate mutation) error {
	se := &domain.StateError{Stage: domain.StageOrchestration, Message: err.Error(), Step: step}
	var de *domain.Error
	if errors.As(err, &de) {
		se.Stage = de.Stage
		se.Code = de.Code
	}
	r.logger.Error("run failed", "step", step, "error", err)
	r.svc.metrics.run(domain.StepFailed)

	perr := r.commit(context.WithoutCancel(ctx), domain.StepFailed, func(st *domain.PipelineState) {
		if mutate != nil {
			mutate(st)
		}
		st.Error = se
	})
	if perr != nil {
		return errors.Join(err, perr)
	}
	return err
}

// finish drives the run from its current step to a terminal state.
func (r *run) finish(ctx context.Context) (*PipelineResult, error) {
	for !r.state.CurrentStep.Terminal() {
		step := r.state.CurrentStep
		start := time.Now()
		mutate, err := steps[step](r, ctx)
		r.svc.metrics.observeStep(step, time.Since(start))
		if err != nil {
			return r.result(), r.fail(ctx, step, err, mutate)
		}
		if err := r.commit(ctx, step.Next(), mutate); err != nil {
			return r.result(), err
		}
	}
	r.svc.metrics.run(r.state.CurrentStep)
	r.logger.Info("run finished",
		"ranked", len(r.state.RankedTransformations),
		"applied", len(r.report.Applied),
		"skipped", len(r.state.Skipped),
	)
	return r.result(), nil
}

func (r *run) result() *PipelineResult {
	r.mu.Lock()
	st := r.state
	r.mu.Unlock()

	rep := r.report
	rep.Ranked = st.RankedTransformations
	rep.Substitutions = st.Substitutions
	rep.Skipped = st.Skipped
	return &PipelineResult{
		RunID:   st.RunID,
		State:   st,
		Ranked:  st.RankedTransformations,
		Dataset: r.final,
		Report:  rep,
	}
}

// attempt runs fn under the failure policy of step. On success it returns
// the number of attempts. Otherwise it also returns the last error and the
// strategy to apply to it: the step's own strategy, or its fallback once
// retries are exhausted. Fatal errors and cancellation always abort.
func (r *run) attempt(ctx context.Context, step domain.PipelineStep, fn func(context.Context) error) (int, string, error) {
	policy := r.svc.cfg.Failure.For(step)
	wait := policy.Backoff
	for n := 1; ; n++ {
		err := fn(ctx)
		if err == nil {
			return n, "", nil
		}
		if domain.IsFatal(err) || ctx.Err() != nil {
			return n, domain.StrategyAbort, err
		}
		if policy.Strategy != domain.StrategyRetry {
			return n, policy.Strategy, err
		}
		if n > policy.MaxRetries {
			if policy.Fallback == "" {
				return n, domain.StrategySkip, err
			}
			return n, policy.Fallback, err
		}

		r.svc.metrics.recovery(step, domain.StrategyRetry)
		r.logger.Warn("retrying", "step", step, "attempt", n+1, "backoff", wait, "error", err)
		if serr := sleep(ctx, wait); serr != nil {
			return n, domain.StrategyAbort, serr
		}
		wait = time.Duration(float64(wait) * max(policy.BackoffFactor, 1))
		if policy.MaxBackoff > 0 && wait > policy.MaxBackoff {
			wait = policy.MaxBackoff
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// setOutput caches the dataset produced by a candidate.
func (r *run) setOutput(id string, ds *domain.Dataset) {
	r.outMu.Lock()
	defer r.outMu.Unlock()
	r.outputs[id] = ds
}

// output returns the dataset produced by the candidate of rec, re-executing
// it when the run was recovered and the output is not cached.
func (r *run) output(ctx context.Context, rec domain.ExecutionRecord) (*domain.Dataset, error) {
	r.outMu.Lock()
	ds, ok := r.outputs[rec.TransformationID]
	r.outMu.Unlock()
	if ok {
		return ds, nil
	}
	if rec.Substituted {
		r.setOutput(rec.TransformationID, r.original)
		return r.original, nil
	}

	t, ok := r.transformation(rec.TransformationID)
	if !ok {
		return nil, domain.ErrOrchestration("unknown transformation %s", rec.TransformationID)
	}
	res := r.svc.executor.Execute(ctx, r.original, t)
	if !res.Success {
		return nil, domain.ErrTransformation("re-derive %s: %s", t.ID, res.Error)
	}
	r.logger.Debug("re-derived candidate output", "transformation", t.ID)
	r.setOutput(t.ID, res.Output)
	return res.Output, nil
}

func (r *run) transformation(id string) (domain.Transformation, bool) {
	for _, t := range r.state.Transformations {
		if t.ID == id {
			return t, true
		}
	}
	return domain.Transformation{}, false
}

func (r *run) record(id string) (domain.ExecutionRecord, bool) {
	for _, rec := range r.state.Executions {
		if rec.TransformationID == id {
			return rec, true
		}
	}
	return domain.ExecutionRecord{}, false
}

// restoreGraph rebuilds the dependency graph of a recovered run.
func (r *run) restoreGraph() error {
	g, err := transform.BuildGraph(r.state.Transformations, r.svc.cfg.Graph)
	if err != nil {
		return err
	}
	r.graph = g
	return nil
}
