package pipeline

import (
	"context"
	"fmt"
	"slices"

	"golang.org/x/sync/errgroup"

	"datawrangler/internal/domain"
	"datawrangler/internal/service/quality"
	"datawrangler/internal/service/transform"
)

func (r *run) profileStep(ctx context.Context) (mutation, error) {
	prof := r.injected
	if prof == nil {
		_, _, err := r.attempt(ctx, domain.StepProfiling, func(ctx context.Context) error {
			var err error
			prof, err = r.svc.profiler.Profile(ctx, r.original)
			return err
		})
		// Nothing downstream can run without a profile.
		if err != nil {
			return nil, err
		}
	}
	r.logger.Info("profiled dataset", "rows", prof.RowCount, "columns", prof.ColumnCount)
	return func(st *domain.PipelineState) { st.Profile = prof }, nil
}

func (r *run) generateStep(ctx context.Context) (mutation, error) {
	var ts []domain.Transformation
	_, strategy, err := r.attempt(ctx, domain.StepGeneration, func(context.Context) error {
		var err error
		ts, err = r.svc.generator.Generate(r.state.Profile)
		return err
	})
	if err != nil {
		r.svc.metrics.recovery(domain.StepGeneration, strategy)
		switch strategy {
		case domain.StrategySkip:
			return func(st *domain.PipelineState) {
				st.Transformations = nil
				st.Skipped = append(st.Skipped, domain.SkippedItem{Step: domain.StepGeneration, Reason: err.Error()})
			}, nil
		case domain.StrategyFallback:
			return func(st *domain.PipelineState) {
				st.Transformations = nil
				st.Substitutions = append(st.Substitutions, domain.Substitution{
					Step: domain.StepGeneration, Reason: "no candidates: " + err.Error(),
				})
			}, nil
		}
		return nil, err
	}
	r.logger.Info("generated candidates", "count", len(ts))
	return func(st *domain.PipelineState) { st.Transformations = ts }, nil
}

// validateStep checks every candidate plan against the profile and builds
// the dependency graph of the survivors. Candidates depending on a dropped
// candidate are dropped too. A cycle fails the run.
func (r *run) validateStep(ctx context.Context) (mutation, error) {
	var (
		valid   []domain.Transformation
		skipped []domain.SkippedItem
		substs  []domain.Substitution
	)
	for _, t := range r.state.Transformations {
		_, strategy, err := r.attempt(ctx, domain.StepValidation, func(context.Context) error {
			return transform.CheckPlan(t, r.state.Profile)
		})
		if err == nil {
			valid = append(valid, t)
			continue
		}
		r.svc.metrics.recovery(domain.StepValidation, strategy)
		switch strategy {
		case domain.StrategySkip:
			skipped = append(skipped, domain.SkippedItem{Step: domain.StepValidation, TransformationID: t.ID, Reason: err.Error()})
		case domain.StrategyFallback:
			substs = append(substs, domain.Substitution{Step: domain.StepValidation, TransformationID: t.ID, Reason: "invalid plan replaced by identity: " + err.Error()})
		default:
			return nil, err
		}
	}

	for changed := true; changed; {
		changed = false
		ids := make(map[string]bool, len(valid))
		for _, t := range valid {
			ids[t.ID] = true
		}
		valid = slices.DeleteFunc(valid, func(t domain.Transformation) bool {
			for _, dep := range t.DependsOn {
				if !ids[dep] {
					skipped = append(skipped, domain.SkippedItem{
						Step: domain.StepValidation, TransformationID: t.ID,
						Reason: fmt.Sprintf("dependency %s was dropped", dep),
					})
					changed = true
					return true
				}
			}
			return false
		})
	}

	g, err := transform.BuildGraph(valid, r.svc.cfg.Graph)
	if err != nil {
		return nil, err
	}
	r.graph = g
	r.logger.Info("validated plans", "valid", len(valid), "dropped", len(r.state.Transformations)-len(valid))

	return func(st *domain.PipelineState) {
		st.Transformations = valid
		st.Skipped = append(st.Skipped, skipped...)
		st.Substitutions = append(st.Substitutions, substs...)
	}, nil
}

// execSlot is the result of evaluating one candidate. Workers write only
// their own slot.
type execSlot struct {
	record  domain.ExecutionRecord
	output  *domain.Dataset
	skipped *domain.SkippedItem
	subst   *domain.Substitution
}

// executeStep evaluates every candidate in isolation on the original
// dataset with a bounded worker pool. Work is started in graph order and
// merged in generation order, so the persisted state does not depend on
// completion order. ABORT cancels work not yet finished; completed records
// are kept in the failed state.
func (r *run) executeStep(ctx context.Context) (mutation, error) {
	ts := r.state.Transformations
	index := make(map[string]int, len(ts))
	for i, t := range ts {
		index[t.ID] = i
	}
	slots := make([]*execSlot, len(ts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.svc.cfg.Workers)
	for _, t := range r.graph.Transformations() {
		i := index[t.ID]
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			slot, err := r.evaluate(gctx, t)
			slots[i] = slot
			return err
		})
	}
	err := g.Wait()

	var (
		records []domain.ExecutionRecord
		skipped []domain.SkippedItem
		substs  []domain.Substitution
	)
	for i, slot := range slots {
		if slot == nil {
			continue
		}
		records = append(records, slot.record)
		if slot.skipped != nil {
			skipped = append(skipped, *slot.skipped)
		}
		if slot.subst != nil {
			substs = append(substs, *slot.subst)
		}
		if slot.output != nil {
			r.setOutput(ts[i].ID, slot.output)
		}
	}
	mutate := func(st *domain.PipelineState) {
		st.Executions = records
		st.Skipped = append(st.Skipped, skipped...)
		st.Substitutions = append(st.Substitutions, substs...)
	}
	if err != nil {
		return mutate, err
	}
	r.logger.Info("executed candidates", "executed", len(records), "skipped", len(skipped))
	return mutate, nil
}

// evaluate executes one candidate under the execution policy and validates
// its output. A nil slot means the work was cancelled before it finished.
func (r *run) evaluate(ctx context.Context, t domain.Transformation) (*execSlot, error) {
	var res domain.TransformationResult
	attempts, strategy, err := r.attempt(ctx, domain.StepExecution, func(ctx context.Context) error {
		res = r.svc.executor.Execute(ctx, r.original, t)
		r.svc.metrics.execution(res)
		if !res.Success {
			return domain.ErrTransformation("%s: %s", t.ID, res.Error)
		}
		return nil
	})

	slot := &execSlot{record: domain.ExecutionRecord{
		TransformationID: t.ID,
		Success:          res.Success,
		Error:            res.Error,
		DurationMS:       res.Duration.Milliseconds(),
		Reversible:       res.Reversible,
		Attempts:         attempts,
	}}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.svc.metrics.recovery(domain.StepExecution, strategy)
		r.logger.Warn("candidate failed", "transformation", t.ID, "strategy", strategy, "error", res.Error)
		switch strategy {
		case domain.StrategySkip:
			slot.skipped = &domain.SkippedItem{Step: domain.StepExecution, TransformationID: t.ID, Reason: res.Error}
			return slot, nil
		case domain.StrategyFallback:
			slot.output = r.original
			slot.record.Substituted = true
			slot.subst = &domain.Substitution{Step: domain.StepExecution, TransformationID: t.ID, Reason: res.Error}
		default:
			return slot, domain.ErrOrchestration("execution of %s aborted", t.ID).Wrap(err)
		}
	} else {
		slot.output = res.Output
	}

	vr := r.svc.validator.Validate(r.original, slot.output, t)
	slot.record.Validation = &vr
	if !vr.Passed && r.svc.cfg.Failure.For(domain.StepValidation).Strategy == domain.StrategyAbort {
		code := ""
		if errs := vr.Errors(); len(errs) > 0 {
			code = errs[0].Code
		}
		r.svc.metrics.recovery(domain.StepValidation, domain.StrategyAbort)
		return slot, domain.ErrValidation("output of %s failed validation", t.ID).WithCode(code)
	}
	return slot, nil
}

// scoreStep scores the original dataset and every candidate output. After
// scores use a fresh profile of the output.
func (r *run) scoreStep(ctx context.Context) (mutation, error) {
	prof := r.state.Profile
	var before domain.QualityMetrics
	if _, _, err := r.attempt(ctx, domain.StepScoring, func(context.Context) error {
		var err error
		before, err = r.svc.scorer.Score(r.original, prof)
		return err
	}); err != nil {
		return nil, err
	}

	execs := r.state.Executions
	cands := make([]*domain.TransformationCandidate, len(execs))
	skips := make([]*domain.SkippedItem, len(execs))
	substs := make([]*domain.Substitution, len(execs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.svc.cfg.Workers)
	for i, rec := range execs {
		if !rec.Success && !rec.Substituted {
			continue
		}
		g.Go(func() error {
			t, ok := r.transformation(rec.TransformationID)
			if !ok {
				return domain.ErrOrchestration("unknown transformation %s", rec.TransformationID)
			}
			out, err := r.output(gctx, rec)
			if err != nil {
				return err
			}

			var after domain.QualityMetrics
			_, strategy, err := r.attempt(gctx, domain.StepScoring, func(ctx context.Context) error {
				outProf, err := r.svc.profiler.Profile(ctx, out)
				if err != nil {
					return err
				}
				after, err = r.svc.scorer.Score(out, outProf)
				return err
			})
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				r.svc.metrics.recovery(domain.StepScoring, strategy)
				switch strategy {
				case domain.StrategySkip:
					skips[i] = &domain.SkippedItem{Step: domain.StepScoring, TransformationID: t.ID, Reason: err.Error()}
					return nil
				case domain.StrategyFallback:
					after = before
					substs[i] = &domain.Substitution{Step: domain.StepScoring, TransformationID: t.ID, Reason: err.Error()}
				default:
					return err
				}
			}

			c := domain.TransformationCandidate{
				Transformation: t,
				QualityBefore:  before,
				QualityAfter:   after,
				QualityDelta:   quality.Compare(before, after),
			}
			if rec.Validation != nil {
				c.ValidationResult = *rec.Validation
			}
			cands[i] = &c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var (
		out      []domain.TransformationCandidate
		skipped  []domain.SkippedItem
		replaced []domain.Substitution
	)
	for i := range execs {
		if cands[i] != nil {
			out = append(out, *cands[i])
		}
		if skips[i] != nil {
			skipped = append(skipped, *skips[i])
		}
		if substs[i] != nil {
			replaced = append(replaced, *substs[i])
		}
	}
	r.logger.Info("scored candidates", "count", len(out), "overall_before", before.Overall)
	return func(st *domain.PipelineState) {
		st.Candidates = out
		st.Skipped = append(st.Skipped, skipped...)
		st.Substitutions = append(st.Substitutions, replaced...)
	}, nil
}

// rankStep ranks the scored candidates and produces the final dataset.
func (r *run) rankStep(ctx context.Context) (mutation, error) {
	cands := r.state.Candidates
	var ranked []domain.RankedTransformation
	_, strategy, err := r.attempt(ctx, domain.StepRanking, func(context.Context) error {
		var err error
		ranked, err = r.svc.ranker.Rank(cands)
		return err
	})

	var (
		skipped []domain.SkippedItem
		substs  []domain.Substitution
	)
	if err != nil {
		r.svc.metrics.recovery(domain.StepRanking, strategy)
		switch strategy {
		case domain.StrategySkip:
			skipped = append(skipped, domain.SkippedItem{Step: domain.StepRanking, Reason: err.Error()})
		case domain.StrategyFallback:
			substs = append(substs, domain.Substitution{Step: domain.StepRanking, Reason: "unranked: " + err.Error()})
		default:
			return nil, err
		}
		ranked = nil
	} else {
		for _, c := range cands {
			if r.svc.ranker.Excluded(c) {
				skipped = append(skipped, domain.SkippedItem{
					Step: domain.StepRanking, TransformationID: c.Transformation.ID, Reason: "failed validation",
				})
			}
		}
	}

	if err := r.finalize(ctx, ranked); err != nil {
		return nil, err
	}

	return func(st *domain.PipelineState) {
		st.RankedTransformations = ranked
		st.Skipped = append(st.Skipped, skipped...)
		st.Substitutions = append(st.Substitutions, substs...)
	}, nil
}

// finalize produces the final dataset from the ranked candidates. In
// compose mode the non-conflicting ranked candidates are applied as one
// chain; when the chain does not validate the best candidate is applied
// instead.
func (r *run) finalize(ctx context.Context, ranked []domain.RankedTransformation) error {
	r.report = Report{ApplyMode: r.svc.cfg.Ranking.Apply}
	if len(ranked) == 0 {
		r.final = r.original
		return nil
	}
	top := ranked[0].Candidate
	delta := top.QualityDelta
	r.report.TopDelta = &delta

	if r.svc.cfg.Ranking.Apply == "compose" {
		ok, err := r.compose(ctx, ranked)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		r.logger.Warn("composed chain failed validation, applying best candidate")
		r.report.ComposeFallback = true
	}

	rec, _ := r.record(top.Transformation.ID)
	out, err := r.output(ctx, rec)
	if err != nil {
		return err
	}
	r.final = out
	if !rec.Substituted {
		r.report.Applied = []domain.Transformation{top.Transformation}
	}
	vr := top.ValidationResult
	r.report.FinalValidation = &vr
	return nil
}

// compose applies the ranked candidates that do not conflict with a better
// ranked one. Two candidates conflict when they have the same type and
// overlapping target columns.
func (r *run) compose(ctx context.Context, ranked []domain.RankedTransformation) (bool, error) {
	var chosen []domain.Transformation
	for _, rt := range ranked {
		t := rt.Candidate.Transformation
		if rec, _ := r.record(t.ID); rec.Substituted {
			continue
		}
		if slices.ContainsFunc(chosen, func(c domain.Transformation) bool { return conflicts(c, t) }) {
			continue
		}
		chosen = append(chosen, t)
	}
	ids := make(map[string]bool, len(chosen))
	for _, t := range chosen {
		ids[t.ID] = true
	}
	for i := range chosen {
		chosen[i].DependsOn = slices.DeleteFunc(slices.Clone(chosen[i].DependsOn), func(d string) bool { return !ids[d] })
	}

	g, err := transform.BuildGraph(chosen, r.svc.cfg.Graph)
	if err != nil {
		return false, err
	}
	chain := r.svc.executor.ExecuteChain(ctx, r.original, g)
	applied := chain.Applied()
	vr := r.svc.validator.Validate(r.original, chain.Output, applied...)
	r.report.FinalValidation = &vr
	if !vr.Passed || len(applied) != g.Len() {
		r.logger.Debug("composed chain rejected",
			"applied", len(applied), "planned", g.Len(), "issues", len(vr.Issues))
		return false, nil
	}
	r.final = chain.Output
	r.report.Applied = applied
	return true, nil
}

func conflicts(a, b domain.Transformation) bool {
	if a.Type != b.Type {
		return false
	}
	if a.WholeRow() || b.WholeRow() {
		return true
	}
	return slices.ContainsFunc(a.TargetColumns, b.Targets)
}
