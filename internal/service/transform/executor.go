package transform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"datawrangler/internal/config"
	"datawrangler/internal/domain"
)

// Executor applies transformations to datasets. Execution is a pure function
// of the input dataset and the transformation parameters; the executor only
// adds a timeout and a per-type circuit breaker around it.
type Executor struct {
	cfg    config.ExecutionConfig
	logger *slog.Logger

	mu       sync.Mutex
	breakers map[domain.TransformationType]*gobreaker.CircuitBreaker
}

// NewExecutor creates an Executor.
func NewExecutor(cfg config.ExecutionConfig, logger *slog.Logger) *Executor {
	return &Executor{
		cfg:      cfg,
		logger:   logger,
		breakers: make(map[domain.TransformationType]*gobreaker.CircuitBreaker),
	}
}

type outcome struct {
	out *domain.Dataset
	st  *domain.ExecutionState
	err error
}

// breaker returns the circuit breaker guarding transformations of type t.
// Only timeouts and cancellations count as breaker failures.
func (e *Executor) breaker(t domain.TransformationType) *gobreaker.CircuitBreaker {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cb, ok := e.breakers[t]; ok {
		return cb
	}
	threshold := e.cfg.BreakerFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        string(t),
		MaxRequests: 1,
		Timeout:     e.cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return threshold > 0 && counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			e.logger.Warn("execution breaker state changed", "type", name, "from", from.String(), "to", to.String())
		},
	})
	e.breakers[t] = cb
	return cb
}

// Execute applies t to ds. Failures, timeouts, and panics are reported in
// the result; Execute never panics and never returns a partial dataset.
func (e *Executor) Execute(ctx context.Context, ds *domain.Dataset, t domain.Transformation) domain.TransformationResult {
	start := time.Now()
	res := domain.TransformationResult{Transformation: t}
	fail := func(msg string) domain.TransformationResult {
		res.Error = msg
		res.Duration = time.Since(start)
		e.logger.Debug("transformation failed", "transformation", t.ID, "error", msg)
		return res
	}

	o, ok := ops[t.Type]
	if !ok {
		return fail(fmt.Sprintf("unknown transformation type %q", t.Type))
	}
	if ds == nil {
		return fail("no input dataset")
	}

	v, err := e.breaker(t.Type).Execute(func() (interface{}, error) {
		return e.runWithTimeout(ctx, ds, t, o.apply)
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return fail(fmt.Sprintf("circuit breaker open for %s", t.Type))
	case errors.Is(err, context.DeadlineExceeded):
		res.TimedOut = true
		return fail(fmt.Sprintf("timed out after %s", e.cfg.Timeout))
	case err != nil:
		return fail(err.Error())
	}

	out := v.(outcome)
	if out.err != nil {
		return fail(out.err.Error())
	}
	res.Success = true
	res.Output = out.out
	res.State = out.st
	res.Reversible = Reversible(t, out.st)
	res.Duration = time.Since(start)
	e.logger.Debug("transformation applied",
		"transformation", t.ID,
		"rows_in", ds.NumRows(),
		"rows_out", out.out.NumRows(),
		"reversible", res.Reversible,
		"duration", res.Duration,
	)
	return res
}

// runWithTimeout runs apply in its own goroutine. The returned error is set
// only for timeouts and cancellation; data errors travel in the outcome.
func (e *Executor) runWithTimeout(ctx context.Context, ds *domain.Dataset, t domain.Transformation, apply applyFunc) (outcome, error) {
	if err := ctx.Err(); err != nil {
		return outcome{}, err
	}
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		out, st, err := apply(ds, t)
		done <- outcome{out: out, st: st, err: err}
	}()

	select {
	case o := <-done:
		return o, nil
	case <-ctx.Done():
		return outcome{}, ctx.Err()
	}
}

// Reverse inverts a successful result, returning a dataset equal to the
// result's input. It fails with domain.ErrNotReversible when the
// transformation discarded information.
func (e *Executor) Reverse(ctx context.Context, transformed *domain.Dataset, res domain.TransformationResult) (*domain.Dataset, error) {
	t := res.Transformation
	if err := ctx.Err(); err != nil {
		return nil, domain.ErrTransformation("reverse %s", t.ID).Wrap(err)
	}
	if !res.Success {
		return nil, domain.ErrTransformation("cannot reverse failed transformation %s", t.ID)
	}
	if reason := Reason(t, res.State); reason != "" {
		return nil, &domain.NotReversibleError{TransformationID: t.ID, Reason: reason}
	}
	o := ops[t.Type]
	if o.reverse == nil {
		return nil, &domain.NotReversibleError{TransformationID: t.ID, Reason: "no inverse defined"}
	}
	out, err := o.reverse(transformed, t, res.State)
	if err != nil {
		return nil, domain.ErrTransformation("reverse %s", t.ID).Wrap(err)
	}
	out.Fits = slices.DeleteFunc(out.Fits, func(f domain.FitRecord) bool { return f.TransformationID == t.ID })
	return out, nil
}

// ChainResult is the outcome of applying a graph of transformations.
type ChainResult struct {
	Output  *domain.Dataset
	Results []domain.TransformationResult
	// Skipped lists transformations not run because a dependency failed.
	Skipped []string
}

// Applied returns the successfully applied transformations in order.
func (c ChainResult) Applied() []domain.Transformation {
	var out []domain.Transformation
	for _, r := range c.Results {
		if r.Success {
			out = append(out, r.Transformation)
		}
	}
	return out
}

// ExecuteChain applies every transformation of g in topological order,
// feeding each output into the next. Dependents of a failed transformation
// are skipped.
func (e *Executor) ExecuteChain(ctx context.Context, ds *domain.Dataset, g *Graph) ChainResult {
	res := ChainResult{Output: ds}
	failed := make(map[string]bool)
	for _, t := range g.Transformations() {
		if slices.ContainsFunc(g.Dependencies(t.ID), func(dep string) bool { return failed[dep] }) {
			failed[t.ID] = true
			res.Skipped = append(res.Skipped, t.ID)
			continue
		}
		r := e.Execute(ctx, res.Output, t)
		res.Results = append(res.Results, r)
		if !r.Success {
			failed[t.ID] = true
			continue
		}
		res.Output = r.Output
	}
	return res
}

// ReverseChain undoes the successful results of a chain, last first.
func (e *Executor) ReverseChain(ctx context.Context, c ChainResult) (*domain.Dataset, error) {
	cur := c.Output
	for i := len(c.Results) - 1; i >= 0; i-- {
		r := c.Results[i]
		if !r.Success {
			continue
		}
		var err error
		if cur, err = e.Reverse(ctx, cur, r); err != nil {
			return nil, err
		}
	}
	return cur, nil
}
