package domain

import "context"

// PipelineStateRepository persists run state as a current snapshot plus an
// append-only log of transitions.
type PipelineStateRepository interface {
	// SaveTransition appends a transition from the given step and replaces
	// the run's snapshot with state in one transaction.
	SaveTransition(ctx context.Context, from PipelineStep, state *PipelineState) error
	Get(ctx context.Context, runID string) (*PipelineState, error)
	List(ctx context.Context, filter RunFilter) ([]RunSummary, error)
	History(ctx context.Context, runID string) ([]StateTransition, error)
	Archive(ctx context.Context, runID string) error
	Delete(ctx context.Context, runID string) error
}
