// Package testutil provides shared mock implementations of domain interfaces
// for use in tests across the codebase. This follows the Go convention of a
// shared test utility package (like net/http/httptest).
package testutil

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"datawrangler/internal/domain"
)

// === Pipeline State Repository Mock ===

// MockStateRepo implements domain.PipelineStateRepository. Without Fn
// overrides it keeps runs in memory, round-tripping states through JSON like
// the SQLite repository does.
type MockStateRepo struct {
	SaveTransitionFn func(ctx context.Context, from domain.PipelineStep, state *domain.PipelineState) error
	GetFn            func(ctx context.Context, runID string) (*domain.PipelineState, error)

	mu          sync.Mutex
	states      map[string][]byte
	archived    map[string]bool
	Transitions []domain.StateTransition // collected transitions for assertions
}

// SaveTransition implements the interface method for testing.
func (m *MockStateRepo) SaveTransition(ctx context.Context, from domain.PipelineStep, state *domain.PipelineState) error {
	if m.SaveTransitionFn != nil {
		if err := m.SaveTransitionFn(ctx, from, state); err != nil {
			return err
		}
	}
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.states == nil {
		m.states = make(map[string][]byte)
		m.archived = make(map[string]bool)
	}
	m.states[state.RunID] = data
	m.Transitions = append(m.Transitions, domain.StateTransition{
		RunID: state.RunID, Seq: state.Seq, From: from, To: state.CurrentStep, CreatedAt: state.UpdatedAt,
	})
	return nil
}

// Get implements the interface method for testing.
func (m *MockStateRepo) Get(ctx context.Context, runID string) (*domain.PipelineState, error) {
	if m.GetFn != nil {
		return m.GetFn(ctx, runID)
	}
	m.mu.Lock()
	data, ok := m.states[runID]
	m.mu.Unlock()
	if !ok {
		return nil, domain.ErrNotFound("pipeline run %s not found", runID)
	}
	var st domain.PipelineState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// List implements the interface method for testing.
func (m *MockStateRepo) List(ctx context.Context, filter domain.RunFilter) ([]domain.RunSummary, error) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.states))
	for id := range m.states {
		if filter.IncludeArchived || !m.archived[id] {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()
	sort.Strings(ids)

	var out []domain.RunSummary
	for _, id := range ids {
		st, err := m.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if filter.Step != nil && st.CurrentStep != *filter.Step {
			continue
		}
		out = append(out, domain.RunSummary{
			RunID: st.RunID, Source: st.Source, CurrentStep: st.CurrentStep,
			StartedAt: st.StartedAt, UpdatedAt: st.UpdatedAt,
		})
	}
	return out, nil
}

// History implements the interface method for testing.
func (m *MockStateRepo) History(_ context.Context, runID string) ([]domain.StateTransition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.StateTransition
	for _, t := range m.Transitions {
		if t.RunID == runID {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil, domain.ErrNotFound("pipeline run %s not found", runID)
	}
	return out, nil
}

// Archive implements the interface method for testing.
func (m *MockStateRepo) Archive(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.states[runID]; !ok {
		return domain.ErrNotFound("pipeline run %s not found", runID)
	}
	m.archived[runID] = true
	return nil
}

// Delete implements the interface method for testing.
func (m *MockStateRepo) Delete(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.states[runID]; !ok {
		return domain.ErrNotFound("pipeline run %s not found", runID)
	}
	delete(m.states, runID)
	return nil
}

// Steps returns the target steps of the collected transitions of runID.
func (m *MockStateRepo) Steps(runID string) []domain.PipelineStep {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PipelineStep
	for _, t := range m.Transitions {
		if t.RunID == runID {
			out = append(out, t.To)
		}
	}
	return out
}

// === Loader Mock ===

// MockLoader loads datasets by source.
type MockLoader struct {
	LoadFn func(ctx context.Context, source string) (*domain.Dataset, error)
	Calls  []string
}

// Load implements the interface method for testing.
func (m *MockLoader) Load(ctx context.Context, source string) (*domain.Dataset, error) {
	m.Calls = append(m.Calls, source)
	if m.LoadFn != nil {
		return m.LoadFn(ctx, source)
	}
	return nil, domain.ErrNotFound("source %s not found", source)
}

// === Generator Mock ===

// MockGenerator returns fixed candidates.
type MockGenerator struct {
	GenerateFn func(profile *domain.DataProfile) ([]domain.Transformation, error)
}

// Generate implements the interface method for testing.
func (m *MockGenerator) Generate(profile *domain.DataProfile) ([]domain.Transformation, error) {
	if m.GenerateFn != nil {
		return m.GenerateFn(profile)
	}
	return nil, nil
}
