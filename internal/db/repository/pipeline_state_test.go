package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internaldb "datawrangler/internal/db"
	"datawrangler/internal/domain"
)

func setupStateRepo(t *testing.T) *PipelineStateRepo {
	t.Helper()
	return NewPipelineStateRepo(internaldb.OpenTestStore(t))
}

func newState(runID string, started time.Time) *domain.PipelineState {
	return &domain.PipelineState{
		RunID:       runID,
		Source:      "data/orders.csv",
		CurrentStep: domain.StepProfiling,
		StartedAt:   started,
	}
}

// advance mimics the orchestrator: clone, move one step, bump seq.
func advance(s *domain.PipelineState) (domain.PipelineStep, *domain.PipelineState) {
	from := s.CurrentStep
	next := s.Clone()
	next.CompletedSteps = append(next.CompletedSteps, from)
	next.CurrentStep = from.Next()
	next.Seq++
	return from, next
}

func TestPipelineState_SaveAndGet(t *testing.T) {
	repo := setupStateRepo(t)
	ctx := context.Background()

	s := newState("run-1", time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, repo.SaveTransition(ctx, domain.StepProfiling, s))

	from, s2 := advance(s)
	s2.Profile = &domain.DataProfile{RowCount: 3, ColumnCount: 1}
	require.NoError(t, repo.SaveTransition(ctx, from, s2))

	got, err := repo.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StepGeneration, got.CurrentStep)
	assert.Equal(t, []domain.PipelineStep{domain.StepProfiling}, got.CompletedSteps)
	require.NotNil(t, got.Profile)
	assert.Equal(t, 3, got.Profile.RowCount)
	assert.Equal(t, 1, got.Seq)
}

func TestPipelineState_HistoryIsAppendOnly(t *testing.T) {
	repo := setupStateRepo(t)
	ctx := context.Background()

	s := newState("run-h", time.Now())
	require.NoError(t, repo.SaveTransition(ctx, domain.StepProfiling, s))
	for i := 0; i < 3; i++ {
		var from domain.PipelineStep
		from, s = advance(s)
		require.NoError(t, repo.SaveTransition(ctx, from, s))
	}

	hist, err := repo.History(ctx, "run-h")
	require.NoError(t, err)
	require.Len(t, hist, 4)
	for i, h := range hist {
		assert.Equal(t, i, h.Seq)
	}
	assert.Equal(t, domain.StepValidation, hist[3].From)
	assert.Equal(t, domain.StepExecution, hist[3].To)

	// replaying a sequence number is rejected
	err = repo.SaveTransition(ctx, domain.StepValidation, s)
	var conflict *domain.ConflictError
	assert.True(t, errors.As(err, &conflict))
}

func TestPipelineState_ListAndArchive(t *testing.T) {
	repo := setupStateRepo(t)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-a", "run-b", "run-c"} {
		require.NoError(t, repo.SaveTransition(ctx, domain.StepProfiling, newState(id, base.Add(time.Duration(i)*time.Hour))))
	}

	failed := newState("run-f", base.Add(5*time.Hour))
	failed.CurrentStep = domain.StepFailed
	failed.Error = &domain.StateError{Stage: domain.StageTransformation, Message: "boom"}
	require.NoError(t, repo.SaveTransition(ctx, domain.StepProfiling, failed))

	all, err := repo.List(ctx, domain.RunFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "run-f", all[0].RunID)
	assert.Equal(t, "boom", all[0].Error)

	step := domain.StepFailed
	onlyFailed, err := repo.List(ctx, domain.RunFilter{Step: &step})
	require.NoError(t, err)
	require.Len(t, onlyFailed, 1)

	require.NoError(t, repo.Archive(ctx, "run-a"))
	active, err := repo.List(ctx, domain.RunFilter{})
	require.NoError(t, err)
	assert.Len(t, active, 3)

	withArchived, err := repo.List(ctx, domain.RunFilter{IncludeArchived: true, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, withArchived, 4)

	limited, err := repo.List(ctx, domain.RunFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestPipelineState_NotFound(t *testing.T) {
	repo := setupStateRepo(t)
	ctx := context.Background()

	var nf *domain.NotFoundError

	_, err := repo.Get(ctx, "missing")
	assert.True(t, errors.As(err, &nf))

	_, err = repo.History(ctx, "missing")
	assert.True(t, errors.As(err, &nf))

	assert.True(t, errors.As(repo.Archive(ctx, "missing"), &nf))
	assert.True(t, errors.As(repo.Delete(ctx, "missing"), &nf))
}

func TestPipelineState_DeleteCascades(t *testing.T) {
	repo := setupStateRepo(t)
	ctx := context.Background()

	s := newState("run-d", time.Now())
	require.NoError(t, repo.SaveTransition(ctx, domain.StepProfiling, s))
	require.NoError(t, repo.Delete(ctx, "run-d"))

	_, err := repo.History(ctx, "run-d")
	var nf *domain.NotFoundError
	assert.True(t, errors.As(err, &nf))
}
