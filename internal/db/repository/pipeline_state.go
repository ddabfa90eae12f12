package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"datawrangler/internal/db"
	"datawrangler/internal/domain"
)

// Compile-time check.
var _ domain.PipelineStateRepository = (*PipelineStateRepo)(nil)

// PipelineStateRepo stores run snapshots in pipeline_runs and the
// transition log in pipeline_transitions.
type PipelineStateRepo struct {
	write *sql.DB
	read  *sql.DB
	now   func() time.Time
}

// NewPipelineStateRepo creates a PipelineStateRepo over a state store.
func NewPipelineStateRepo(store *db.Store) *PipelineStateRepo {
	return &PipelineStateRepo{write: store.Write, read: store.Read, now: time.Now}
}

// SaveTransition replaces the run snapshot and appends the transition.
func (r *PipelineStateRepo) SaveTransition(ctx context.Context, from domain.PipelineStep, state *domain.PipelineState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	now := formatTime(r.now())
	var errMsg string
	if state.Error != nil {
		errMsg = state.Error.Message
	}

	tx, err := r.write.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO pipeline_runs (run_id, source, current_step, seq, state_json, error, started_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id) DO UPDATE SET
			current_step = excluded.current_step,
			seq          = excluded.seq,
			state_json   = excluded.state_json,
			error        = excluded.error,
			updated_at   = excluded.updated_at`,
		state.RunID, state.Source, string(state.CurrentStep), state.Seq, string(data),
		nullString(errMsg), formatTime(state.StartedAt), now)
	if err != nil {
		return fmt.Errorf("upsert run %s: %w", state.RunID, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO pipeline_transitions (run_id, seq, from_step, to_step, state_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		state.RunID, state.Seq, string(from), string(state.CurrentStep), string(data), now)
	if err != nil {
		return mapDBError(err, "transition %d of run %s already recorded", state.Seq, state.RunID)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Get returns the current snapshot of a run.
func (r *PipelineStateRepo) Get(ctx context.Context, runID string) (*domain.PipelineState, error) {
	var data string
	err := r.read.QueryRowContext(ctx,
		`SELECT state_json FROM pipeline_runs WHERE run_id = ?`, runID).Scan(&data)
	if err != nil {
		return nil, mapDBError(err, "pipeline run %s not found", runID)
	}
	var state domain.PipelineState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("decode state of run %s: %w", runID, err)
	}
	return &state, nil
}

// List returns run summaries, most recently started first.
func (r *PipelineStateRepo) List(ctx context.Context, filter domain.RunFilter) ([]domain.RunSummary, error) {
	var (
		where []string
		args  []any
	)
	if !filter.IncludeArchived {
		where = append(where, "archived = 0")
	}
	if filter.Step != nil {
		where = append(where, "current_step = ?")
		args = append(args, string(*filter.Step))
	}
	query := `SELECT run_id, source, current_step, archived, COALESCE(error, ''), started_at, updated_at FROM pipeline_runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, run_id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := r.read.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.RunSummary
	for rows.Next() {
		var (
			s                  domain.RunSummary
			step               string
			archived           int64
			started, updatedAt string
		)
		if err := rows.Scan(&s.RunID, &s.Source, &step, &archived, &s.Error, &started, &updatedAt); err != nil {
			return nil, err
		}
		s.CurrentStep = domain.PipelineStep(step)
		s.Archived = archived != 0
		s.StartedAt = parseTime(started)
		s.UpdatedAt = parseTime(updatedAt)
		out = append(out, s)
	}
	return out, rows.Err()
}

// History returns the transition log of a run in order.
func (r *PipelineStateRepo) History(ctx context.Context, runID string) ([]domain.StateTransition, error) {
	rows, err := r.read.QueryContext(ctx, `
		SELECT seq, from_step, to_step, created_at
		FROM pipeline_transitions WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("history of run %s: %w", runID, err)
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.StateTransition
	for rows.Next() {
		var (
			t            domain.StateTransition
			from, to, ts string
		)
		if err := rows.Scan(&t.Seq, &from, &to, &ts); err != nil {
			return nil, err
		}
		t.RunID = runID
		t.From = domain.PipelineStep(from)
		t.To = domain.PipelineStep(to)
		t.CreatedAt = parseTime(ts)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, domain.ErrNotFound("pipeline run %s not found", runID)
	}
	return out, nil
}

// Archive marks a run as archived. Archived runs are hidden from default
// listings but keep their snapshot and log.
func (r *PipelineStateRepo) Archive(ctx context.Context, runID string) error {
	return r.execOne(ctx, runID,
		`UPDATE pipeline_runs SET archived = 1, updated_at = ? WHERE run_id = ?`,
		formatTime(r.now()), runID)
}

// Delete removes a run and its transition log.
func (r *PipelineStateRepo) Delete(ctx context.Context, runID string) error {
	return r.execOne(ctx, runID, `DELETE FROM pipeline_runs WHERE run_id = ?`, runID)
}

func (r *PipelineStateRepo) execOne(ctx context.Context, runID, query string, args ...any) error {
	res, err := r.write.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound("pipeline run %s not found", runID)
	}
	return nil
}
