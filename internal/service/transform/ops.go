package transform

import (
	"fmt"
	"slices"

	"datawrangler/internal/domain"
)

// applyFunc executes a transformation against ds and returns the new
// dataset plus the state needed to invert it.
type applyFunc func(ds *domain.Dataset, t domain.Transformation) (*domain.Dataset, *domain.ExecutionState, error)

// reverseFunc inverts a transformation given its recorded state.
type reverseFunc func(ds *domain.Dataset, t domain.Transformation, st *domain.ExecutionState) (*domain.Dataset, error)

type op struct {
	apply   applyFunc
	reverse reverseFunc
}

// ops is the dispatch table of the closed transformation set.
var ops = map[domain.TransformationType]op{
	domain.FillMissing:       {apply: applyFill, reverse: reverseFill},
	domain.Normalize:         {apply: applyNormalize, reverse: reverseNormalize},
	domain.EncodeCategorical: {apply: applyEncode, reverse: reverseEncode},
	domain.RemoveOutliers:    {apply: applyOutliers, reverse: reverseOutliers},
	domain.DropDuplicates:    {apply: applyDropDuplicates},
	domain.CastType:          {apply: applyCast, reverse: reverseCast},
}

// fitPositions returns the row positions a statistic may be fitted on.
func fitPositions(ds *domain.Dataset, scope string) []int {
	if scope == domain.FitScopeAll {
		all := make([]int, ds.NumRows())
		for i := range all {
			all[i] = i
		}
		return all
	}
	return ds.TrainingPositions()
}

// recordFit appends the provenance of a fitted statistic to ds. Only rows
// holding a value contribute to the statistic.
func recordFit(ds *domain.Dataset, t domain.Transformation, column, statistic string, vals []any, positions []int) {
	ids := make([]int64, 0, len(positions))
	for _, p := range positions {
		if vals[p] != nil {
			ids = append(ids, ds.RowIDs[p])
		}
	}
	ds.Fits = append(ds.Fits, domain.FitRecord{
		TransformationID: t.ID,
		Column:           column,
		Statistic:        statistic,
		RowIDs:           ids,
	})
}

// targetColumn looks up a target column or fails.
func targetColumn(ds *domain.Dataset, name string) (int, error) {
	i := ds.ColumnIndex(name)
	if i < 0 {
		return -1, fmt.Errorf("column %q not found", name)
	}
	return i, nil
}

// stateFor returns the recorded state of column or fails.
func stateFor(st *domain.ExecutionState, column string) (*domain.ColumnState, error) {
	cs, ok := st.Column(column)
	if !ok {
		return nil, fmt.Errorf("no recorded state for column %q", column)
	}
	return cs, nil
}

// replaceColumn returns a derived dataset with column i replaced.
func replaceColumn(ds *domain.Dataset, i int, c domain.Column) *domain.Dataset {
	out := ds.Derive()
	out.Columns[i] = c
	return out
}

// spliceColumns replaces column i of ds with cols.
func spliceColumns(ds *domain.Dataset, i int, cols []domain.Column) *domain.Dataset {
	out := ds.Derive()
	out.Columns = slices.Concat(ds.Columns[:i:i], cols, ds.Columns[i+1:])
	return out
}

// rowPositions maps row ids to positions in ds, failing on unknown ids.
func rowPositions(ds *domain.Dataset, ids []int64) ([]int, error) {
	pos := ds.Positions()
	out := make([]int, len(ids))
	for i, id := range ids {
		p, ok := pos[id]
		if !ok {
			return nil, fmt.Errorf("row %d no longer present", id)
		}
		out[i] = p
	}
	return out, nil
}
