package transform

import (
	"fmt"
	"math"

	"datawrangler/internal/domain"
	"datawrangler/internal/values"
)

// outlierPositions returns, per target column, the positions whose value
// falls outside the bounds of the configured test. Bounds are fitted on the
// fit-scope rows only; every row is then tested against them.
func outlierPositions(ds *domain.Dataset, t domain.Transformation) (map[string][]int, error) {
	out := make(map[string][]int, len(t.TargetColumns))
	positions := fitPositions(ds, t.Params.FitScope)
	for _, name := range t.TargetColumns {
		i, err := targetColumn(ds, name)
		if err != nil {
			return nil, err
		}
		col := ds.Columns[i]
		xs := values.Floats(col.Values, positions)
		if len(xs) == 0 {
			continue
		}
		lo, hi, err := outlierBounds(t.Params, xs)
		if err != nil {
			return nil, fmt.Errorf("outliers %s: %w", name, err)
		}
		for p, v := range col.Values {
			if v == nil {
				continue
			}
			if x, ok := values.ToFloat(v); ok && (x < lo || x > hi) {
				out[name] = append(out[name], p)
			}
		}
	}
	return out, nil
}

// outlierBounds returns the inclusive range of inlying values.
func outlierBounds(p domain.Params, xs []float64) (lo, hi float64, err error) {
	switch p.Method {
	case domain.MethodIQR:
		k := p.Threshold
		if k <= 0 {
			k = 1.5
		}
		q1, q3 := values.Quartiles(xs)
		iqr := q3 - q1
		return q1 - k*iqr, q3 + k*iqr, nil
	case domain.MethodZScore:
		k := p.Threshold
		if k <= 0 {
			k = 3
		}
		mean, std := values.Mean(xs), values.StdDev(xs)
		if std == 0 || math.IsNaN(std) {
			return math.Inf(-1), math.Inf(1), nil
		}
		return mean - k*std, mean + k*std, nil
	}
	return 0, 0, fmt.Errorf("unknown outlier method %q", p.Method)
}

func applyOutliers(ds *domain.Dataset, t domain.Transformation) (*domain.Dataset, *domain.ExecutionState, error) {
	flagged, err := outlierPositions(ds, t)
	if err != nil {
		return nil, nil, err
	}
	st := &domain.ExecutionState{}

	switch t.Params.Action {
	case domain.ActionMask:
		out := ds.Derive()
		positions := fitPositions(ds, t.Params.FitScope)
		for _, name := range t.TargetColumns {
			i := out.ColumnIndex(name)
			col := out.Columns[i]
			recordFit(out, t, name, t.Params.Method, col.Values, positions)
			cs := domain.ColumnState{Column: name, OriginalDType: col.DType}
			vals := append([]any(nil), col.Values...)
			for _, p := range flagged[name] {
				cs.MaskedRows = append(cs.MaskedRows, ds.RowIDs[p])
				cs.MaskedValues = append(cs.MaskedValues, vals[p])
				vals[p] = nil
			}
			out.Columns[i] = domain.Column{Name: name, DType: col.DType, Values: vals}
			st.Columns = append(st.Columns, cs)
		}
		return out, st, nil
	case "", domain.ActionRemove:
		drop := make(map[int]bool)
		for _, ps := range flagged {
			for _, p := range ps {
				drop[p] = true
			}
		}
		out := removeRows(ds, drop, st)
		// The dropped rows are what the bounds detected, so the fit is
		// recorded over the fit-scope rows the removal kept.
		positions := fitPositions(out, t.Params.FitScope)
		for _, name := range t.TargetColumns {
			recordFit(out, t, name, t.Params.Method, out.Columns[out.ColumnIndex(name)].Values, positions)
		}
		return out, st, nil
	}
	return nil, nil, fmt.Errorf("unknown outlier action %q", t.Params.Action)
}

func reverseOutliers(ds *domain.Dataset, t domain.Transformation, st *domain.ExecutionState) (*domain.Dataset, error) {
	if t.Params.Action != domain.ActionMask {
		return nil, fmt.Errorf("removed rows cannot be restored")
	}
	out := ds.Derive()
	for _, name := range t.TargetColumns {
		i, err := targetColumn(out, name)
		if err != nil {
			return nil, err
		}
		cs, err := stateFor(st, name)
		if err != nil {
			return nil, err
		}
		positions, err := rowPositions(out, cs.MaskedRows)
		if err != nil {
			return nil, err
		}
		col := out.Columns[i]
		vals := append([]any(nil), col.Values...)
		for k, p := range positions {
			vals[p] = cs.MaskedValues[k]
		}
		out.Columns[i] = domain.Column{Name: name, DType: cs.OriginalDType, Values: vals}
	}
	return out, nil
}

func applyDropDuplicates(ds *domain.Dataset, t domain.Transformation) (*domain.Dataset, *domain.ExecutionState, error) {
	var cols []int
	if !t.WholeRow() {
		for _, name := range t.TargetColumns {
			i, err := targetColumn(ds, name)
			if err != nil {
				return nil, nil, err
			}
			cols = append(cols, i)
		}
	}
	keep := ds.DistinctPositions(cols)
	kept := make(map[int]bool, len(keep))
	for _, p := range keep {
		kept[p] = true
	}
	drop := make(map[int]bool, ds.NumRows()-len(keep))
	for p := 0; p < ds.NumRows(); p++ {
		if !kept[p] {
			drop[p] = true
		}
	}
	st := &domain.ExecutionState{}
	return removeRows(ds, drop, st), st, nil
}

// removeRows drops the given positions and records their row ids.
func removeRows(ds *domain.Dataset, drop map[int]bool, st *domain.ExecutionState) *domain.Dataset {
	keep := make([]int, 0, ds.NumRows()-len(drop))
	for p := 0; p < ds.NumRows(); p++ {
		if drop[p] {
			st.RemovedRows = append(st.RemovedRows, ds.RowIDs[p])
			continue
		}
		keep = append(keep, p)
	}
	return ds.SelectRows(keep)
}
