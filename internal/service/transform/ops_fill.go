package transform

import (
	"fmt"
	"math"

	"datawrangler/internal/domain"
	"datawrangler/internal/values"
)

func applyFill(ds *domain.Dataset, t domain.Transformation) (*domain.Dataset, *domain.ExecutionState, error) {
	out := ds.Derive()
	st := &domain.ExecutionState{}
	for _, name := range t.TargetColumns {
		i, err := targetColumn(out, name)
		if err != nil {
			return nil, nil, err
		}
		col, cs, err := fillColumn(out, t, out.Columns[i])
		if err != nil {
			return nil, nil, fmt.Errorf("fill %s: %w", name, err)
		}
		out.Columns[i] = col
		st.Columns = append(st.Columns, cs)
	}
	return out, st, nil
}

func fillColumn(ds *domain.Dataset, t domain.Transformation, col domain.Column) (domain.Column, domain.ColumnState, error) {
	cs := domain.ColumnState{Column: col.Name, OriginalDType: col.DType}
	var nulls []int
	for p, v := range col.Values {
		if v == nil {
			nulls = append(nulls, p)
		}
	}
	if len(nulls) == 0 {
		return col, cs, nil
	}

	if t.Params.Strategy == domain.StrategyForwardFill {
		vals := make([]any, len(col.Values))
		var last any
		for p, v := range col.Values {
			switch {
			case v != nil:
				last = v
				vals[p] = v
			case last != nil:
				vals[p] = last
				cs.FilledRows = append(cs.FilledRows, ds.RowIDs[p])
			}
		}
		return domain.Column{Name: col.Name, DType: col.DType, Values: vals}, cs, nil
	}

	fill, err := fillValue(ds, t, col)
	if err != nil {
		return col, cs, err
	}

	dtype := col.DType
	if f, ok := fill.(float64); ok {
		switch {
		case col.DType == domain.DTypeInt64 && f == math.Trunc(f):
			fill = int64(f)
		case col.DType == domain.DTypeInt64:
			dtype = domain.DTypeFloat64
		case col.DType == domain.DTypeString:
			fill = domain.FormatValue(f)
		}
	}

	vals := make([]any, len(col.Values))
	for p, v := range col.Values {
		if v != nil && dtype != col.DType {
			cv, err := values.Cast(v, dtype)
			if err != nil {
				return col, cs, fmt.Errorf("promote row %d to %s: %w", ds.RowIDs[p], dtype, err)
			}
			v = cv
		}
		vals[p] = v
	}
	for _, p := range nulls {
		vals[p] = fill
		cs.FilledRows = append(cs.FilledRows, ds.RowIDs[p])
	}
	cs.FillValue = fill
	return domain.Column{Name: col.Name, DType: dtype, Values: vals}, cs, nil
}

// fillValue computes the replacement for nulls. Fitted strategies record
// which rows they were computed from.
func fillValue(ds *domain.Dataset, t domain.Transformation, col domain.Column) (any, error) {
	positions := fitPositions(ds, t.Params.FitScope)
	switch t.Params.Strategy {
	case domain.StrategyMean, domain.StrategyMedian:
		xs := values.Floats(col.Values, positions)
		if len(xs) == 0 {
			return nil, fmt.Errorf("no numeric values to compute %s", t.Params.Strategy)
		}
		recordFit(ds, t, col.Name, t.Params.Strategy, col.Values, positions)
		if t.Params.Strategy == domain.StrategyMean {
			return values.Mean(xs), nil
		}
		return values.Median(xs), nil
	case domain.StrategyMode:
		fitted := make([]any, len(positions))
		for i, p := range positions {
			fitted[i] = col.Values[p]
		}
		m, ok := values.Mode(fitted)
		if !ok {
			return nil, fmt.Errorf("no values to compute mode")
		}
		recordFit(ds, t, col.Name, t.Params.Strategy, col.Values, positions)
		return m, nil
	case domain.StrategyConstant:
		if t.Params.FillValue == nil {
			return nil, fmt.Errorf("constant strategy requires fill_value")
		}
		v, err := values.Cast(t.Params.FillValue, col.DType)
		if err != nil {
			return nil, err
		}
		return v, nil
	}
	return nil, fmt.Errorf("unknown fill strategy %q", t.Params.Strategy)
}

func reverseFill(ds *domain.Dataset, t domain.Transformation, st *domain.ExecutionState) (*domain.Dataset, error) {
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
		positions, err := rowPositions(out, cs.FilledRows)
		if err != nil {
			return nil, err
		}
		filled := make(map[int]bool, len(positions))
		for _, p := range positions {
			filled[p] = true
		}
		col := out.Columns[i]
		vals := make([]any, len(col.Values))
		for p, v := range col.Values {
			if filled[p] || v == nil {
				continue
			}
			if col.DType != cs.OriginalDType {
				if v, err = values.Cast(v, cs.OriginalDType); err != nil {
					return nil, err
				}
			}
			vals[p] = v
		}
		out.Columns[i] = domain.Column{Name: name, DType: cs.OriginalDType, Values: vals}
	}
	return out, nil
}
