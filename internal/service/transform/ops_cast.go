package transform

import (
	"fmt"

	"datawrangler/internal/domain"
	"datawrangler/internal/values"
)

func applyCast(ds *domain.Dataset, t domain.Transformation) (*domain.Dataset, *domain.ExecutionState, error) {
	target := t.Params.TargetType
	if !target.Valid() {
		return nil, nil, fmt.Errorf("invalid target dtype %q", target)
	}
	out := ds.Derive()
	st := &domain.ExecutionState{}
	for _, name := range t.TargetColumns {
		i, err := targetColumn(out, name)
		if err != nil {
			return nil, nil, err
		}
		col := out.Columns[i]
		cs := domain.ColumnState{Column: name, OriginalDType: col.DType, Lossless: true}
		vals := make([]any, len(col.Values))
		for p, v := range col.Values {
			if v == nil {
				continue
			}
			c, err := values.Cast(v, target)
			if err != nil {
				if !t.Params.Coerce {
					return nil, nil, fmt.Errorf("cast %s row %d: %w", name, ds.RowIDs[p], err)
				}
				cs.Lossless = false
				continue
			}
			vals[p] = c
			if cs.Lossless {
				back, err := values.Cast(c, col.DType)
				cs.Lossless = err == nil && domain.ValuesEqual(back, v)
			}
		}
		out.Columns[i] = domain.Column{Name: name, DType: target, Values: vals}
		st.Columns = append(st.Columns, cs)
	}
	return out, st, nil
}

func reverseCast(ds *domain.Dataset, t domain.Transformation, st *domain.ExecutionState) (*domain.Dataset, error) {
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
		if !cs.Lossless {
			return nil, fmt.Errorf("cast of %s was lossy", name)
		}
		col := out.Columns[i]
		vals := make([]any, len(col.Values))
		for p, v := range col.Values {
			if v == nil {
				continue
			}
			if vals[p], err = values.Cast(v, cs.OriginalDType); err != nil {
				return nil, err
			}
		}
		out.Columns[i] = domain.Column{Name: name, DType: cs.OriginalDType, Values: vals}
	}
	return out, nil
}
