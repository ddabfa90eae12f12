package transform

import (
	"fmt"

	"datawrangler/internal/domain"
	"datawrangler/internal/values"
)

func applyEncode(ds *domain.Dataset, t domain.Transformation) (*domain.Dataset, *domain.ExecutionState, error) {
	out := ds.Derive()
	st := &domain.ExecutionState{}
	positions := fitPositions(ds, t.Params.FitScope)
	for _, name := range t.TargetColumns {
		i, err := targetColumn(out, name)
		if err != nil {
			return nil, nil, err
		}
		col := out.Columns[i]
		categories := fitCategories(col.Values, positions)
		recordFit(out, t, name, "categories", col.Values, positions)
		codes := make(map[string]int64, len(categories))
		for c, v := range categories {
			codes[domain.ValueKey(v)] = int64(c)
		}
		cs := domain.ColumnState{Column: name, OriginalDType: col.DType, Categories: categories}

		switch t.Params.Method {
		case "", domain.MethodLabel:
			vals := make([]any, len(col.Values))
			for p, v := range col.Values {
				if v != nil {
					vals[p] = codes[domain.ValueKey(v)]
				}
			}
			out = replaceColumn(out, i, domain.Column{Name: name, DType: domain.DTypeInt64, Values: vals})
		case domain.MethodOneHot:
			if len(categories) == 0 {
				return nil, nil, fmt.Errorf("one-hot encode %s: column has no values", name)
			}
			cols := make([]domain.Column, len(categories))
			for c, cat := range categories {
				oh := name + "_" + domain.FormatValue(cat)
				if out.ColumnIndex(oh) >= 0 {
					return nil, nil, fmt.Errorf("one-hot column %q already exists", oh)
				}
				cols[c] = domain.Column{Name: oh, DType: domain.DTypeInt64, Values: make([]any, len(col.Values))}
				cs.OneHotColumns = append(cs.OneHotColumns, oh)
			}
			for p, v := range col.Values {
				if v == nil {
					continue
				}
				hot := codes[domain.ValueKey(v)]
				for c := range cols {
					if int64(c) == hot {
						cols[c].Values[p] = int64(1)
					} else {
						cols[c].Values[p] = int64(0)
					}
				}
			}
			out = spliceColumns(out, i, cols)
		default:
			return nil, nil, fmt.Errorf("unknown encoding method %q", t.Params.Method)
		}
		st.Columns = append(st.Columns, cs)
	}
	return out, st, nil
}

// fitCategories returns the categories seen at the fit positions, sorted,
// followed by the values that only occur outside them. Codes of fitted
// categories never depend on the other rows.
func fitCategories(vals []any, positions []int) []any {
	fit := make([]any, 0, len(positions))
	for _, p := range positions {
		fit = append(fit, vals[p])
	}
	categories := values.Distinct(fit)
	seen := make(map[string]bool, len(categories))
	for _, c := range categories {
		seen[domain.ValueKey(c)] = true
	}
	for _, v := range values.Distinct(vals) {
		if !seen[domain.ValueKey(v)] {
			categories = append(categories, v)
		}
	}
	return categories
}

func reverseEncode(ds *domain.Dataset, t domain.Transformation, st *domain.ExecutionState) (*domain.Dataset, error) {
	out := ds
	for _, name := range t.TargetColumns {
		cs, err := stateFor(st, name)
		if err != nil {
			return nil, err
		}
		if len(cs.OneHotColumns) > 0 {
			out, err = reverseOneHot(out, cs)
		} else {
			out, err = reverseLabel(out, cs)
		}
		if err != nil {
			return nil, err
		}
	}
	if out == ds {
		out = ds.Derive()
	}
	return out, nil
}

func reverseLabel(ds *domain.Dataset, cs *domain.ColumnState) (*domain.Dataset, error) {
	i, err := targetColumn(ds, cs.Column)
	if err != nil {
		return nil, err
	}
	col := ds.Columns[i]
	vals := make([]any, len(col.Values))
	for p, v := range col.Values {
		if v == nil {
			continue
		}
		code, ok := v.(int64)
		if !ok || code < 0 || int(code) >= len(cs.Categories) {
			return nil, fmt.Errorf("unknown code %v in %s", v, cs.Column)
		}
		vals[p] = cs.Categories[code]
	}
	return replaceColumn(ds, i, domain.Column{Name: cs.Column, DType: cs.OriginalDType, Values: vals}), nil
}

func reverseOneHot(ds *domain.Dataset, cs *domain.ColumnState) (*domain.Dataset, error) {
	idx := make([]int, len(cs.OneHotColumns))
	for c, name := range cs.OneHotColumns {
		i, err := targetColumn(ds, name)
		if err != nil {
			return nil, err
		}
		idx[c] = i
	}
	if len(idx) != len(cs.Categories) {
		return nil, fmt.Errorf("%d one-hot columns for %d categories", len(idx), len(cs.Categories))
	}
	for c := 1; c < len(idx); c++ {
		if idx[c] != idx[0]+c {
			return nil, fmt.Errorf("one-hot columns of %s are no longer adjacent", cs.Column)
		}
	}

	n := ds.NumRows()
	vals := make([]any, n)
	for p := 0; p < n; p++ {
		for c, i := range idx {
			if v, _ := ds.Columns[i].Values[p].(int64); v == 1 {
				vals[p] = cs.Categories[c]
				break
			}
		}
	}
	orig := domain.Column{Name: cs.Column, DType: cs.OriginalDType, Values: vals}
	out := ds.Derive()
	out.Columns = append(append(append([]domain.Column(nil), ds.Columns[:idx[0]]...), orig), ds.Columns[idx[len(idx)-1]+1:]...)
	return out, nil
}
