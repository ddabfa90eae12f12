package transform

import (
	"fmt"
	"math"

	"datawrangler/internal/domain"
	"datawrangler/internal/values"
)

func applyNormalize(ds *domain.Dataset, t domain.Transformation) (*domain.Dataset, *domain.ExecutionState, error) {
	out := ds.Derive()
	st := &domain.ExecutionState{}
	positions := fitPositions(ds, t.Params.FitScope)
	for _, name := range t.TargetColumns {
		i, err := targetColumn(out, name)
		if err != nil {
			return nil, nil, err
		}
		col := out.Columns[i]
		if col.DType != domain.DTypeInt64 && col.DType != domain.DTypeFloat64 {
			return nil, nil, fmt.Errorf("normalize %s: column has dtype %s, expected a numeric column", name, col.DType)
		}
		xs := values.Floats(col.Values, positions)
		if len(xs) == 0 {
			return nil, nil, fmt.Errorf("normalize %s: no values to fit", name)
		}
		offset, scale, err := normalizeParams(t.Params.Method, xs)
		if err != nil {
			return nil, nil, fmt.Errorf("normalize %s: %w", name, err)
		}
		recordFit(out, t, name, t.Params.Method, col.Values, positions)

		vals := make([]any, len(col.Values))
		for p, v := range col.Values {
			if v == nil {
				continue
			}
			x, _ := values.ToFloat(v)
			vals[p] = (x - offset) / scale
		}
		out.Columns[i] = domain.Column{Name: name, DType: domain.DTypeFloat64, Values: vals}
		st.Columns = append(st.Columns, domain.ColumnState{
			Column:        name,
			OriginalDType: col.DType,
			Offset:        offset,
			Scale:         scale,
			HasScale:      true,
		})
	}
	return out, st, nil
}

// normalizeParams returns the offset and scale of x' = (x-offset)/scale.
// A degenerate spread yields scale 1.
func normalizeParams(method string, xs []float64) (offset, scale float64, err error) {
	switch method {
	case domain.MethodZScore:
		offset, scale = values.Mean(xs), values.StdDev(xs)
	case domain.MethodMinMax:
		lo, hi := values.MinMax(xs)
		offset, scale = lo, hi-lo
	case domain.MethodRobust:
		q1, q3 := values.Quartiles(xs)
		offset, scale = values.Median(xs), q3-q1
	default:
		return 0, 0, fmt.Errorf("unknown normalize method %q", method)
	}
	if scale == 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		scale = 1
	}
	return offset, scale, nil
}

func reverseNormalize(ds *domain.Dataset, t domain.Transformation, st *domain.ExecutionState) (*domain.Dataset, error) {
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
		if !cs.HasScale {
			return nil, fmt.Errorf("no scale recorded for %s", name)
		}
		col := out.Columns[i]
		vals := make([]any, len(col.Values))
		for p, v := range col.Values {
			if v == nil {
				continue
			}
			x, ok := values.ToFloat(v)
			if !ok {
				return nil, fmt.Errorf("non-numeric value in normalized column %s", name)
			}
			x = x*cs.Scale + cs.Offset
			if cs.OriginalDType == domain.DTypeInt64 {
				vals[p] = int64(math.Round(x))
			} else {
				vals[p] = x
			}
		}
		out.Columns[i] = domain.Column{Name: name, DType: cs.OriginalDType, Values: vals}
	}
	return out, nil
}
