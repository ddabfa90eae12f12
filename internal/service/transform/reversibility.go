package transform

import (
	"datawrangler/internal/domain"
)

// reversibleByDescriptor reports whether t can in principle be undone.
// Casts are assumed reversible until execution shows a lossy value.
func reversibleByDescriptor(t domain.Transformation) bool {
	switch t.Type {
	case domain.DropDuplicates:
		return false
	case domain.RemoveOutliers:
		return t.Params.Action == domain.ActionMask
	}
	return t.Type.Valid()
}

// Reversible reports whether the executed transformation t, with recorded
// state st, can be inverted exactly.
func Reversible(t domain.Transformation, st *domain.ExecutionState) bool {
	return Reason(t, st) == ""
}

// Reason explains why t cannot be reversed, or returns "" when it can. A
// transformation whose descriptor is not marked reversible is never undone.
func Reason(t domain.Transformation, st *domain.ExecutionState) string {
	if !reversibleByDescriptor(t) {
		switch t.Type {
		case domain.DropDuplicates:
			return "dropped duplicate rows are not retained"
		case domain.RemoveOutliers:
			return "removed outlier rows are not retained"
		}
		return "unknown transformation type"
	}
	if !t.Reversible {
		return "declared not reversible"
	}
	if st == nil {
		return "no execution state recorded"
	}
	for _, name := range t.TargetColumns {
		cs, ok := st.Column(name)
		if !ok {
			return "no state recorded for column " + name
		}
		switch t.Type {
		case domain.FillMissing:
			if len(cs.FilledRows) > 0 && cs.FillValue == nil && t.Params.Strategy != domain.StrategyForwardFill {
				return "fill mask incomplete for column " + name
			}
		case domain.Normalize:
			if !cs.HasScale || cs.Scale == 0 {
				return "scale not recorded for column " + name
			}
		case domain.EncodeCategorical:
			if !injective(cs.Categories) {
				return "encoding of column " + name + " is not one-to-one"
			}
		case domain.RemoveOutliers:
			if len(cs.MaskedRows) != len(cs.MaskedValues) {
				return "outlier mask incomplete for column " + name
			}
		case domain.CastType:
			if !cs.Lossless {
				return "cast of column " + name + " loses information"
			}
		}
	}
	return ""
}

func injective(categories []any) bool {
	seen := make(map[string]bool, len(categories))
	for _, c := range categories {
		k := domain.ValueKey(c)
		if seen[k] {
			return false
		}
		seen[k] = true
	}
	return true
}
