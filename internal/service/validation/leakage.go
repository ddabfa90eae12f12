package validation

import "datawrangler/internal/domain"

// CheckLeakage reports whether any statistic fitted on the way from original
// to transformed used rows outside its legitimate scope: the rows still
// present in transformed, minus the holdout partition declared on either
// dataset.
func CheckLeakage(original, transformed *domain.Dataset) bool {
	return len(LeakingFits(original, transformed)) > 0
}

// LeakingFits returns the fit records of transformed that include rows
// outside the training scope. Each returned record holds only the offending
// row ids.
func LeakingFits(original, transformed *domain.Dataset) []domain.FitRecord {
	if transformed == nil || len(transformed.Fits) == 0 {
		return nil
	}
	present := make(map[int64]bool, len(transformed.RowIDs))
	for _, id := range transformed.RowIDs {
		present[id] = true
	}
	heldOut := func(id int64) bool {
		return transformed.Holdout[id] || (original != nil && original.Holdout[id])
	}

	var out []domain.FitRecord
	for _, f := range transformed.Fits {
		var bad []int64
		for _, id := range f.RowIDs {
			if !present[id] || heldOut(id) {
				bad = append(bad, id)
			}
		}
		if len(bad) > 0 {
			f.RowIDs = bad
			out = append(out, f)
		}
	}
	return out
}
