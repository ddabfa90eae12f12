// Package validation checks transformed datasets for integrity, schema
// compatibility, and statistical leakage.
package validation

import (
	"fmt"
	"log/slog"
	"math"

	"datawrangler/internal/config"
	"datawrangler/internal/domain"
)

// Validator compares a transformed dataset against its original.
type Validator struct {
	cfg    config.ValidationConfig
	logger *slog.Logger
}

// New creates a Validator.
func New(cfg config.ValidationConfig, logger *slog.Logger) *Validator {
	return &Validator{cfg: cfg, logger: logger}
}

// Validate checks transformed against original. Columns targeted by a
// transformation in scope may change type or be replaced; any other schema
// change is an error. Validate never fails: problems are reported as issues.
func (v *Validator) Validate(original, transformed *domain.Dataset, scope ...domain.Transformation) domain.ValidationResult {
	res := domain.ValidationResult{
		OriginalRowCount:    original.NumRows(),
		TransformedRowCount: transformed.NumRows(),
		SchemaCompatible:    true,
	}
	add := func(sev domain.Severity, code, column, format string, args ...any) {
		res.Issues = append(res.Issues, domain.ValidationIssue{
			Severity: sev,
			Code:     code,
			Column:   column,
			Message:  fmt.Sprintf(format, args...),
		})
	}

	v.checkRowCount(&res, add)

	scoped := func(column string) bool {
		for _, t := range scope {
			if !t.WholeRow() && t.Targets(column) {
				return true
			}
		}
		return false
	}

	for _, oc := range original.Columns {
		tc, ok := transformed.Column(oc.Name)
		switch {
		case !ok && scoped(oc.Name):
			add(domain.SeverityInfo, domain.IssueColumnsReplaced, oc.Name, "column %s was replaced", oc.Name)
			continue
		case !ok:
			res.SchemaCompatible = false
			add(domain.SeverityError, domain.IssueMissingColumn, oc.Name, "column %s is missing from the output", oc.Name)
			continue
		}

		if tc.DType != oc.DType {
			if scoped(oc.Name) {
				add(domain.SeverityInfo, domain.IssueTypeChanged, oc.Name, "column %s changed type %s -> %s", oc.Name, oc.DType, tc.DType)
			} else {
				res.SchemaCompatible = false
				add(domain.SeverityError, domain.IssueTypeChanged, oc.Name, "untouched column %s changed type %s -> %s", oc.Name, oc.DType, tc.DType)
			}
		}
		if !scoped(oc.Name) {
			before, after := nulls(oc.Values), nulls(tc.Values)
			if after > before {
				add(domain.SeverityWarning, domain.IssueNullsIncreased, oc.Name, "null count of %s increased from %d to %d", oc.Name, before, after)
			}
		}
	}
	for _, tc := range transformed.Columns {
		if original.ColumnIndex(tc.Name) < 0 {
			add(domain.SeverityInfo, domain.IssueColumnAdded, tc.Name, "column %s was added", tc.Name)
		}
	}

	if v.cfg.LeakageCheck {
		for _, f := range LeakingFits(original, transformed) {
			res.LeakageDetected = true
			add(domain.SeverityError, domain.IssueLeakageDetected, f.Column,
				"%s statistic of %s in %s was fitted on %d rows outside the training scope",
				f.Statistic, f.Column, f.TransformationID, len(f.RowIDs))
		}
	}

	res.Passed = len(res.Errors()) == 0
	if !res.Passed {
		v.logger.Debug("validation failed", "errors", len(res.Errors()), "issues", len(res.Issues))
	}
	return res
}

func (v *Validator) checkRowCount(res *domain.ValidationResult, add func(domain.Severity, string, string, string, ...any)) {
	before, after := res.OriginalRowCount, res.TransformedRowCount
	if before == after {
		return
	}
	if before == 0 {
		add(domain.SeverityWarning, domain.IssueRowCountChanged, "", "row count changed from 0 to %d", after)
		return
	}
	ratio := math.Abs(float64(before-after)) / float64(before)
	if ratio > v.cfg.RowCountTolerance {
		add(domain.SeverityError, domain.IssueRowCountExceeded, "",
			"row count changed from %d to %d (%.1f%%), tolerance is %.1f%%",
			before, after, 100*ratio, 100*v.cfg.RowCountTolerance)
		return
	}
	add(domain.SeverityWarning, domain.IssueRowCountChanged, "", "row count changed from %d to %d", before, after)
}

func nulls(vals []any) int {
	n := 0
	for _, v := range vals {
		if v == nil {
			n++
		}
	}
	return n
}
