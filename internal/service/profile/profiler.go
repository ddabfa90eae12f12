// Package profile computes DataProfiles of in-memory datasets.
package profile

import (
	"context"
	"log/slog"
	"math"

	"datawrangler/internal/domain"
	"datawrangler/internal/values"
)

const (
	// parseRateThreshold is the fraction of non-null strings that must parse
	// as a type for the column to be inferred as that type.
	parseRateThreshold = 0.8
	// categoricalUniqueRatio is the largest distinct/non-null ratio of a
	// string column still inferred as categorical.
	categoricalUniqueRatio = 0.6
)

// Profiler derives DataProfiles.
type Profiler struct {
	logger *slog.Logger
}

// New creates a Profiler.
func New(logger *slog.Logger) *Profiler {
	return &Profiler{logger: logger}
}

// Profile describes ds. Column profiles follow the dataset column order.
func (p *Profiler) Profile(ctx context.Context, ds *domain.Dataset) (*domain.DataProfile, error) {
	if ds == nil {
		return nil, domain.ErrProfiling("dataset is nil")
	}
	rows := ds.NumRows()
	out := &domain.DataProfile{
		RowCount:    rows,
		ColumnCount: ds.NumColumns(),
		Columns:     make([]domain.ColumnProfile, 0, ds.NumColumns()),
	}

	for _, col := range ds.Columns {
		if err := ctx.Err(); err != nil {
			return nil, domain.ErrProfiling("profiling cancelled").Wrap(err)
		}
		out.Columns = append(out.Columns, profileColumn(col, rows))
	}

	if cells := rows * ds.NumColumns(); cells > 0 {
		out.OverallMissingPercentage = 100 * float64(ds.NullCount()) / float64(cells)
	}
	out.DuplicateRows = rows - len(ds.DistinctPositions(nil))

	p.logger.Debug("dataset profiled",
		"rows", rows,
		"columns", out.ColumnCount,
		"duplicates", out.DuplicateRows,
		"missing_pct", out.OverallMissingPercentage,
	)
	return out, nil
}

func profileColumn(col domain.Column, rows int) domain.ColumnProfile {
	nonNull := make([]any, 0, len(col.Values))
	for _, v := range col.Values {
		if v != nil {
			nonNull = append(nonNull, v)
		}
	}
	cp := domain.ColumnProfile{
		Name:         col.Name,
		DType:        col.DType,
		InferredType: InferType(col.DType, nonNull),
		NullCount:    rows - len(nonNull),
	}
	if rows > 0 {
		cp.NullPercentage = 100 * float64(cp.NullCount) / float64(rows)
	}
	unique := len(values.Distinct(nonNull))
	cp.UniqueCount = &unique

	if cp.InferredType != domain.TypeNumeric {
		return cp
	}
	xs := values.Floats(nonNull, nil)
	if len(xs) == 0 {
		return cp
	}
	lo, hi := values.MinMax(xs)
	mean := values.Mean(xs)
	q1, q3 := values.Quartiles(xs)
	cp.Min, cp.Max, cp.Mean, cp.Q1, cp.Q3 = &lo, &hi, &mean, &q1, &q3
	if std := values.StdDev(xs); !math.IsNaN(std) {
		cp.Std = &std
	}
	return cp
}

// InferType assigns a semantic type to a column. Natively typed columns
// keep their type; string columns are inferred from how their values parse.
func InferType(dtype domain.DType, nonNull []any) domain.InferredType {
	switch dtype {
	case domain.DTypeBool:
		return domain.TypeBoolean
	case domain.DTypeInt64, domain.DTypeFloat64:
		return domain.TypeNumeric
	case domain.DTypeDatetime:
		return domain.TypeDatetime
	}
	if len(nonNull) == 0 {
		return domain.TypeText
	}

	var boolN, numN, timeN int
	for _, v := range nonNull {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if _, ok := values.ParseBool(s); ok {
			boolN++
		}
		if _, ok := values.ToFloat(s); ok {
			numN++
		}
		if _, ok := values.ParseTime(s); ok {
			timeN++
		}
	}
	n := float64(len(nonNull))
	switch {
	case float64(boolN)/n > parseRateThreshold:
		return domain.TypeBoolean
	case float64(numN)/n > parseRateThreshold:
		return domain.TypeNumeric
	case float64(timeN)/n > parseRateThreshold:
		return domain.TypeDatetime
	}
	if float64(len(values.Distinct(nonNull)))/n <= categoricalUniqueRatio {
		return domain.TypeCategorical
	}
	return domain.TypeText
}
