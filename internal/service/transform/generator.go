// Package transform proposes, orders, executes, and reverses dataset
// transformations.
package transform

import (
	"fmt"
	"log/slog"
	"math"

	"datawrangler/internal/config"
	"datawrangler/internal/domain"
)

// Generator proposes candidate transformations from a DataProfile.
type Generator struct {
	cfg    config.GenerationConfig
	logger *slog.Logger
}

// NewGenerator creates a Generator.
func NewGenerator(cfg config.GenerationConfig, logger *slog.Logger) *Generator {
	return &Generator{cfg: cfg, logger: logger}
}

// Generate returns the candidates for profile in generation order: every
// fill_missing first, then encodings, normalizations, outlier removals,
// duplicate removal, and casts. The result depends only on the profile and
// the configuration.
func (g *Generator) Generate(profile *domain.DataProfile) ([]domain.Transformation, error) {
	if profile == nil {
		return nil, domain.ErrTransformation("cannot generate candidates without a profile")
	}

	byType := make(map[domain.TransformationType][]domain.Transformation)
	add := func(t domain.Transformation) {
		t.Reversible = reversibleByDescriptor(t)
		byType[t.Type] = append(byType[t.Type], t)
	}

	for _, col := range profile.Columns {
		for _, t := range g.fillCandidates(col) {
			add(t)
		}
		for _, t := range g.encodeCandidates(col) {
			add(t)
		}
		for _, t := range g.normalizeCandidates(col) {
			add(t)
		}
		for _, t := range g.outlierCandidates(col) {
			add(t)
		}
		if t, ok := castCandidate(col); ok {
			add(t)
		}
	}
	if profile.DuplicateRows > 0 {
		add(domain.Transformation{
			ID:          domain.TransformationID(domain.DropDuplicates, nil, ""),
			Type:        domain.DropDuplicates,
			Description: fmt.Sprintf("drop %d duplicate rows", profile.DuplicateRows),
		})
	}

	var out []domain.Transformation
	for _, typ := range domain.AllTransformationTypes {
		if !g.cfg.Allows(typ) {
			continue
		}
		out = append(out, byType[typ]...)
	}
	if g.cfg.MaxCandidates > 0 && len(out) > g.cfg.MaxCandidates {
		g.logger.Debug("truncating candidates", "generated", len(out), "max", g.cfg.MaxCandidates)
		out = out[:g.cfg.MaxCandidates]
	}
	return out, nil
}

// fillCandidates proposes one fill per configured numeric strategy for
// numeric columns, forward fill for datetimes, and mode otherwise.
func (g *Generator) fillCandidates(col domain.ColumnProfile) []domain.Transformation {
	if col.NullPercentage <= 0 || col.NullPercentage > g.cfg.MissingValueThreshold {
		return nil
	}
	var strategies []string
	switch col.InferredType {
	case domain.TypeNumeric:
		strategies = g.cfg.NumericFillStrategies
	case domain.TypeDatetime:
		strategies = []string{domain.StrategyForwardFill}
	default:
		strategies = []string{domain.StrategyMode}
	}
	out := make([]domain.Transformation, 0, len(strategies))
	for _, strategy := range strategies {
		p := domain.Params{Strategy: strategy}
		with := strategy
		if strategy == domain.StrategyConstant {
			if g.cfg.FillConstant == nil {
				continue
			}
			p.FillValue = *g.cfg.FillConstant
			with = "constant " + domain.FormatValue(p.FillValue)
		}
		out = append(out, domain.Transformation{
			ID:            domain.TransformationID(domain.FillMissing, []string{col.Name}, strategy),
			Type:          domain.FillMissing,
			TargetColumns: []string{col.Name},
			Params:        p,
			Description:   fmt.Sprintf("fill %d missing values in %s with %s", col.NullCount, col.Name, with),
		})
	}
	return out
}

func (g *Generator) encodeCandidates(col domain.ColumnProfile) []domain.Transformation {
	if col.InferredType != domain.TypeCategorical || col.UniqueCount == nil || *col.UniqueCount >= g.cfg.CardinalityLimit {
		return nil
	}
	out := make([]domain.Transformation, 0, len(g.cfg.EncodingMethods))
	for _, m := range g.cfg.EncodingMethods {
		out = append(out, domain.Transformation{
			ID:            domain.TransformationID(domain.EncodeCategorical, []string{col.Name}, m),
			Type:          domain.EncodeCategorical,
			TargetColumns: []string{col.Name},
			Params:        domain.Params{Method: m},
			Description:   fmt.Sprintf("%s-encode %s (%d categories)", m, col.Name, *col.UniqueCount),
		})
	}
	return out
}

func numericColumn(col domain.ColumnProfile) bool {
	return col.InferredType == domain.TypeNumeric && (col.DType == domain.DTypeInt64 || col.DType == domain.DTypeFloat64)
}

func (g *Generator) normalizeCandidates(col domain.ColumnProfile) []domain.Transformation {
	if !numericColumn(col) {
		return nil
	}
	out := make([]domain.Transformation, 0, len(g.cfg.NormalizeMethods))
	for _, m := range g.cfg.NormalizeMethods {
		out = append(out, domain.Transformation{
			ID:            domain.TransformationID(domain.Normalize, []string{col.Name}, m),
			Type:          domain.Normalize,
			TargetColumns: []string{col.Name},
			Params:        domain.Params{Method: m},
			Description:   fmt.Sprintf("%s-normalize %s", m, col.Name),
		})
	}
	return out
}

// outlierCandidates proposes one candidate per configured action when the
// profile shows points outside the outlier bounds.
func (g *Generator) outlierCandidates(col domain.ColumnProfile) []domain.Transformation {
	if !numericColumn(col) || col.Min == nil || col.Max == nil {
		return nil
	}
	method, threshold := g.cfg.OutlierMethod, g.cfg.IQRMultiplier
	if method == domain.MethodZScore {
		threshold = g.cfg.ZScoreThreshold
	}
	if method == domain.MethodIQR && (col.Q1 == nil || col.Q3 == nil) {
		method, threshold = domain.MethodZScore, g.cfg.ZScoreThreshold
	}

	var flagged bool
	switch method {
	case domain.MethodIQR:
		iqr := *col.Q3 - *col.Q1
		flagged = *col.Min < *col.Q1-threshold*iqr || *col.Max > *col.Q3+threshold*iqr
	default:
		if col.Mean == nil || col.Std == nil || *col.Std == 0 || math.IsNaN(*col.Std) {
			return nil
		}
		flagged = math.Abs(*col.Min-*col.Mean)/(*col.Std) > threshold ||
			math.Abs(*col.Max-*col.Mean)/(*col.Std) > threshold
	}
	if !flagged {
		return nil
	}

	out := make([]domain.Transformation, 0, len(g.cfg.OutlierActions))
	for _, action := range g.cfg.OutlierActions {
		out = append(out, domain.Transformation{
			ID:            domain.TransformationID(domain.RemoveOutliers, []string{col.Name}, method+"-"+action),
			Type:          domain.RemoveOutliers,
			TargetColumns: []string{col.Name},
			Params:        domain.Params{Method: method, Action: action, Threshold: threshold},
			Description:   fmt.Sprintf("%s %s outliers in %s (threshold %g)", action, method, col.Name, threshold),
		})
	}
	return out
}

func castCandidate(col domain.ColumnProfile) (domain.Transformation, bool) {
	if col.InferredType.Compatible(col.DType) {
		return domain.Transformation{}, false
	}
	target := col.InferredType.CanonicalDType()
	return domain.Transformation{
		ID:            domain.TransformationID(domain.CastType, []string{col.Name}, string(target)),
		Type:          domain.CastType,
		TargetColumns: []string{col.Name},
		Params:        domain.Params{TargetType: target, Coerce: true},
		Description:   fmt.Sprintf("cast %s from %s to %s", col.Name, col.DType, target),
	}, true
}
