package transform

import (
	"fmt"
	"slices"

	"datawrangler/internal/domain"
)

var validParams = map[domain.TransformationType]func(p domain.Params) error{
	domain.FillMissing: func(p domain.Params) error {
		switch p.Strategy {
		case domain.StrategyMean, domain.StrategyMedian, domain.StrategyMode, domain.StrategyForwardFill:
			return nil
		case domain.StrategyConstant:
			if p.FillValue == nil {
				return fmt.Errorf("constant fill requires fill_value")
			}
			return nil
		}
		return fmt.Errorf("unknown fill strategy %q", p.Strategy)
	},
	domain.Normalize: func(p domain.Params) error {
		if !slices.Contains([]string{domain.MethodZScore, domain.MethodMinMax, domain.MethodRobust}, p.Method) {
			return fmt.Errorf("unknown normalize method %q", p.Method)
		}
		return nil
	},
	domain.EncodeCategorical: func(p domain.Params) error {
		if p.Method != "" && p.Method != domain.MethodLabel && p.Method != domain.MethodOneHot {
			return fmt.Errorf("unknown encoding method %q", p.Method)
		}
		return nil
	},
	domain.RemoveOutliers: func(p domain.Params) error {
		if p.Method != domain.MethodIQR && p.Method != domain.MethodZScore {
			return fmt.Errorf("unknown outlier method %q", p.Method)
		}
		if p.Action != "" && p.Action != domain.ActionMask && p.Action != domain.ActionRemove {
			return fmt.Errorf("unknown outlier action %q", p.Action)
		}
		if p.Threshold < 0 {
			return fmt.Errorf("negative outlier threshold")
		}
		return nil
	},
	domain.DropDuplicates: func(domain.Params) error { return nil },
	domain.CastType: func(p domain.Params) error {
		if !p.TargetType.Valid() {
			return fmt.Errorf("invalid target dtype %q", p.TargetType)
		}
		return nil
	},
}

// CheckPlan verifies t can run against a dataset described by profile:
// its type and parameters are known and its target columns exist.
func CheckPlan(t domain.Transformation, profile *domain.DataProfile) error {
	check, ok := validParams[t.Type]
	if !ok {
		return domain.ErrValidation("%s: unknown transformation type %q", t.ID, t.Type).WithCode(domain.IssueInvalidPlan)
	}
	if err := check(t.Params); err != nil {
		return domain.ErrValidation("%s", t.ID).WithCode(domain.IssueInvalidPlan).Wrap(err)
	}
	if t.Params.FitScope != "" && t.Params.FitScope != domain.FitScopeTraining && t.Params.FitScope != domain.FitScopeAll {
		return domain.ErrValidation("%s: unknown fit scope %q", t.ID, t.Params.FitScope).WithCode(domain.IssueInvalidPlan)
	}
	if len(t.TargetColumns) == 0 && t.Type != domain.DropDuplicates {
		return domain.ErrValidation("%s: no target columns", t.ID).WithCode(domain.IssueInvalidPlan)
	}
	for _, c := range t.TargetColumns {
		if _, ok := profile.Column(c); !ok {
			return domain.ErrValidation("%s: column %q not in dataset", t.ID, c).WithCode(domain.IssueInvalidPlan)
		}
	}
	return nil
}
