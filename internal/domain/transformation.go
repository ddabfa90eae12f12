package domain

import "time"

// TransformationType is the closed set of transformation kinds.
type TransformationType string

// Transformation types.
const (
	FillMissing       TransformationType = "fill_missing"
	Normalize         TransformationType = "normalize"
	EncodeCategorical TransformationType = "encode_categorical"
	RemoveOutliers    TransformationType = "remove_outliers"
	DropDuplicates    TransformationType = "drop_duplicates"
	CastType          TransformationType = "cast_type"
)

// AllTransformationTypes lists every type in generation order.
var AllTransformationTypes = []TransformationType{
	FillMissing, EncodeCategorical, Normalize, RemoveOutliers, DropDuplicates, CastType,
}

// Valid reports whether t is a known transformation type.
func (t TransformationType) Valid() bool {
	_, ok := precedence[t]
	return ok
}

// precedence orders types that touch the same columns. Lower runs first.
// drop_duplicates has no entry in the column chain and sorts last.
var precedence = map[TransformationType]int{
	CastType:          0,
	FillMissing:       1,
	RemoveOutliers:    2,
	EncodeCategorical: 3,
	Normalize:         4,
	DropDuplicates:    5,
}

// Precedence returns the semantic precedence class of t.
func (t TransformationType) Precedence() int {
	if p, ok := precedence[t]; ok {
		return p
	}
	return len(precedence)
}

// Strategies, methods, and actions used in Params.
const (
	StrategyMean        = "mean"
	StrategyMedian      = "median"
	StrategyMode        = "mode"
	StrategyForwardFill = "forward_fill"
	StrategyConstant    = "constant"

	MethodZScore = "zscore"
	MethodMinMax = "minmax"
	MethodRobust = "robust"
	MethodIQR    = "iqr"
	MethodLabel  = "label"
	MethodOneHot = "onehot"

	ActionMask   = "mask"
	ActionRemove = "remove"

	FitScopeTraining = "training"
	FitScopeAll      = "all"
)

// Params holds the type-specific parameters of a transformation. Only the
// fields relevant to the transformation type are set.
type Params struct {
	Strategy   string  `json:"strategy,omitempty"`
	Method     string  `json:"method,omitempty"`
	Action     string  `json:"action,omitempty"`
	Threshold  float64 `json:"threshold,omitempty"`
	FillValue  any     `json:"fill_value,omitempty"`
	TargetType DType   `json:"target_type,omitempty"`
	Coerce     bool    `json:"coerce,omitempty"`
	FitScope   string  `json:"fit_scope,omitempty"`
}

// Transformation is an immutable descriptor of a proposed change.
type Transformation struct {
	ID            string             `json:"id"`
	Type          TransformationType `json:"type"`
	TargetColumns []string           `json:"target_columns"`
	Params        Params             `json:"params"`
	Reversible    bool               `json:"reversible"`
	Description   string             `json:"description"`
	DependsOn     []string           `json:"depends_on,omitempty"`
}

// WholeRow reports whether t applies to entire rows rather than columns.
func (t Transformation) WholeRow() bool {
	return t.Type == DropDuplicates && len(t.TargetColumns) == 0
}

// Targets reports whether t is scoped to touch column.
func (t Transformation) Targets(column string) bool {
	if t.WholeRow() {
		return true
	}
	for _, c := range t.TargetColumns {
		if c == column {
			return true
		}
	}
	return false
}

// ColumnState is the inversion state recorded for one target column.
type ColumnState struct {
	Column        string `json:"column"`
	OriginalDType DType  `json:"original_dtype"`

	// fill_missing
	FilledRows []int64 `json:"filled_rows,omitempty"`
	FillValue  any     `json:"fill_value,omitempty"`

	// normalize
	Offset   float64 `json:"offset,omitempty"`
	Scale    float64 `json:"scale,omitempty"`
	HasScale bool    `json:"has_scale,omitempty"`

	// encode_categorical
	Categories    []any    `json:"categories,omitempty"`
	OneHotColumns []string `json:"onehot_columns,omitempty"`

	// remove_outliers (mask)
	MaskedRows   []int64 `json:"masked_rows,omitempty"`
	MaskedValues []any   `json:"masked_values,omitempty"`

	// cast_type
	Lossless bool `json:"lossless,omitempty"`
}

// ExecutionState is the minimal state needed to invert a transformation.
type ExecutionState struct {
	Columns     []ColumnState `json:"columns,omitempty"`
	RemovedRows []int64       `json:"removed_rows,omitempty"`
}

// Column returns the recorded state for column.
func (s *ExecutionState) Column(name string) (*ColumnState, bool) {
	if s == nil {
		return nil, false
	}
	for i := range s.Columns {
		if s.Columns[i].Column == name {
			return &s.Columns[i], true
		}
	}
	return nil, false
}

// TransformationResult is the outcome of executing one transformation.
type TransformationResult struct {
	Transformation Transformation
	Success        bool
	Output         *Dataset
	Error          string
	Duration       time.Duration
	State          *ExecutionState
	Reversible     bool
	TimedOut       bool
}

// ExecutionRecord is the persisted summary of a TransformationResult and the
// validation of its output.
type ExecutionRecord struct {
	TransformationID string            `json:"transformation_id"`
	Success          bool              `json:"success"`
	Error            string            `json:"error,omitempty"`
	DurationMS       int64             `json:"duration_ms"`
	Reversible       bool              `json:"reversible"`
	Attempts         int               `json:"attempts"`
	Substituted      bool              `json:"substituted,omitempty"`
	Validation       *ValidationResult `json:"validation,omitempty"`
}
