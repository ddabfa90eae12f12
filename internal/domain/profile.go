package domain

// InferredType is the semantic type a profiler assigns to a column.
type InferredType string

// Inferred column types.
const (
	TypeNumeric     InferredType = "numeric"
	TypeCategorical InferredType = "categorical"
	TypeDatetime    InferredType = "datetime"
	TypeText        InferredType = "text"
	TypeBoolean     InferredType = "boolean"
)

// CanonicalDType returns the storage dtype that naturally holds values of t.
func (t InferredType) CanonicalDType() DType {
	switch t {
	case TypeNumeric:
		return DTypeFloat64
	case TypeBoolean:
		return DTypeBool
	case TypeDatetime:
		return DTypeDatetime
	default:
		return DTypeString
	}
}

// Compatible reports whether a column declared as d can hold t values
// without conversion.
func (t InferredType) Compatible(d DType) bool {
	switch t {
	case TypeNumeric:
		return d == DTypeInt64 || d == DTypeFloat64
	case TypeBoolean:
		return d == DTypeBool
	case TypeDatetime:
		return d == DTypeDatetime
	case TypeCategorical:
		return d == DTypeString || d == DTypeInt64 || d == DTypeBool
	default:
		return d == DTypeString
	}
}

// ColumnProfile describes one column of a dataset.
type ColumnProfile struct {
	Name           string       `json:"name"`
	DType          DType        `json:"dtype"`
	InferredType   InferredType `json:"inferred_type"`
	NullCount      int          `json:"null_count"`
	NullPercentage float64      `json:"null_percentage"`
	UniqueCount    *int         `json:"unique_count,omitempty"`
	Min            *float64     `json:"min,omitempty"`
	Max            *float64     `json:"max,omitempty"`
	Mean           *float64     `json:"mean,omitempty"`
	Std            *float64     `json:"std,omitempty"`
	Q1             *float64     `json:"q1,omitempty"`
	Q3             *float64     `json:"q3,omitempty"`
}

// DataProfile is an immutable description of a dataset version.
type DataProfile struct {
	RowCount                 int             `json:"row_count"`
	ColumnCount              int             `json:"column_count"`
	Columns                  []ColumnProfile `json:"columns"`
	OverallMissingPercentage float64         `json:"overall_missing_percentage"`
	DuplicateRows            int             `json:"duplicate_rows"`
}

// Column returns the profile of the named column.
func (p *DataProfile) Column(name string) (*ColumnProfile, bool) {
	if p == nil {
		return nil, false
	}
	for i := range p.Columns {
		if p.Columns[i].Name == name {
			return &p.Columns[i], true
		}
	}
	return nil, false
}
