package domain

// Severity grades a validation issue.
type Severity string

// Issue severities.
const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Validation issue codes.
const (
	IssueRowCountExceeded = "ROW_COUNT_EXCEEDED"
	IssueRowCountChanged  = "ROW_COUNT_CHANGED"
	IssueNullsIncreased   = "NULLS_INCREASED"
	IssueMissingColumn    = "MISSING_COLUMN"
	IssueTypeChanged      = "TYPE_CHANGED"
	IssueColumnsReplaced  = "COLUMNS_REPLACED"
	IssueColumnAdded      = "COLUMN_ADDED"
	IssueLeakageDetected  = "LEAKAGE_DETECTED"
	IssueInvalidPlan      = "INVALID_PLAN"
)

// ValidationIssue is a single finding of the validation engine.
type ValidationIssue struct {
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Column   string   `json:"column,omitempty"`
}

// ValidationResult is the verdict on one transformed dataset.
type ValidationResult struct {
	Passed              bool              `json:"passed"`
	Issues              []ValidationIssue `json:"issues"`
	OriginalRowCount    int               `json:"original_row_count"`
	TransformedRowCount int               `json:"transformed_row_count"`
	SchemaCompatible    bool              `json:"schema_compatible"`
	LeakageDetected     bool              `json:"leakage_detected"`
}

// Errors returns the error-level issues.
func (r ValidationResult) Errors() []ValidationIssue {
	var out []ValidationIssue
	for _, i := range r.Issues {
		if i.Severity == SeverityError {
			out = append(out, i)
		}
	}
	return out
}

// HasIssue reports whether an issue with code was raised.
func (r ValidationResult) HasIssue(code string) bool {
	for _, i := range r.Issues {
		if i.Code == code {
			return true
		}
	}
	return false
}
