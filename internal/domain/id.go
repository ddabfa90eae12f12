package domain

import (
	"sort"
	"strings"

	"github.com/google/uuid"
)

// NewID generates a UUIDv7 string for run identifiers.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// TransformationID builds the stable identifier of a generated transformation
// from its type, target columns, and variant. Columns are sorted so the id
// does not depend on declaration order.
func TransformationID(t TransformationType, columns []string, variant string) string {
	cols := append([]string(nil), columns...)
	sort.Strings(cols)
	scope := strings.Join(cols, "+")
	if scope == "" {
		scope = "*"
	}
	id := string(t) + ":" + scope
	if variant != "" {
		id += ":" + variant
	}
	return id
}
