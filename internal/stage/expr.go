package stage

import (
	"fmt"
	"strings"
)

// ParseFilter builds a filter stage from a "field:value" expression. A
// leading '!' inverts the match. The value may itself contain colons.
func ParseFilter(expr string) (*FilterStage, error) {
	invert := strings.HasPrefix(expr, "!")
	expr = strings.TrimPrefix(expr, "!")

	field, value, ok := strings.Cut(expr, ":")
	if !ok || field == "" {
		return nil, fmt.Errorf("invalid filter expression %q, want field:value", expr)
	}
	return NewFilter(field, value, invert), nil
}

// ParseProject builds a projection stage from a comma-separated list of
// dotted paths.
func ParseProject(expr string) (*ProjectStage, error) {
	var paths []string
	for _, p := range strings.Split(expr, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			paths = append(paths, p)
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("invalid select expression %q, no paths", expr)
	}
	return NewProject(paths), nil
}

// ParseStats builds a stats aggregation from a "field" or "field:groupField"
// expression.
func ParseStats(expr string, opts AggregateOptions) (*AggregateStage, error) {
	field, group, _ := strings.Cut(expr, ":")
	if field == "" {
		return nil, fmt.Errorf("invalid stats expression %q, want field or field:groupField", expr)
	}
	return NewStats(field, group, opts), nil
}
