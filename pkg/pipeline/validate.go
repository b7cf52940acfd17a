package pipeline

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// ValidationError rejects a specification before any stage runs.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid specification: " + e.Reason
}

// ValidateSpecification checks that spec is non-blank and at most limit
// characters long.
func ValidateSpecification(spec string, limit int) error {
	if strings.TrimSpace(spec) == "" {
		return &ValidationError{Reason: "specification cannot be empty"}
	}
	if n := utf8.RuneCountInString(spec); n > limit {
		return &ValidationError{Reason: fmt.Sprintf("specification is %d characters, limit is %d", n, limit)}
	}
	return nil
}
