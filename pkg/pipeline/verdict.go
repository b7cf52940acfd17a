package pipeline

import (
	"regexp"
	"strings"
)

// NotAvailable stands in for a verdict field the Judge did not provide.
const NotAvailable = "N/A"

var (
	scorePattern       = regexp.MustCompile(`Score \(out of 10\):\s*(\d+)`)
	discrepancyPattern = regexp.MustCompile(`Discrepancy:\s*(.*?)(?:\n|$)`)
)

// Verdict is the parsed Judge output.
type Verdict struct {
	Score       string
	Discrepancy string
}

// ParseVerdict extracts the score and discrepancy lines from raw Judge
// output. Missing fields are NotAvailable.
func ParseVerdict(raw string) Verdict {
	v := Verdict{Score: NotAvailable, Discrepancy: NotAvailable}
	if m := scorePattern.FindStringSubmatch(raw); m != nil {
		v.Score = m[1]
	}
	if m := discrepancyPattern.FindStringSubmatch(raw); m != nil {
		v.Discrepancy = strings.TrimSpace(m[1])
	}
	return v
}

// IsSoftError reports whether Architect output is the model's refusal of a
// vague specification: a quoted "error" key together with the word vague.
func IsSoftError(plan string) bool {
	lower := strings.ToLower(plan)
	return strings.Contains(lower, `"error"`) && strings.Contains(lower, "vague")
}
