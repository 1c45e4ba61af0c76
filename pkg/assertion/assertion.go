// Package assertion checks extracted entity nodes against expected values and confidence thresholds
package assertion

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/dan-solli/entityx/pkg/jsonpath"
)

// DefaultThreshold is the confidence an entity must reach when no threshold is given
const DefaultThreshold = 0.5

// Outcome classifies a verdict
type Outcome string

const (
	OutcomePass            Outcome = "pass"
	OutcomeNotFound        Outcome = "not_found"
	OutcomeMissingValue    Outcome = "missing_value"
	OutcomeAbsent          Outcome = "absent"
	OutcomeLowConfidence   Outcome = "low_confidence"
	OutcomeMismatch        Outcome = "mismatch"
	OutcomeExtractionError Outcome = "extraction_error"
)

// IsWarning reports whether the outcome is a soft failure: the entity was
// located but did not meet expectations
func (o Outcome) IsWarning() bool {
	switch o {
	case OutcomeAbsent, OutcomeLowConfidence, OutcomeMismatch:
		return true
	}
	return false
}

// Verdict is the result of one entity assertion
type Verdict struct {
	Path       string  `json:"path"`
	Passed     bool    `json:"passed"`
	Outcome    Outcome `json:"outcome"`
	Reason     string  `json:"reason"`
	Value      any     `json:"value,omitempty"`
	Confidence float64 `json:"confidence"`
}

// Expectation describes one entity check against an extraction result
type Expectation struct {
	// Path locates the entity, e.g. "organization.phone_number" or "gigs.[0].date"
	Path string `json:"path" yaml:"path"`
	// Expected must be contained, case-insensitively, in the entity value. Empty skips the check.
	Expected string `json:"expected,omitempty" yaml:"expected,omitempty"`
	// Threshold is the minimum confidence. Nil means DefaultThreshold; an
	// explicit 0 accepts any confidence.
	Threshold *float64 `json:"threshold,omitempty" yaml:"threshold,omitempty"`
}

// MinConfidence returns a Threshold value for use in an Expectation literal
func MinConfidence(v float64) *float64 { return &v }

func (e Expectation) threshold() float64 {
	if e.Threshold == nil {
		return DefaultThreshold
	}
	return *e.Threshold
}

// Check applies the entity decision table to a resolved node.
// found is false when the path did not resolve; a nil node counts as not
// found too. The verdict always carries a human-readable reason.
func Check(node any, found bool, expected string, threshold float64) Verdict {
	if !found || node == nil {
		return Verdict{Outcome: OutcomeNotFound, Reason: "not found"}
	}

	var (
		value      any
		confidence float64
	)

	switch n := node.(type) {
	case map[string]any:
		v, ok := n["value"]
		if !ok {
			return Verdict{Outcome: OutcomeMissingValue, Reason: "missing value field"}
		}
		value = v
		confidence = toConfidence(n["confidence"])
	default:
		value = node
		confidence = 1.0
	}

	v := Verdict{Value: value, Confidence: confidence}

	if value == nil {
		v.Outcome = OutcomeAbsent
		v.Reason = fmt.Sprintf("entity absent (confidence: %.2f)", confidence)
		return v
	}

	if confidence < threshold {
		v.Outcome = OutcomeLowConfidence
		v.Reason = fmt.Sprintf("low confidence: %.2f (threshold: %.2f)", confidence, threshold)
		return v
	}

	if expected != "" {
		got := Stringify(value)
		if !strings.Contains(strings.ToLower(got), strings.ToLower(expected)) {
			v.Outcome = OutcomeMismatch
			v.Reason = fmt.Sprintf("mismatch: expected %q, got %q (confidence: %.2f)", expected, got, confidence)
			return v
		}
	}

	v.Passed = true
	v.Outcome = OutcomePass
	v.Reason = fmt.Sprintf("%q (confidence: %.2f)", Stringify(value), confidence)
	return v
}

// CheckPath resolves e.Path in result and checks the node found there.
// A result carrying a top-level "error" field is a diagnostic payload from
// the extraction endpoint and fails every expectation.
func CheckPath(result map[string]any, e Expectation) Verdict {
	if msg, ok := ErrorField(result); ok {
		return Verdict{Path: e.Path, Outcome: OutcomeExtractionError, Reason: "extraction error: " + msg}
	}

	node, found := jsonpath.Resolve(result, e.Path)
	v := Check(node, found, e.Expected, e.threshold())
	v.Path = e.Path
	if v.Outcome == OutcomeNotFound {
		v.Reason = fmt.Sprintf("not found (available keys: %s)", strings.Join(keys(result), ", "))
	}
	return v
}

// ErrorField reports whether result is an error payload and returns its message
func ErrorField(result map[string]any) (string, bool) {
	raw, ok := result["error"]
	if !ok {
		return "", false
	}
	return Stringify(raw), true
}

// Stringify renders an entity value the way it is compared: strings as-is,
// integral numbers without a fraction, everything else as compact JSON
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		return x.String()
	case int:
		return strconv.Itoa(x)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// toConfidence reads a confidence field; absent or unreadable values count as 0.0
func toConfidence(v any) float64 {
	switch c := v.(type) {
	case float64:
		return c
	case int:
		return float64(c)
	case json.Number:
		f, err := c.Float64()
		if err != nil {
			return 0
		}
		return f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(c), 64)
		if err != nil {
			return 0
		}
		return f
	}
	return 0
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
