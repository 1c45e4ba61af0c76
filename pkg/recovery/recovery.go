// Package recovery locates and parses a JSON object embedded in free-form LLM output.
//
// Model replies may be clean JSON, JSON wrapped in prose or markdown code
// fences, partially malformed JSON, or no JSON at all. Recover scans for the
// first balanced object with a bracket-depth scanner that skips braces inside
// string literals, strips fence markers, and parses the candidate. The two
// failure modes are distinct error types so callers can report what the model
// actually said.
package recovery

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/kaptinlin/jsonrepair"
)

// Sentinels for errors.Is checks
var (
	ErrNoJSON        = errors.New("no JSON found in the response")
	ErrMalformedJSON = errors.New("JSON parsing failed")
)

// NoJSONError is returned when the text contains no object candidate at all.
// Text holds the full original input.
type NoJSONError struct {
	Text string
}

func (e *NoJSONError) Error() string { return ErrNoJSON.Error() }

// Is makes errors.Is(err, ErrNoJSON) true
func (e *NoJSONError) Is(target error) bool { return target == ErrNoJSON }

// MalformedJSONError is returned when a candidate was found but failed to parse
type MalformedJSONError struct {
	// Candidate is the isolated substring handed to the parser
	Candidate string
	// Text is the full original input
	Text string
	// Err is the parser's error
	Err error
}

func (e *MalformedJSONError) Error() string {
	return fmt.Sprintf("%s: %v", ErrMalformedJSON.Error(), e.Err)
}

// Is makes errors.Is(err, ErrMalformedJSON) true
func (e *MalformedJSONError) Is(target error) bool { return target == ErrMalformedJSON }

func (e *MalformedJSONError) Unwrap() error { return e.Err }

// Result is a successful recovery
type Result struct {
	// Value is the parsed object
	Value map[string]any
	// Candidate is the substring that was parsed
	Candidate string
	// Repaired is true when the candidate only parsed after JSON repair
	Repaired bool
}

// Recoverer holds recovery options. The zero value is ready to use.
type Recoverer struct {
	// Repair retries a malformed candidate through jsonrepair before giving up
	Repair bool
}

// Recover runs the default recoverer (no repair) over text
func Recover(text string) (Result, error) {
	return Recoverer{}.Recover(text)
}

// Recover extracts and parses the first JSON object in text.
// It is a pure function of its input.
func (r Recoverer) Recover(text string) (Result, error) {
	candidate, ok := FindObject(StripFence(text))
	if !ok {
		return Result{}, &NoJSONError{Text: text}
	}

	candidate = removeFenceMarkers(candidate)

	value, err := parseObject(candidate)
	if err == nil {
		return Result{Value: value, Candidate: candidate}, nil
	}

	if r.Repair {
		if repaired, repairErr := jsonrepair.JSONRepair(candidate); repairErr == nil {
			if value, reErr := parseObject(repaired); reErr == nil {
				return Result{Value: value, Candidate: candidate, Repaired: true}, nil
			}
		}
	}

	return Result{}, &MalformedJSONError{Candidate: candidate, Text: text, Err: err}
}

func parseObject(s string) (map[string]any, error) {
	var v map[string]any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	if v == nil {
		// "null" decodes into a nil map without error
		return nil, errors.New("candidate is null, not an object")
	}
	return v, nil
}

// StripFence removes a markdown code fence wrapping the whole text:
// a leading "```" or "```json" line and a trailing "```". Unfenced text is
// returned unchanged.
func StripFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return s
	}

	body := trimmed[3:]
	// drop the info string ("json", "JSON", ...) up to the end of the fence line
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		info := strings.TrimSpace(body[:nl])
		if info == "" || isFenceInfo(info) {
			body = body[nl+1:]
		}
	} else {
		body = strings.TrimPrefix(body, "json")
	}

	if end := strings.LastIndex(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

func isFenceInfo(info string) bool {
	for _, r := range info {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			return false
		}
	}
	return true
}

// removeFenceMarkers drops fence markers left inside a candidate, which
// happens when a model opens a fence mid-object
func removeFenceMarkers(s string) string {
	s = strings.ReplaceAll(s, "```json\n", "")
	s = strings.ReplaceAll(s, "\n```", "")
	return s
}

// FindObject returns the first brace-delimited object in s.
//
// Scanning starts at the first '{' and tracks nesting depth, ignoring braces
// inside double-quoted strings and honouring backslash escapes. If the object
// is never closed, the remainder of s from the opening brace is returned so
// the parser can report what went wrong. The boolean is false only when s
// contains no '{' at all.
func FindObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]

		if escaped {
			escaped = false
			continue
		}
		if inString {
			switch c {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}

	return s[start:], true
}
