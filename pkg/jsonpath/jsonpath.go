// Package jsonpath resolves dotted/bracket-indexed paths against decoded JSON values
package jsonpath

import (
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// Segment is one step of a path: either a mapping key or a sequence index
type Segment struct {
	Key     string
	Index   int
	IsIndex bool
}

// String renders the segment the way it appears in a path
func (s Segment) String() string {
	if s.IsIndex {
		return "[" + strconv.Itoa(s.Index) + "]"
	}
	return s.Key
}

// Key returns a mapping-key segment
func Key(name string) Segment {
	return Segment{Key: name}
}

// Index returns a sequence-index segment
func Index(i int) Segment {
	return Segment{Index: i, IsIndex: true}
}

// Parse splits a path such as "gigs.[0].date" into segments.
// An empty path yields no segments. A bracketed segment whose content is not
// an integer is an error; Resolve treats it as not found instead.
func Parse(path string) ([]Segment, error) {
	if path == "" {
		return nil, nil
	}

	parts := strings.Split(path, ".")
	segments := make([]Segment, 0, len(parts))
	for _, part := range parts {
		if isBracketed(part) {
			i, err := strconv.Atoi(part[1 : len(part)-1])
			if err != nil {
				return nil, errors.Wrapf(err, "invalid index segment %q in path %q", part, path)
			}
			segments = append(segments, Index(i))
			continue
		}
		segments = append(segments, Key(part))
	}
	return segments, nil
}

// Join renders segments back into a dotted path
func Join(segments ...Segment) string {
	parts := make([]string, len(segments))
	for i, s := range segments {
		parts[i] = s.String()
	}
	return strings.Join(parts, ".")
}

// Resolve walks v along path and returns the sub-value found there.
// The boolean is false when any step is missing: an absent key, an index out
// of range, or a step into a value of the wrong kind. Absence is a normal
// outcome, never an error.
func Resolve(v any, path string) (any, bool) {
	if path == "" {
		return v, true
	}

	current := v
	for _, part := range strings.Split(path, ".") {
		var ok bool
		if isBracketed(part) {
			i, err := strconv.Atoi(part[1 : len(part)-1])
			if err != nil {
				return nil, false
			}
			current, ok = index(current, i)
		} else {
			current, ok = lookup(current, part)
		}
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// ResolveSegments is Resolve over pre-parsed segments
func ResolveSegments(v any, segments []Segment) (any, bool) {
	current := v
	for _, s := range segments {
		var ok bool
		if s.IsIndex {
			current, ok = index(current, s.Index)
		} else {
			current, ok = lookup(current, s.Key)
		}
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func isBracketed(part string) bool {
	return len(part) >= 2 && part[0] == '[' && part[len(part)-1] == ']'
}

func index(v any, i int) (any, bool) {
	seq, ok := v.([]any)
	if !ok || i < 0 || i >= len(seq) {
		return nil, false
	}
	return seq[i], true
}

func lookup(v any, key string) (any, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	val, ok := m[key]
	return val, ok
}
