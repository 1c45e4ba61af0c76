// Package schema models caller-supplied entity schemas.
//
// A schema node is one of three variants:
//   - Scalar: a free-text hint describing a single value ("the sender's name")
//   - Object: an ordered set of named child schemas
//   - Array: a single template schema meaning "zero or more entities of this shape"
//
// Schemas decode from JSON (`{"gigs": [{"date": "..."}]}`) and YAML, keep the
// declaration order of object fields, and are immutable once built.
package schema

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/dan-solli/entityx/pkg/jsonpath"
)

// Kind identifies the variant of a schema node
type Kind int

const (
	KindInvalid Kind = iota
	KindScalar
	KindObject
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	default:
		return "invalid"
	}
}

// Field is a named child of an object schema
type Field struct {
	Name   string
	Schema Schema
}

// Schema is an entity schema node. The zero value is invalid.
type Schema struct {
	kind   Kind
	hint   string
	fields []Field
	elem   *Schema
}

// Scalar returns a leaf schema carrying a description hint (may be empty)
func Scalar(hint string) Schema {
	return Schema{kind: KindScalar, hint: hint}
}

// Object returns an object schema with fields in the given order
func Object(fields ...Field) Schema {
	cp := make([]Field, len(fields))
	copy(cp, fields)
	return Schema{kind: KindObject, fields: cp}
}

// Array returns an array-of-template schema
func Array(template Schema) Schema {
	t := template
	return Schema{kind: KindArray, elem: &t}
}

// F is shorthand for building a Field
func F(name string, s Schema) Field {
	return Field{Name: name, Schema: s}
}

// Kind reports the variant of s
func (s Schema) Kind() Kind { return s.kind }

// Hint returns the description of a scalar schema
func (s Schema) Hint() string { return s.hint }

// Fields returns a copy of an object schema's fields in declaration order
func (s Schema) Fields() []Field {
	cp := make([]Field, len(s.fields))
	copy(cp, s.fields)
	return cp
}

// Field looks up a child of an object schema by name
func (s Schema) Field(name string) (Schema, bool) {
	for _, f := range s.fields {
		if f.Name == name {
			return f.Schema, true
		}
	}
	return Schema{}, false
}

// Template returns the element schema of an array schema
func (s Schema) Template() (Schema, bool) {
	if s.kind != KindArray || s.elem == nil {
		return Schema{}, false
	}
	return *s.elem, true
}

// IsValid reports whether s was built by a constructor or decoder
func (s Schema) IsValid() bool { return s.kind != KindInvalid }

// String renders s as compact JSON in declaration order
func (s Schema) String() string {
	b, err := s.MarshalJSON()
	if err != nil {
		return "<invalid schema>"
	}
	return string(b)
}

// MarshalJSON encodes the schema preserving field order
func (s Schema) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := s.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s Schema) encode(buf *bytes.Buffer) error {
	switch s.kind {
	case KindScalar:
		b, err := json.Marshal(s.hint)
		if err != nil {
			return err
		}
		buf.Write(b)
	case KindObject:
		buf.WriteByte('{')
		for i, f := range s.fields {
			if i > 0 {
				buf.WriteByte(',')
			}
			k, err := json.Marshal(f.Name)
			if err != nil {
				return err
			}
			buf.Write(k)
			buf.WriteByte(':')
			if err := f.Schema.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case KindArray:
		buf.WriteByte('[')
		if err := s.elem.encode(buf); err != nil {
			return err
		}
		buf.WriteByte(']')
	default:
		return errors.New("cannot encode invalid schema")
	}
	return nil
}

// Parse decodes a JSON schema document
func Parse(data []byte) (Schema, error) {
	var s Schema
	if err := s.UnmarshalJSON(data); err != nil {
		return Schema{}, err
	}
	return s, nil
}

// UnmarshalJSON decodes a schema from its JSON form, keeping object key order
func (s *Schema) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	parsed, err := decodeJSON(dec, "")
	if err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return errors.New("schema: unexpected data after top-level value")
	}
	*s = parsed
	return nil
}

func decodeJSON(dec *json.Decoder, path string) (Schema, error) {
	tok, err := dec.Token()
	if err != nil {
		return Schema{}, errors.Wrap(err, "schema: read token")
	}

	switch t := tok.(type) {
	case string:
		return Scalar(t), nil
	case json.Delim:
		switch t {
		case '{':
			var fields []Field
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Schema{}, errors.Wrap(err, "schema: read key")
				}
				key, ok := keyTok.(string)
				if !ok {
					return Schema{}, errors.Newf("schema: unexpected key token %v", keyTok)
				}
				child, err := decodeJSON(dec, joinPath(path, key))
				if err != nil {
					return Schema{}, err
				}
				fields = setField(fields, key, child)
			}
			if _, err := dec.Token(); err != nil {
				return Schema{}, errors.Wrap(err, "schema: read object end")
			}
			return Schema{kind: KindObject, fields: fields}, nil
		case '[':
			if !dec.More() {
				return Schema{}, errors.Newf("schema: array at %q must contain exactly one template, got none", displayPath(path))
			}
			elem, err := decodeJSON(dec, path+".[0]")
			if err != nil {
				return Schema{}, err
			}
			if dec.More() {
				return Schema{}, errors.Newf("schema: array at %q must contain exactly one template", displayPath(path))
			}
			if _, err := dec.Token(); err != nil {
				return Schema{}, errors.Wrap(err, "schema: read array end")
			}
			return Array(elem), nil
		}
	}
	return Schema{}, errors.Newf("schema: unsupported value %v at %q (want string, object or one-element array)", tok, displayPath(path))
}

// UnmarshalYAML decodes a schema from YAML, keeping mapping order
func (s *Schema) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := decodeYAML(node, "")
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func decodeYAML(node *yaml.Node, path string) (Schema, error) {
	switch node.Kind {
	case yaml.DocumentNode:
		if len(node.Content) != 1 {
			return Schema{}, errors.New("schema: empty YAML document")
		}
		return decodeYAML(node.Content[0], path)
	case yaml.AliasNode:
		return decodeYAML(node.Alias, path)
	case yaml.ScalarNode:
		if node.ShortTag() != "!!str" {
			return Schema{}, errors.Newf("schema: unsupported %s value %q at %q (want string)", node.ShortTag(), node.Value, displayPath(path))
		}
		return Scalar(node.Value), nil
	case yaml.MappingNode:
		var fields []Field
		for i := 0; i+1 < len(node.Content); i += 2 {
			key := node.Content[i].Value
			child, err := decodeYAML(node.Content[i+1], joinPath(path, key))
			if err != nil {
				return Schema{}, err
			}
			fields = setField(fields, key, child)
		}
		return Schema{kind: KindObject, fields: fields}, nil
	case yaml.SequenceNode:
		if len(node.Content) != 1 {
			return Schema{}, errors.Newf("schema: array at %q must contain exactly one template, got %d", displayPath(path), len(node.Content))
		}
		elem, err := decodeYAML(node.Content[0], path+".[0]")
		if err != nil {
			return Schema{}, err
		}
		return Array(elem), nil
	}
	return Schema{}, errors.Newf("schema: unsupported YAML node at %q", displayPath(path))
}

// setField replaces an existing field of the same name in place, or appends
func setField(fields []Field, name string, s Schema) []Field {
	for i := range fields {
		if fields[i].Name == name {
			fields[i].Schema = s
			return fields
		}
	}
	return append(fields, Field{Name: name, Schema: s})
}

func joinPath(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "." + key
}

func displayPath(p string) string {
	if p == "" {
		return "<root>"
	}
	return p
}

// WalkFunc is called for every node visited by Walk
type WalkFunc func(path []jsonpath.Segment, s Schema) error

// Walk visits s and its descendants depth-first in declaration order.
// Array templates are visited at index 0.
func (s Schema) Walk(fn WalkFunc) error {
	return s.walk(nil, fn)
}

func (s Schema) walk(path []jsonpath.Segment, fn WalkFunc) error {
	if err := fn(path, s); err != nil {
		return err
	}
	switch s.kind {
	case KindObject:
		for _, f := range s.fields {
			child := append(append([]jsonpath.Segment{}, path...), jsonpath.Key(f.Name))
			if err := f.Schema.walk(child, fn); err != nil {
				return err
			}
		}
	case KindArray:
		child := append(append([]jsonpath.Segment{}, path...), jsonpath.Index(0))
		if err := s.elem.walk(child, fn); err != nil {
			return err
		}
	}
	return nil
}

// LeafPaths returns the path of every scalar node, in declaration order
func (s Schema) LeafPaths() []string {
	var paths []string
	_ = s.Walk(func(path []jsonpath.Segment, n Schema) error {
		if n.kind == KindScalar {
			paths = append(paths, jsonpath.Join(path...))
		}
		return nil
	})
	return paths
}
