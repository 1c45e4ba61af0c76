// Package suite loads harness cases from YAML and carries the built-in suite.
package suite

import (
	"bytes"
	"context"
	_ "embed"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/dan-solli/entityx/pkg/assertion"
	"github.com/dan-solli/entityx/pkg/harness"
	"github.com/dan-solli/entityx/pkg/schema"
)

//go:embed builtin.yaml
var builtinYAML []byte

// File is the on-disk suite format
type File struct {
	Cases []CaseSpec `yaml:"cases"`
}

// CaseSpec is one declarative case
type CaseSpec struct {
	Name      string                  `yaml:"name"`
	Text      string                  `yaml:"text"`
	Entities  schema.Schema           `yaml:"entities"`
	Expect    []assertion.Expectation `yaml:"expect"`
	PassRatio float64                 `yaml:"pass_ratio,omitempty"`
}

// Load decodes a suite from r
func Load(r io.Reader) ([]harness.Case, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, errors.Wrap(err, "decode suite")
	}
	if len(f.Cases) == 0 {
		return nil, errors.New("suite has no cases")
	}

	cases := make([]harness.Case, 0, len(f.Cases))
	seen := map[string]bool{}
	for i, c := range f.Cases {
		if c.Name == "" {
			return nil, errors.Newf("case %d has no name", i)
		}
		if seen[c.Name] {
			return nil, errors.Newf("duplicate case name %q", c.Name)
		}
		seen[c.Name] = true
		if !c.Entities.IsValid() {
			return nil, errors.Newf("case %q has no entities", c.Name)
		}

		cases = append(cases, harness.Case{
			Name:         c.Name,
			Text:         c.Text,
			Schema:       c.Entities,
			Expectations: c.Expect,
			PassRatio:    c.PassRatio,
		})
	}
	return cases, nil
}

// LoadFile decodes a suite file
func LoadFile(path string) ([]harness.Case, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open suite")
	}
	defer f.Close()
	return Load(f)
}

// Builtin returns the embedded example suite followed by the error-handling case
func Builtin() []harness.Case {
	cases, err := Load(bytes.NewReader(builtinYAML))
	if err != nil {
		panic(errors.Wrap(err, "embedded suite is invalid"))
	}
	return append(cases, ErrorHandling())
}

// ErrorHandling exercises edge inputs. Empty text passes when the reply is an
// error (payload or failure) or every entity value is null; "Hi" passes when
// a result without an error field comes back. Half the checks must pass.
func ErrorHandling() harness.Case {
	edgeSchema := schema.Object(
		schema.F("name", schema.Scalar("string")),
		schema.F("company", schema.Scalar("string")),
	)

	return harness.Case{
		Name:      "Error Handling",
		PassRatio: 0.5,
		Run: func(ctx context.Context, ext harness.Extractor) (harness.Outcome, error) {
			out := harness.Outcome{Total: 2}

			result, err := ext.Extract(ctx, "", edgeSchema)
			empty := assertion.Verdict{Path: "<empty text>"}
			if err != nil || hasError(result) || allValuesNull(result) {
				empty.Passed, empty.Outcome, empty.Reason = true, assertion.OutcomePass, "empty text handled gracefully"
				out.Passed++
			} else {
				empty.Outcome, empty.Reason = assertion.OutcomeMismatch, "empty text should return no entities"
			}
			out.Verdicts = append(out.Verdicts, empty)

			result, err = ext.Extract(ctx, "Hi", edgeSchema)
			short := assertion.Verdict{Path: "<short text>"}
			switch {
			case err != nil:
				short.Outcome, short.Reason = assertion.OutcomeExtractionError, "short text failed: "+err.Error()
			case len(result) > 0 && !hasError(result):
				short.Passed, short.Outcome, short.Reason = true, assertion.OutcomePass, "short text processed without error"
				out.Passed++
			default:
				short.Outcome, short.Reason = assertion.OutcomeExtractionError, "short text should be processable"
			}
			out.Verdicts = append(out.Verdicts, short)

			return out, nil
		},
	}
}

func hasError(result map[string]any) bool {
	_, ok := assertion.ErrorField(result)
	return ok
}

// allValuesNull reports whether every {value, ...} node has a null value.
// Bare scalars are ignored, so a result of only scalars counts as null.
func allValuesNull(result map[string]any) bool {
	for _, v := range result {
		node, ok := v.(map[string]any)
		if !ok {
			continue
		}
		if node["value"] != nil {
			return false
		}
	}
	return true
}
