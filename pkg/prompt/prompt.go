// Package prompt builds the completion prompt for entity extraction
package prompt

import (
	"strings"

	"github.com/dan-solli/entityx/pkg/schema"
)

// DefaultTemplate is the instruction wrapped around the text and schema.
// {{text}} and {{entities}} are replaced verbatim; nothing is escaped.
const DefaultTemplate = "You are an entity extraction system. Given the following text: {{text}}, " +
	"Extract the following entities: {{entities}}. Return the results in JSON format."

// ConfidenceHint asks the model for the {value, confidence} node shape
const ConfidenceHint = ` For each entity, return an object of the form {"value": ..., "confidence": <number between 0 and 1>}; use null as the value when the entity is not present.`

const (
	textSlot     = "{{text}}"
	entitiesSlot = "{{entities}}"
)

// Builder composes prompts from a template. The zero value uses DefaultTemplate.
type Builder struct {
	// Template holds the {{text}} and {{entities}} slots
	Template string
	// AskConfidence appends ConfidenceHint to every prompt
	AskConfidence bool
}

// Build returns the prompt for text and s using the default builder
func Build(text string, s schema.Schema) string {
	return Builder{}.Build(text, s)
}

// Build returns the prompt for text and s. Empty text is valid input.
func (b Builder) Build(text string, s schema.Schema) string {
	tmpl := b.Template
	if tmpl == "" {
		tmpl = DefaultTemplate
	}

	// one pass: slot strings inside the text or the schema hints are never rescanned
	out := strings.NewReplacer(textSlot, text, entitiesSlot, s.String()).Replace(tmpl)

	if b.AskConfidence {
		out += ConfidenceHint
	}
	return out
}

// Validate reports whether a template carries both slots
func Validate(tmpl string) bool {
	return strings.Contains(tmpl, textSlot) && strings.Contains(tmpl, entitiesSlot)
}
