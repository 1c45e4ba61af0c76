package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dan-solli/entityx/pkg/schema"
)

func TestBuild_Default(t *testing.T) {
	s := schema.Object(
		schema.F("name", schema.Scalar("string")),
		schema.F("company", schema.Scalar("string")),
	)

	got := Build("Hello John, the invoice for $500 from ABC Company is due on Friday.", s)

	assert.Equal(t,
		`You are an entity extraction system. Given the following text: Hello John, the invoice for $500 from ABC Company is due on Friday., `+
			`Extract the following entities: {"name":"string","company":"string"}. Return the results in JSON format.`,
		got)
}

func TestBuild_EmptyText(t *testing.T) {
	got := Build("", schema.Object(schema.F("name", schema.Scalar(""))))
	assert.Contains(t, got, "Given the following text: , Extract")
}

func TestBuild_VerbatimEmbedding(t *testing.T) {
	text := "quotes \" braces {} and {{entities}} stay as-is"
	s := schema.Object(schema.F("gigs", schema.Array(schema.Object(schema.F("date", schema.Scalar("the date"))))))

	got := Build(text, s)
	assert.Contains(t, got, text)
	assert.Contains(t, got, `{"gigs":[{"date":"the date"}]}`)
}

func TestBuilder_CustomTemplateAndHint(t *testing.T) {
	b := Builder{
		Template:      "TEXT<{{text}}> SCHEMA<{{entities}}>",
		AskConfidence: true,
	}
	got := b.Build("abc", schema.Object(schema.F("x", schema.Scalar(""))))

	assert.True(t, strings.HasPrefix(got, `TEXT<abc> SCHEMA<{"x":""}>`))
	assert.True(t, strings.HasSuffix(got, ConfidenceHint))
}

func TestBuilder_SlotStringsInsideValuesStayLiteral(t *testing.T) {
	b := Builder{Template: "Entities: {{entities}}\nText: {{text}}"}
	s := schema.Object(schema.F("name", schema.Scalar("copy of {{text}}")))

	got := b.Build("HELLO", s)
	assert.Equal(t, "Entities: {\"name\":\"copy of {{text}}\"}\nText: HELLO", got)

	got = b.Build("see {{entities}} and {{text}}", s)
	assert.Equal(t, "Entities: {\"name\":\"copy of {{text}}\"}\nText: see {{entities}} and {{text}}", got)
}

func TestValidate(t *testing.T) {
	assert.True(t, Validate(DefaultTemplate))
	assert.False(t, Validate("only {{text}}"))
}
