package extraction

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/dan-solli/entityx/pkg/llm"
	"github.com/dan-solli/entityx/pkg/recovery"
)

// Error kinds, stable for metric labels, trace records and log fields
const (
	KindValidation    = "validation"
	KindUpstream      = "upstream"
	KindTransport     = "transport"
	KindTimeout       = "timeout"
	KindNoJSON        = "no_json"
	KindMalformedJSON = "malformed_json"
	KindInternal      = "internal"
)

// ErrValidation marks requests that are missing text or entities
var ErrValidation = errors.New("Missing required fields: text and entities")

// ValidationError reports a request the pipeline refuses to run
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return ErrValidation.Error()
	}
	return ErrValidation.Error() + " (" + e.Reason + ")"
}

// Is makes errors.Is(err, ErrValidation) true
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Classify inspects an error and returns its kind.
// Unknown errors are internal.
func Classify(err error) string {
	if err == nil {
		return ""
	}

	if errors.Is(err, ErrValidation) {
		return KindValidation
	}
	if errors.Is(err, recovery.ErrNoJSON) {
		return KindNoJSON
	}
	if errors.Is(err, recovery.ErrMalformedJSON) {
		return KindMalformedJSON
	}

	var te *llm.TransportError
	if errors.As(err, &te) {
		if te.Timeout() {
			return KindTimeout
		}
		return KindTransport
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	var ue *llm.UpstreamError
	if errors.As(err, &ue) {
		return KindUpstream
	}

	return KindInternal
}

// IsDiagnostic reports whether err is a recovery failure, which the
// endpoint answers with a 200 diagnostic payload rather than an error status
func IsDiagnostic(err error) bool {
	return errors.Is(err, recovery.ErrNoJSON) || errors.Is(err, recovery.ErrMalformedJSON)
}

// Diagnostic builds the payload for a recovery failure:
// {"error": ..., "extracted_text": <full reply>} plus the candidate and
// parser details for malformed JSON. ok is false for other errors.
func Diagnostic(err error) (payload map[string]any, ok bool) {
	var noJSON *recovery.NoJSONError
	if errors.As(err, &noJSON) {
		return map[string]any{
			"error":          "No JSON found in the response",
			"extracted_text": noJSON.Text,
		}, true
	}

	var malformed *recovery.MalformedJSONError
	if errors.As(err, &malformed) {
		return map[string]any{
			"error":          "JSON parsing failed",
			"extracted_text": malformed.Text,
			"candidate":      malformed.Candidate,
			"details":        malformed.Err.Error(),
		}, true
	}

	return nil, false
}
