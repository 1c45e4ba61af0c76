package llm

import (
	"context"
	"fmt"
	"net"

	"github.com/cockroachdb/errors"
)

// UpstreamError means the backend answered, but not with something usable:
// a non-2xx status, or an envelope missing the expected substructure.
type UpstreamError struct {
	Backend    Family
	StatusCode int // zero for envelope errors on a 2xx reply
	Body       string
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("llm backend error: %d", e.StatusCode)
	}
	return fmt.Sprintf("llm backend %s returned an unusable envelope: %s", e.Backend, e.Message)
}

// TransportError means the backend could not be reached or did not answer in time
type TransportError struct {
	Backend Family
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("request to llm backend failed: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Timeout reports whether the failure was a deadline
func (e *TransportError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

func envelopeError(backend Family, body []byte, format string, args ...any) *UpstreamError {
	return &UpstreamError{
		Backend: backend,
		Body:    truncate(string(body), 2000),
		Message: fmt.Sprintf(format, args...),
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
