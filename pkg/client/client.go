// Package client calls a running entity-extraction endpoint.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/dan-solli/entityx/pkg/schema"
)

// DefaultTimeout bounds one extraction round trip
const DefaultTimeout = 30 * time.Second

// StatusError is returned when the endpoint answers with a non-2xx status.
// Payload holds the decoded JSON body when there was one.
type StatusError struct {
	StatusCode int
	Payload    map[string]any
	Body       string
}

func (e *StatusError) Error() string {
	if msg, ok := e.Payload["error"].(string); ok && msg != "" {
		return fmt.Sprintf("HTTP request failed: %d: %s", e.StatusCode, msg)
	}
	return fmt.Sprintf("HTTP request failed: %d", e.StatusCode)
}

// Client posts extraction requests to an entityx server
type Client struct {
	// Endpoint is the full URL, e.g. http://localhost:8081/entity-extraction
	Endpoint string
	client   *http.Client
}

// New creates a client. A zero timeout uses DefaultTimeout.
func New(endpoint string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		Endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type extractionRequest struct {
	Text     string        `json:"text"`
	Entities schema.Schema `json:"entities"`
}

// Extract sends text and s to the endpoint and returns the decoded object.
// A 200 diagnostic payload (error + extracted_text) is returned as a value;
// non-2xx statuses are *StatusError.
func (c *Client) Extract(ctx context.Context, text string, s schema.Schema) (map[string]any, error) {
	body, err := json.Marshal(extractionRequest{Text: text, Entities: s})
	if err != nil {
		return nil, errors.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "HTTP request failed")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read response body")
	}

	var payload map[string]any
	decodeErr := json.Unmarshal(respBody, &payload)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Payload: payload, Body: string(respBody)}
	}
	if decodeErr != nil {
		return nil, errors.Wrap(decodeErr, "invalid JSON response")
	}
	if payload == nil {
		return nil, errors.New("invalid JSON response: null")
	}
	return payload, nil
}

// Health calls GET /health next to the extraction endpoint
func (c *Client) Health(ctx context.Context) error {
	url := strings.TrimSuffix(c.Endpoint, "/entity-extraction") + "/health"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(err, "create request")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "health check failed")
	}
	defer resp.Body.Close()

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return errors.Wrap(err, "decode health response")
	}
	if resp.StatusCode != http.StatusOK || body.Status != "healthy" {
		return errors.Newf("endpoint unhealthy: status %d %q", resp.StatusCode, body.Status)
	}
	return nil
}
