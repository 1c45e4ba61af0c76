package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dan-solli/entityx/pkg/extraction"
	"github.com/dan-solli/entityx/pkg/llm"
	"github.com/dan-solli/entityx/pkg/metrics"
	"github.com/dan-solli/entityx/pkg/schema"
)

type fakeCompleter struct {
	reply string
	err   error
}

func (f *fakeCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	return f.reply, f.err
}

type panickingPipeline struct{}

func (panickingPipeline) Run(ctx context.Context, text string, s schema.Schema) (*extraction.Result, error) {
	panic("nil map in fixture")
}

type opIDPipeline struct{ seen string }

func (p *opIDPipeline) Run(ctx context.Context, text string, s schema.Schema) (*extraction.Result, error) {
	p.seen = extraction.OperationID(ctx)
	return &extraction.Result{Value: map[string]any{}}, nil
}

func newTestServer(t *testing.T, backend llm.Completer) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(New(extraction.New(backend)).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url+"/entity-extraction", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var payload map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	return resp, payload
}

const validBody = `{"text": "Hello, my name is John Doe", "entities": {"name": "", "email": "email"}}`

func TestExtraction_Success(t *testing.T) {
	srv := newTestServer(t, &fakeCompleter{reply: "```json\n{\"name\": \"John Doe\", \"email\": null}\n```"})

	resp, payload := post(t, srv.URL, validBody)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, map[string]any{"name": "John Doe", "email": nil}, payload, "object is returned without an envelope")
	assert.NotEmpty(t, resp.Header.Get(RequestIDHeader))
}

func TestExtraction_MissingFields(t *testing.T) {
	srv := newTestServer(t, &fakeCompleter{reply: "{}"})

	for name, body := range map[string]string{
		"no text":       `{"entities": {"name": ""}}`,
		"no entities":   `{"text": "hi"}`,
		"null entities": `{"text": "hi", "entities": null}`,
		"not json":      `text=hi`,
		"empty body":    ``,
	} {
		t.Run(name, func(t *testing.T) {
			resp, payload := post(t, srv.URL, body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, "Missing required fields: text and entities", payload["error"])
		})
	}
}

func TestExtraction_EmptyTextIsAccepted(t *testing.T) {
	srv := newTestServer(t, &fakeCompleter{reply: `{"name": null}`})

	resp, payload := post(t, srv.URL, `{"text": "", "entities": {"name": ""}}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]any{"name": nil}, payload)
}

func TestExtraction_InvalidSchema(t *testing.T) {
	srv := newTestServer(t, &fakeCompleter{reply: "{}"})

	resp, payload := post(t, srv.URL, `{"text": "hi", "entities": {"name": 42}}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Missing required fields: text and entities", payload["error"])
	assert.NotEmpty(t, payload["details"])
}

func TestExtraction_NoJSONIsDiagnostic(t *testing.T) {
	srv := newTestServer(t, &fakeCompleter{reply: "I could not find any entities."})

	resp, payload := post(t, srv.URL, validBody)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "No JSON found in the response", payload["error"])
	assert.Equal(t, "I could not find any entities.", payload["extracted_text"])
}

func TestExtraction_MalformedJSONIsDiagnostic(t *testing.T) {
	srv := newTestServer(t, &fakeCompleter{reply: "Sure! {name: John}"})

	resp, payload := post(t, srv.URL, validBody)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "JSON parsing failed", payload["error"])
	assert.Equal(t, "Sure! {name: John}", payload["extracted_text"])
	assert.Equal(t, "{name: John}", payload["candidate"])
}

func TestExtraction_UpstreamError(t *testing.T) {
	srv := newTestServer(t, &fakeCompleter{err: &llm.UpstreamError{
		Backend:    llm.FamilyGenerate,
		StatusCode: 502,
		Body:       `{"error": "model not loaded"}`,
	}})

	resp, payload := post(t, srv.URL, validBody)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "llm backend error: 502", payload["error"])
	assert.Equal(t, map[string]any{"error": "model not loaded"}, payload["details"])
}

func TestExtraction_UpstreamPlainBody(t *testing.T) {
	srv := newTestServer(t, &fakeCompleter{err: &llm.UpstreamError{StatusCode: 503, Body: "overloaded"}})

	resp, payload := post(t, srv.URL, validBody)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "overloaded", payload["details"])
}

func TestExtraction_TransportError(t *testing.T) {
	srv := newTestServer(t, &fakeCompleter{err: &llm.TransportError{
		Backend: llm.FamilyCompletion,
		Err:     errors.New("dial tcp 127.0.0.1:8080: connect: connection refused"),
	}})

	resp, payload := post(t, srv.URL, validBody)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.True(t, strings.HasPrefix(payload["error"].(string), "request to llm backend failed:"))
	assert.Contains(t, payload["error"], "connection refused")
}

func TestExtraction_InternalError(t *testing.T) {
	srv := newTestServer(t, &fakeCompleter{err: errors.New("unexpected state")})

	resp, payload := post(t, srv.URL, validBody)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "Internal server error: unexpected state", payload["error"])
}

func TestExtraction_PanicBecomes500(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	srv := httptest.NewServer(New(panickingPipeline{}, WithLogger(zap.New(core))).Handler())
	defer srv.Close()

	resp, payload := post(t, srv.URL, validBody)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "Internal server error: nil map in fixture", payload["error"])
	assert.Equal(t, 1, logs.FilterMessage("handler panicked").Len())

	// the server keeps serving
	health, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestRequestID_Propagates(t *testing.T) {
	p := &opIDPipeline{}
	srv := httptest.NewServer(New(p).Handler())
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/entity-extraction", strings.NewReader(validBody))
	require.NoError(t, err)
	req.Header.Set(RequestIDHeader, "req-123")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "req-123", resp.Header.Get(RequestIDHeader))
	assert.Equal(t, "req-123", p.seen)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &fakeCompleter{})

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var payload map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]string{"status": "healthy"}, payload)
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, &fakeCompleter{})

	resp, err := http.Get(srv.URL + "/entity-extraction")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	collector := metrics.NewCollector()
	ext := extraction.New(&fakeCompleter{reply: `{"name": "x"}`}, extraction.WithMetrics(collector))
	srv := httptest.NewServer(New(ext, WithMetricsHandler(collector.Handler())).Handler())
	defer srv.Close()

	post(t, srv.URL, validBody)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(b), "entityx_operations_total")
}

func TestMetricsEndpoint_DisabledByDefault(t *testing.T) {
	srv := newTestServer(t, &fakeCompleter{})

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListenAndServe_ShutsDownOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New(&opIDPipeline{})

	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop after cancel")
	}
}
