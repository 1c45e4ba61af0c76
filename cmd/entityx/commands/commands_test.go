package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pterm/pterm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	pterm.DisableStyling()
	os.Exit(m.Run())
}

// fakeCompletionBackend answers /v1/completions with a fixed generated text
func fakeCompletionBackend(t *testing.T, text string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/completions" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"text": text}},
		})
	}))
	t.Cleanup(srv.Close)
	t.Setenv("ENTITYX_BACKEND_FAMILY", "completion")
	t.Setenv("ENTITYX_BACKEND_BASE_URL", srv.URL)
	return srv
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--env-file", "", "--log-level", "error"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeSuite(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "suite.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const johnSuite = `
cases:
  - name: Greeting
    text: "Hello, my name is John Doe from ACME."
    entities:
      name: string
      company: string
    expect:
      - {path: name, expected: John}
      - {path: company, expected: ACME}
`

func TestExtract_Inline(t *testing.T) {
	fakeCompletionBackend(t, "Here you go:\n```json\n{\"name\": \"John Doe\"}\n```")

	out, err := execute(t, "extract", "--entities", `{"name": ""}`, "Hello, my name is John Doe")
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, map[string]any{"name": "John Doe"}, got)
}

func TestExtract_DiagnosticIsPrinted(t *testing.T) {
	fakeCompletionBackend(t, "I don't know.")

	out, err := execute(t, "extract", "--entities", `{"name": ""}`, "nothing here")
	require.NoError(t, err)
	assert.Contains(t, out, "No JSON found in the response")
	assert.Contains(t, out, "I don't know.")
}

func TestExtract_SchemaFileYAML(t *testing.T) {
	fakeCompletionBackend(t, `{"gigs": [{"date": "24 janvier 2025"}]}`)
	path := filepath.Join(t.TempDir(), "schema.yaml")
	require.NoError(t, os.WriteFile(path, []byte("gigs:\n  - date: date\n"), 0o644))

	out, err := execute(t, "extract", "--schema", path, "La nuit de la lecture, 24 janvier 2025")
	require.NoError(t, err)
	assert.Contains(t, out, "24 janvier 2025")
}

func TestExtract_RequiresSchema(t *testing.T) {
	fakeCompletionBackend(t, "{}")

	_, err := execute(t, "extract", "text")
	assert.Error(t, err)
}

func TestTest_LocalSuiteStoresHistory(t *testing.T) {
	fakeCompletionBackend(t, `{"name": "John Doe", "company": "ACME Corp"}`)
	db := filepath.Join(t.TempDir(), "history.db")
	t.Setenv("ENTITYX_HARNESS_HISTORY_DB", db)

	out, err := execute(t, "test", "--local", "--suite", writeSuite(t, johnSuite))
	require.NoError(t, err)
	assert.Contains(t, out, "Greeting")
	assert.Contains(t, out, "Total Tests: 1\n")
	assert.Contains(t, out, "Passed: 1\n")
	assert.Contains(t, out, "Success Rate: 100.0%\n")

	out, err = execute(t, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "local")
	assert.Contains(t, out, "1/1")
}

func TestTest_StrictFailsOnFailedCase(t *testing.T) {
	fakeCompletionBackend(t, `{"name": "Someone Else", "company": "Other"}`)

	out, err := execute(t, "test", "--local", "--strict", "--no-history", "--suite", writeSuite(t, johnSuite))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 1 cases failed")
	assert.Contains(t, out, "Failed: 1\n")
}

func TestTest_AgainstEndpoint(t *testing.T) {
	endpoint := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/health" {
			_, _ = w.Write([]byte(`{"status":"healthy"}`))
			return
		}
		_, _ = w.Write([]byte(`{"name": "John", "company": "ACME"}`))
	}))
	defer endpoint.Close()

	out, err := execute(t, "test", "--no-history", "--endpoint", endpoint.URL+"/entity-extraction",
		"--suite", writeSuite(t, johnSuite))
	require.NoError(t, err)
	assert.Contains(t, out, "Passed: 1\n")
}

func TestTest_InvalidOverride(t *testing.T) {
	_, err := execute(t, "test", "--local", "--pass-ratio", "2", "--suite", writeSuite(t, johnSuite))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pass_ratio")
}

func TestHistory_ShowAndDelete(t *testing.T) {
	fakeCompletionBackend(t, `{"name": "John Doe", "company": "ACME"}`)
	db := filepath.Join(t.TempDir(), "history.db")

	t.Setenv("ENTITYX_HARNESS_HISTORY_DB", db)
	_, err := execute(t, "test", "--local", "--suite", writeSuite(t, johnSuite))
	require.NoError(t, err)

	list, err := execute(t, "history", "--db", db)
	require.NoError(t, err)
	id := firstRunID(t, list)

	out, err := execute(t, "history", "show", id, "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Greeting")
	assert.Contains(t, out, "Total Tests: 1\n")

	_, err = execute(t, "history", "rm", id, "--db", db)
	require.NoError(t, err)

	out, err = execute(t, "history", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "No stored runs")
}

func TestHistory_RequiresDatabase(t *testing.T) {
	_, err := execute(t, "history")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no history database")
}

// firstRunID picks the uuid out of the first data row of the runs table
func firstRunID(t *testing.T, table string) string {
	t.Helper()
	for _, line := range strings.Split(table, "\n") {
		for _, field := range strings.Fields(line) {
			if len(field) == 36 && strings.Count(field, "-") == 4 {
				return field
			}
		}
	}
	t.Fatalf("no run id in:\n%s", table)
	return ""
}
