package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensearch-project/mlagent/core"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	reg := prometheus.NewRegistry()
	cmd := newRootCmdWith(&rootOptions{registerer: reg, gatherer: reg})
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

const flowAgentYAML = `
name: lookup
type: FLOW
tools:
  - type: ConnectorTool
    name: search
    parameters:
      connector_id: search
`

func TestExecuteFlowAgentWithConnectors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Q string `json:"q"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"answer": "found " + body.Q})
	}))
	defer srv.Close()

	dir := t.TempDir()
	agentPath := writeFile(t, dir, "agent.yaml", flowAgentYAML)
	connPath := writeFile(t, dir, "connectors.yaml", `
- connector_id: search
  name: search
  protocol: http
  actions:
    - action_type: execute
      method: POST
      url: `+srv.URL+`
      request_body: '{"q": "${parameters.input}"}'
      response_filter: $.answer
`)

	out, err := runCLI(t, "execute", agentPath, "--connectors", connPath, "--input", "shoes")
	require.NoError(t, err)

	var res struct {
		Response    string `json:"response"`
		Termination string `json:"termination"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res), out)
	assert.Equal(t, "found shoes", res.Response)
	assert.Equal(t, "FINAL_ANSWER", res.Termination)
}

func TestExecuteMockConversationalAgent(t *testing.T) {
	dir := t.TempDir()
	agentPath := writeFile(t, dir, "agent.yaml", `
name: chat
type: CONVERSATIONAL
llm:
  provider: mock
  model_id: demo
`)

	out, err := runCLI(t, "execute", agentPath, "--param", "question=hi there")
	require.NoError(t, err)
	assert.Contains(t, out, "Mock response to: hi there")
}

func TestExecuteRejectsBadParam(t *testing.T) {
	dir := t.TempDir()
	agentPath := writeFile(t, dir, "agent.yaml", flowAgentYAML)

	_, err := runCLI(t, "execute", agentPath, "--param", "novalue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected key=value")
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	validPath := writeFile(t, dir, "valid.yaml", `
name: indices
type: FLOW
tools:
  - type: ListIndexTool
`)
	withTemplate := writeFile(t, dir, "templated.yaml", `
name: indices
type: FLOW
context_management_name: short-outputs
tools:
  - type: ListIndexTool
`)
	templates := writeFile(t, dir, "templates.yaml", `
- name: short-outputs
  hooks:
    POST_TOOL:
      - type: ToolsOutputTruncateManager
        config:
          max_output_length: 100
`)
	unknownTool := writeFile(t, dir, "unknown.yaml", `
name: broken
type: FLOW
tools:
  - type: NoSuchTool
`)

	out, err := runCLI(t, "validate", validPath)
	require.NoError(t, err)
	assert.Contains(t, out, `agent "indices" (FLOW) is valid`)

	_, err = runCLI(t, "validate", withTemplate)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrTemplateNotFound)

	_, err = runCLI(t, "validate", withTemplate, "--templates", templates)
	require.NoError(t, err)

	_, err = runCLI(t, "validate", unknownTool)
	require.ErrorIs(t, err, core.ErrValidation)
}

func TestValidateRequiresFile(t *testing.T) {
	_, err := runCLI(t, "validate")
	require.Error(t, err)

	_, err = runCLI(t, "validate", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestParseParams(t *testing.T) {
	got, err := parseParams([]string{"a=1", "b=x=y", "a=2", "empty="})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "2", "b": "x=y", "empty": ""}, got)

	_, err = parseParams([]string{"=v"})
	require.Error(t, err)
}

func TestVersionFlag(t *testing.T) {
	out, err := runCLI(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "mlagent dev")
}
