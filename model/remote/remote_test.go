package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensearch-project/mlagent/connector"
	"github.com/opensearch-project/mlagent/core"
	"github.com/opensearch-project/mlagent/model"
)

func TestRemoteModel_Generate(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer from-spec", r.Header.Get("Authorization"))
		b, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(b, &got))
		_, _ = w.Write([]byte(`{"output":{"text":"{\"final_answer\":\"done\"}"}}`))
	}))
	defer srv.Close()

	conn := &connector.Connector{
		ID:         "llm",
		Credential: map[string]string{"key": "from-connector"},
		Actions: []connector.Action{{
			ActionType:     connector.ActionPredict,
			URL:            srv.URL,
			Headers:        map[string]string{"Authorization": "Bearer ${credential.key}"},
			RequestBody:    `{"system":"${parameters.system_prompt}","messages":${parameters.messages},"tools":"${parameters.tool_names}","t":"${parameters.temperature}"}`,
			ResponseFilter: "$.output.text",
		}},
	}
	store := connector.NewMemoryStore(conn)
	spec := &core.ModelSpec{
		ModelID:    "claude",
		Credential: map[string]string{"key": "from-spec"},
		Parameters: map[string]string{ParamConnectorID: "llm", "temperature": "0.1"},
	}

	m, err := Factory(store, connector.NewHTTPInvoker())(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, "claude", m.Info().Name)

	resp, err := m.Generate(context.Background(), model.Request{
		SystemPrompt: "Answer \"briefly\"",
		Messages: []core.Message{
			core.NewTextMessage(core.RoleUser, "list indices"),
			{Role: core.RoleTool, Name: "ListIndexTool", Content: "idx-a"},
		},
		Tools: []model.ToolDefinition{{Name: "ListIndexTool", Description: "lists indices"}},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"final_answer":"done"}`, resp.Message.Content)
	assert.Equal(t, core.RoleAssistant, resp.Message.Role)

	assert.Equal(t, `Answer "briefly"`, got["system"])
	assert.Equal(t, "ListIndexTool", got["tools"])
	assert.Equal(t, "0.1", got["t"])
	msgs := got["messages"].([]any)
	require.Len(t, msgs, 3)
	assert.Equal(t, "user", msgs[2].(map[string]any)["role"])
}

func TestRemoteModel_MissingPredictAction(t *testing.T) {
	conn := &connector.Connector{ID: "tools-only", Actions: []connector.Action{{ActionType: connector.ActionExecute, URL: "http://x"}}}
	m := New(conn, connector.NewHTTPInvoker(), nil)

	_, err := m.Generate(context.Background(), model.Request{Messages: []core.Message{core.NewTextMessage(core.RoleUser, "hi")}})
	assert.True(t, errors.Is(err, core.ErrNoSuchAction))
}

func TestFactory_UnknownConnector(t *testing.T) {
	_, err := Factory(connector.NewMemoryStore(), connector.NewHTTPInvoker())(context.Background(), &core.ModelSpec{ModelID: "nope"})
	assert.True(t, errors.Is(err, core.ErrNotFound))
}
