package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskdeck/taskdeck/internal/app"
	"github.com/taskdeck/taskdeck/internal/task"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	c, err := app.NewInMemory("mcp-test", io.Discard)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return NewServer(c)
}

// runSession feeds line-delimited requests through the server and
// returns one decoded response per output line.
func runSession(t *testing.T, s *Server, requests ...string) []JSONRPCResponse {
	t.Helper()
	in := strings.NewReader(strings.Join(requests, "\n") + "\n")
	var out bytes.Buffer
	require.NoError(t, s.Run(context.Background(), in, &out))

	var responses []JSONRPCResponse
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if line == "" {
			continue
		}
		var resp JSONRPCResponse
		require.NoError(t, json.Unmarshal([]byte(line), &resp), "bad response line: %s", line)
		responses = append(responses, resp)
	}
	return responses
}

func toolResultText(t *testing.T, resp JSONRPCResponse) map[string]any {
	t.Helper()
	require.Nil(t, resp.Error, "unexpected error: %+v", resp.Error)
	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var result ToolResult
	require.NoError(t, json.Unmarshal(raw, &result))
	require.NotEmpty(t, result.Content)
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(result.Content[0].Text), &payload))
	return payload
}

func TestInitializeHandshake(t *testing.T) {
	s := newTestServer(t)
	resps := runSession(t, s,
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
	)
	require.Len(t, resps, 1, "notifications get no response")

	raw, err := json.Marshal(resps[0].Result)
	require.NoError(t, err)
	var init InitializeResult
	require.NoError(t, json.Unmarshal(raw, &init))
	assert.Equal(t, "2024-11-05", init.ProtocolVersion)
	assert.Equal(t, "taskdeck", init.ServerInfo.Name)
	require.NotNil(t, init.Capabilities.Tools)
}

func TestToolsList(t *testing.T) {
	s := newTestServer(t)
	resps := runSession(t, s, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	require.Len(t, resps, 1)

	raw, err := json.Marshal(resps[0].Result)
	require.NoError(t, err)
	var list ToolsListResult
	require.NoError(t, json.Unmarshal(raw, &list))

	names := make(map[string]bool, len(list.Tools))
	for _, tool := range list.Tools {
		names[tool.Name] = true
		assert.NotEmpty(t, tool.InputSchema, "tool %s needs a schema", tool.Name)
	}
	for _, want := range []string{
		"task_create", "task_start", "task_complete", "task_next",
		"dep_add", "plan_apply", "task_search",
	} {
		assert.True(t, names[want], "missing tool %s", want)
	}
}

func TestToolCallCreateAndGet(t *testing.T) {
	s := newTestServer(t)
	resps := runSession(t, s,
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"task_create","arguments":{"name":"from mcp","spec":"details"}}}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"task_get","arguments":{"id":1}}}`,
	)
	require.Len(t, resps, 2)

	created := toolResultText(t, resps[0])
	assert.Equal(t, "from mcp", created["name"])
	assert.Equal(t, string(task.OwnerAI), created["owner"], "MCP callers create ai-owned tasks")

	got := toolResultText(t, resps[1])
	assert.Equal(t, "from mcp", got["name"])
}

func TestToolCallEngineErrorBecomesJSONRPCError(t *testing.T) {
	s := newTestServer(t)
	resps := runSession(t, s,
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"task_get","arguments":{"id":99}}}`,
	)
	require.Len(t, resps, 1)
	require.NotNil(t, resps[0].Error)
	assert.Equal(t, ErrCodeInternal, resps[0].Error.Code)
	assert.Contains(t, resps[0].Error.Message, "not found")
}

func TestToolCallOwnershipGate(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	human, err := s.c.Tasks.Create(ctx, task.CreateInput{Name: "human task", Owner: task.OwnerHuman})
	require.NoError(t, err)
	_, err = s.c.Tasks.Start(ctx, human.ID)
	require.NoError(t, err)

	resps := runSession(t, s,
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"task_complete","arguments":{}}}`,
	)
	require.Len(t, resps, 1)
	require.NotNil(t, resps[0].Error, "AI caller must not complete human-owned work")
	assert.Contains(t, resps[0].Error.Message, "human-owned")
}

func TestToolCallPlanApplyTriState(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	focus, err := s.c.Tasks.Create(ctx, task.CreateInput{Name: "focus"})
	require.NoError(t, err)
	_, err = s.c.Tasks.Start(ctx, focus.ID)
	require.NoError(t, err)

	resps := runSession(t, s,
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"plan_apply","arguments":{"tasks":[{"name":"inferred"},{"name":"forced","parent_id":null}]}}}`,
	)
	require.Len(t, resps, 1)
	payload := toolResultText(t, resps[0])
	assert.Equal(t, float64(2), payload["created"])

	all, err := s.c.Tasks.Find(ctx, task.Filter{})
	require.NoError(t, err)
	byName := make(map[string]task.Task)
	for _, tk := range all {
		byName[tk.Name] = tk
	}
	require.NotNil(t, byName["inferred"].ParentID, "absent parent_id inherits the focus")
	assert.Equal(t, focus.ID, *byName["inferred"].ParentID)
	assert.Nil(t, byName["forced"].ParentID, "explicit null forces a root")
}

func TestUnknownMethod(t *testing.T) {
	s := newTestServer(t)
	resps := runSession(t, s, `{"jsonrpc":"2.0","id":1,"method":"bogus/method"}`)
	require.Len(t, resps, 1)
	require.NotNil(t, resps[0].Error)
	assert.Equal(t, ErrCodeMethodNotFound, resps[0].Error.Code)
}

func TestParseError(t *testing.T) {
	s := newTestServer(t)
	resps := runSession(t, s, `this is not json`)
	require.Len(t, resps, 1)
	require.NotNil(t, resps[0].Error)
	assert.Equal(t, ErrCodeParse, resps[0].Error.Code)
}

func TestParseErrorCarriesNullID(t *testing.T) {
	s := newTestServer(t)
	in := strings.NewReader("this is not json\n")
	var out bytes.Buffer
	require.NoError(t, s.Run(context.Background(), in, &out))

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(out.Bytes()), &raw))
	id, ok := raw["id"]
	require.True(t, ok, "response must carry an id field")
	assert.Equal(t, "null", string(id))
}

func TestPing(t *testing.T) {
	s := newTestServer(t)
	resps := runSession(t, s, `{"jsonrpc":"2.0","id":7,"method":"ping"}`)
	require.Len(t, resps, 1)
	assert.Nil(t, resps[0].Error)
	assert.Equal(t, float64(7), resps[0].ID)
}
