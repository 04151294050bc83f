package mcpserver

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wilhg/contentstate/pkg/store"
	"github.com/wilhg/contentstate/pkg/store/memory"
	"github.com/wilhg/contentstate/pkg/userdata"
)

func connect(t *testing.T, backend store.Backend) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	srv, err := New(userdata.NewManager(backend, zerolog.Nop()), "test", zerolog.Nop())
	require.NoError(t, err)

	ct, st := mcp.NewInMemoryTransports()
	ss, err := srv.MCP().Connect(ctx, st, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0"}, nil)
	cs, err := client.Connect(ctx, ct, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func callTool[T any](t *testing.T, cs *mcp.ClientSession, name string, args map[string]any) (T, *mcp.CallToolResult) {
	t.Helper()
	var out T
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	if res.IsError || res.StructuredContent == nil {
		return out, res
	}
	raw, err := json.Marshal(res.StructuredContent)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &out))
	return out, res
}

func TestToolsAreListed(t *testing.T) {
	cs := connect(t, memory.New())
	res, err := cs.ListTools(context.Background(), nil)
	require.NoError(t, err)
	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"load_user_data", "save_user_data", "aggregate_user_data", "record_completion", "list_completions"}, names)
}

func TestSaveLoadAggregate(t *testing.T) {
	cs := connect(t, memory.New())

	for _, sub := range []string{"10", "2"} {
		ack, res := callTool[Ack](t, cs, "save_user_data", map[string]any{
			"user_id": "u1", "content_id": "c1", "data_type": "state", "sub_content_id": sub,
			"data": "s" + sub, "invalidate": false, "preload": true,
		})
		require.False(t, res.IsError)
		assert.True(t, ack.Success)
	}

	got, res := callTool[LoadResult](t, cs, "load_user_data", map[string]any{
		"user_id": "u1", "content_id": "c1", "data_type": "state", "sub_content_id": "2",
	})
	require.False(t, res.IsError)
	assert.Equal(t, LoadResult{Found: true, State: "s2"}, got)

	agg, res := callTool[AggregateResult](t, cs, "aggregate_user_data", map[string]any{"user_id": "u1", "content_id": "c1"})
	require.False(t, res.IsError)
	assert.True(t, agg.Enabled)
	assert.Equal(t, []userdata.DeliveryEntry{{"state": "s2"}, {"state": "s10"}}, agg.Entries)
}

func TestSaveRejectsNonBooleanPreload(t *testing.T) {
	cs := connect(t, memory.New())
	_, res := callTool[Ack](t, cs, "save_user_data", map[string]any{
		"user_id": "u1", "content_id": "c1", "data_type": "state",
		"data": "x", "invalidate": false, "preload": "true",
	})
	assert.True(t, res.IsError)

	got, _ := callTool[LoadResult](t, cs, "load_user_data", map[string]any{
		"user_id": "u1", "content_id": "c1", "data_type": "state",
	})
	assert.False(t, got.Found)
}

func TestCompletionTools(t *testing.T) {
	cs := connect(t, memory.New())
	ack, res := callTool[Ack](t, cs, "record_completion", map[string]any{
		"user_id": "u1", "content_id": "c1", "score": 3, "max_score": 5, "time": 42,
	})
	require.False(t, res.IsError)
	assert.True(t, ack.Success)

	list, res := callTool[ListCompletionsResult](t, cs, "list_completions", map[string]any{"user_id": "admin", "content_id": "c1"})
	require.False(t, res.IsError)
	assert.True(t, list.Enabled)
	require.Len(t, list.Completions, 1)
	assert.Equal(t, store.FinishedRecord{ContentID: "c1", UserID: "u1", Score: 3, MaxScore: 5, CompletionTime: 42}, list.Completions[0])
}

func TestUnconfiguredAggregate(t *testing.T) {
	cs := connect(t, nil)
	agg, res := callTool[AggregateResult](t, cs, "aggregate_user_data", map[string]any{"user_id": "u1", "content_id": "c1"})
	require.False(t, res.IsError)
	assert.False(t, agg.Enabled)
	assert.Empty(t, agg.Entries)
}
