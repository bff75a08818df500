package toolserver

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEchoServer(t *testing.T) string {
	t.Helper()
	s := server.NewMCPServer("echo", "0.1.0", server.WithToolCapabilities(true))
	s.AddTool(
		mcp.NewTool("get_current_price",
			mcp.WithDescription("current price for a coin"),
			mcp.WithString("coin_id", mcp.Required(), mcp.Description("coingecko id")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			coin, err := req.RequireString("coin_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return mcp.NewToolResultText(fmt.Sprintf("%s=42000", coin)), nil
		},
	)
	ts := server.NewTestServer(s)
	t.Cleanup(ts.Close)
	return ts.URL + "/sse"
}

func TestMCPHandle_ConnectListAndCall(t *testing.T) {
	endpoint := newEchoServer(t)
	cache := NewToolCache(time.Minute)
	m := NewManager(NewMCPConnector(cache))
	cfg := Config{Name: "echo", URL: endpoint, Timeout: 5 * time.Second, CacheEnabled: true}

	av := m.Probe(context.Background(), cfg)
	require.Equal(t, Available, av.Kind)
	h := av.Handle
	defer h.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, h.Connect(ctx))
	assert.Equal(t, StatusConnected, h.Info().Status)

	tools, err := h.Tools(ctx)
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "get_current_price", tools[0].Name)
	assert.Contains(t, string(tools[0].Parameters), "coin_id")

	cached, ok := cache.Get(endpoint)
	require.True(t, ok)
	assert.Equal(t, tools, cached)

	out, err := h.CallTool(ctx, "get_current_price", map[string]any{"coin_id": "bitcoin"})
	require.NoError(t, err)
	assert.Equal(t, "bitcoin=42000", out)

	_, err = h.CallTool(ctx, "get_current_price", map[string]any{})
	assert.Error(t, err)

	require.NoError(t, h.Close())
	assert.Equal(t, StatusClosed, h.Info().Status)
	assert.Error(t, h.Connect(ctx))
}

func TestMCPHandle_ReconnectsAfterAttemptContextEnds(t *testing.T) {
	endpoint := newEchoServer(t)
	h, err := NewMCPConnector(nil).New(Config{URL: endpoint, Timeout: 5 * time.Second})
	require.NoError(t, err)
	defer h.Close()

	first, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	require.NoError(t, h.Connect(first))
	cancel()

	second, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel2()
	require.NoError(t, h.Connect(second))
	out, err := h.CallTool(second, "get_current_price", map[string]any{"coin_id": "eth"})
	require.NoError(t, err)
	assert.Equal(t, "eth=42000", out)
}

func TestMCPHandle_UnreachableServer(t *testing.T) {
	h, err := NewMCPConnector(nil).New(Config{URL: "http://127.0.0.1:1/sse", Timeout: time.Second})
	require.NoError(t, err)
	defer h.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err = h.Connect(ctx)
	require.Error(t, err)
	_, err = h.CallTool(ctx, "get_current_price", nil)
	assert.Error(t, err)
}

func TestToolCache_Expires(t *testing.T) {
	c := NewToolCache(20 * time.Millisecond)
	c.Put("k", nil)
	_, ok := c.Get("k")
	assert.True(t, ok)
	time.Sleep(60 * time.Millisecond)
	_, ok = c.Get("k")
	assert.False(t, ok)

	var nilCache *ToolCache
	_, ok = nilCache.Get("k")
	assert.False(t, ok)
}

func TestManager_InspectClosesHandle(t *testing.T) {
	endpoint := newEchoServer(t)
	m := NewManager(NewMCPConnector(nil))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rep := m.Inspect(ctx, Config{Name: "echo", URL: endpoint, Timeout: 5 * time.Second})
	assert.Equal(t, "available", rep.Availability)
	assert.Equal(t, []string{"get_current_price"}, rep.Tools)
	assert.Equal(t, StatusConnected, rep.Info.Status)
	assert.Equal(t, "echo", rep.Info.ServerName)

	missing := NewManager(nil).Inspect(ctx, Config{})
	assert.Equal(t, "unavailable", missing.Availability)
	assert.Equal(t, StatusUnavailable, missing.Info.Status)
}
