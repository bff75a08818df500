package toolserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"polyagent/internal/errs"
	"polyagent/internal/gateway/provider"
	"polyagent/internal/logger"
)

const (
	clientName    = "polyagent"
	clientVersion = "1.0.0"
)

// MCPConnector dials tool servers over MCP's SSE transport.
type MCPConnector struct {
	cache *ToolCache
}

// NewMCPConnector shares cache across every handle it creates; cache may be nil.
func NewMCPConnector(cache *ToolCache) *MCPConnector {
	return &MCPConnector{cache: cache}
}

func (c *MCPConnector) New(cfg Config) (Handle, error) {
	h := &mcpHandle{cfg: cfg}
	if cfg.CacheEnabled {
		h.cache = c.cache
	}
	// Build once up front so malformed endpoints fail at construction.
	cli, err := h.newClient()
	if err != nil {
		return nil, err
	}
	h.client = cli
	return h, nil
}

// mcpHandle starts a fresh session on every Connect: the SSE stream is bound
// to the context it was started with, which ends with each retry attempt.
type mcpHandle struct {
	cfg   Config
	cache *ToolCache

	mu         sync.Mutex
	client     *client.Client
	dialed     bool
	started    bool
	closed     bool
	serverName string
}

func (h *mcpHandle) newClient() (*client.Client, error) {
	var opts []transport.ClientOption
	if h.cfg.APIKey != "" {
		opts = append(opts, client.WithHeaders(map[string]string{
			"Authorization": "Bearer " + h.cfg.APIKey,
		}))
	}
	return client.NewSSEMCPClient(h.cfg.URL, opts...)
}

func (h *mcpHandle) Connect(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errs.NewToolServerError(h.cfg.URL, errors.New("handle already closed"), false)
	}
	if h.dialed {
		_ = h.client.Close()
		cli, err := h.newClient()
		if err != nil {
			return errs.NewToolServerError(h.cfg.URL, err, true)
		}
		h.client = cli
		h.started = false
	}
	h.dialed = true
	if err := h.client.Start(ctx); err != nil {
		return errs.NewToolServerError(h.cfg.URL, fmt.Errorf("start: %w", err), true)
	}
	h.started = true

	initCtx, cancel := context.WithTimeout(ctx, h.cfg.Timeout)
	defer cancel()
	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{Name: clientName, Version: clientVersion}
	res, err := h.client.Initialize(initCtx, req)
	if err != nil {
		return errs.NewToolServerError(h.cfg.URL, fmt.Errorf("initialize: %w", err), true)
	}
	if res != nil {
		h.serverName = res.ServerInfo.Name
	}
	logger.Debugf("[toolserver] connected to %s (server=%s)", h.cfg.displayName(), h.serverName)
	return nil
}

func (h *mcpHandle) Tools(ctx context.Context) ([]provider.Tool, error) {
	if tools, ok := h.cache.Get(h.cfg.URL); ok {
		return tools, nil
	}
	cli, err := h.session()
	if err != nil {
		return nil, err
	}
	listCtx, cancel := context.WithTimeout(ctx, h.cfg.Timeout)
	defer cancel()
	res, err := cli.ListTools(listCtx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, errs.NewToolServerError(h.cfg.URL, fmt.Errorf("list tools: %w", err), true)
	}
	tools := make([]provider.Tool, 0, len(res.Tools))
	for _, t := range res.Tools {
		tools = append(tools, convertTool(t))
	}
	h.cache.Put(h.cfg.URL, tools)
	return tools, nil
}

func (h *mcpHandle) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	cli, err := h.session()
	if err != nil {
		return "", err
	}
	callCtx, cancel := context.WithTimeout(ctx, h.cfg.Timeout)
	defer cancel()
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	res, err := cli.CallTool(callCtx, req)
	if err != nil {
		return "", errs.NewToolServerError(h.cfg.URL, fmt.Errorf("call %s: %w", name, err), true)
	}
	text := contentText(res.Content)
	if res.IsError {
		return "", errs.Permanent(fmt.Errorf("tool %s failed: %s", name, text))
	}
	return text, nil
}

func (h *mcpHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	if h.client == nil || !h.dialed {
		return nil
	}
	return h.client.Close()
}

func (h *mcpHandle) Info() ServerInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	status := StatusAvailable
	switch {
	case h.closed:
		status = StatusClosed
	case h.started:
		status = StatusConnected
	}
	return ServerInfo{
		Status:       status,
		Name:         h.cfg.displayName(),
		URL:          h.cfg.URL,
		CacheEnabled: h.cfg.CacheEnabled,
		Timeout:      h.cfg.Timeout.String(),
		ServerName:   h.serverName,
	}
}

func (h *mcpHandle) session() (*client.Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || !h.started {
		return nil, errs.NewToolServerError(h.cfg.URL, errors.New("not connected"), true)
	}
	return h.client, nil
}

func convertTool(t mcp.Tool) provider.Tool {
	var params json.RawMessage
	if len(t.RawInputSchema) > 0 {
		params = t.RawInputSchema
	} else if raw, err := json.Marshal(t.InputSchema); err == nil {
		params = raw
	}
	return provider.Tool{Name: t.Name, Description: t.Description, Parameters: params}
}

func contentText(items []mcp.Content) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		switch c := item.(type) {
		case mcp.TextContent:
			parts = append(parts, c.Text)
		case *mcp.TextContent:
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}
