package cryptotools

import (
	"context"
	"encoding/json"

	"polyagent/internal/logger"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	ServerName    = "crypto-price-server"
	ServerVersion = "1.0.0"
)

// PriceSource is satisfied by *Client.
type PriceSource interface {
	CurrentPrice(ctx context.Context, coin, vs string) (CurrentPrice, error)
	History(ctx context.Context, coin string, days int, vs string) (History, error)
	MarketData(ctx context.Context, coin string) (MarketData, error)
}

// NewServer builds an MCP server carrying the three price tools.
func NewServer(src PriceSource) *server.MCPServer {
	s := server.NewMCPServer(ServerName, ServerVersion,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)
	Register(s, src)
	return s
}

// Register adds get_current_price, get_historical_data and get_market_data to s.
func Register(s *server.MCPServer, src PriceSource) {
	s.AddTool(mcp.NewTool("get_current_price",
		mcp.WithDescription("Get current price and 24h data for a cryptocurrency"),
		mcp.WithString("coin_id", mcp.Required(), mcp.Description("CoinGecko coin ID (e.g., bitcoin, ethereum)")),
		mcp.WithString("vs_currency", mcp.Description("Currency to compare against (default: usd)"), mcp.DefaultString("usd")),
	), handleCurrentPrice(src))

	s.AddTool(mcp.NewTool("get_historical_data",
		mcp.WithDescription("Get historical price data and statistics"),
		mcp.WithString("coin_id", mcp.Required(), mcp.Description("CoinGecko coin ID")),
		mcp.WithNumber("days", mcp.Description("Number of days of historical data (default: 30)"), mcp.DefaultNumber(30)),
		mcp.WithString("vs_currency", mcp.Description("Currency to compare against (default: usd)"), mcp.DefaultString("usd")),
	), handleHistory(src))

	s.AddTool(mcp.NewTool("get_market_data",
		mcp.WithDescription("Get comprehensive market data including ATH, market cap, etc."),
		mcp.WithString("coin_id", mcp.Required(), mcp.Description("CoinGecko coin ID")),
	), handleMarketData(src))
}

func handleCurrentPrice(src PriceSource) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		coin, err := request.RequireString("coin_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		out, err := src.CurrentPrice(ctx, coin, request.GetString("vs_currency", "usd"))
		return jsonResult("get_current_price", out, err)
	}
}

func handleHistory(src PriceSource) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		coin, err := request.RequireString("coin_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		out, err := src.History(ctx, coin, request.GetInt("days", 30), request.GetString("vs_currency", "usd"))
		return jsonResult("get_historical_data", out, err)
	}
}

func handleMarketData(src PriceSource) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		coin, err := request.RequireString("coin_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		out, err := src.MarketData(ctx, coin)
		return jsonResult("get_market_data", out, err)
	}
}

// jsonResult reports upstream failures as tool errors so the model sees them.
func jsonResult(tool string, v any, err error) (*mcp.CallToolResult, error) {
	if err != nil {
		logger.Warnf("[toolserver] %s failed: %v", tool, err)
		return mcp.NewToolResultError(err.Error()), nil
	}
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(raw)), nil
}
