package config

import (
	"net/url"
	"strings"

	"polyagent/internal/errs"
	"polyagent/internal/scheduler"
)

// validate runs the basic checks and returns *errs.ConfigurationError on failure.
func validate(c *Config) error {
	if err := c.Model.validate(); err != nil {
		return err
	}
	if err := c.MCP.validate(); err != nil {
		return err
	}
	if err := c.Retry.validate(); err != nil {
		return err
	}
	if err := c.Trading.validate(); err != nil {
		return err
	}
	if err := c.Polymarket.validate(); err != nil {
		return err
	}
	return c.Notify.validate()
}

func (m *ModelConfig) validate() error {
	if err := requireHTTPURL("model.api_url", m.APIURL); err != nil {
		return err
	}
	if strings.TrimSpace(m.Model) == "" {
		return errs.Configf("model.model cannot be empty")
	}
	if m.TimeoutSeconds <= 0 {
		return errs.Configf("model.timeout_seconds must be > 0")
	}
	if m.MaxRetries < 1 {
		return errs.Configf("model.max_retries must be >= 1")
	}
	if m.MaxToolRounds < 1 {
		return errs.Configf("model.max_tool_rounds must be >= 1")
	}
	if m.Temperature != nil && (*m.Temperature < 0 || *m.Temperature > 2) {
		return errs.Configf("model.temperature must be in [0,2]")
	}
	return nil
}

// The tool server is optional; its endpoint is only checked when enabled.
// toolserver.Config.Validate applies the same rules to the converted config.
func (m *MCPConfig) validate() error {
	if m.Enabled {
		if err := requireHTTPURL("mcp.url", m.URL); err != nil {
			return err
		}
		if m.TimeoutSeconds <= 0 {
			return errs.Configf("mcp.timeout_seconds must be > 0 when mcp is enabled")
		}
	}
	if m.CacheTTLSeconds < 0 {
		return errs.Configf("mcp.cache_ttl_seconds must be >= 0")
	}
	if m.BreakerThreshold < 0 || m.BreakerCooldownSeconds < 0 {
		return errs.Configf("mcp.breaker_* must be >= 0")
	}
	return nil
}

func (r *RetryConfig) validate() error {
	if r.BaseDelayMs < 0 || r.MaxDelayMs < 0 {
		return errs.Configf("retry delays must be >= 0")
	}
	if r.BaseDelayMs > r.MaxDelayMs {
		return errs.Configf("retry.base_delay_ms must be <= retry.max_delay_ms")
	}
	if r.Multiplier <= 1 {
		return errs.Configf("retry.multiplier must be > 1")
	}
	if r.Jitter < 0 || r.Jitter >= 1 {
		return errs.Configf("retry.jitter must be in [0,1)")
	}
	return nil
}

func (t *TradingConfig) validate() error {
	if t.BuyThreshold < 0 || t.BuyThreshold > 1 {
		return errs.Configf("trading.buy_threshold must be in [0,1]")
	}
	if t.SellThreshold < 0 || t.SellThreshold > 1 {
		return errs.Configf("trading.sell_threshold must be in [0,1]")
	}
	if t.TradeAmountUSDC <= 0 {
		return errs.Configf("trading.trade_amount_usdc must be > 0")
	}
	if t.MaxTradeAmountUSDC < t.TradeAmountUSDC {
		return errs.Configf("trading.max_trade_amount_usdc must be >= trading.trade_amount_usdc")
	}
	if t.LiveExecution {
		return errs.Configf("trading.live_execution is not supported; only dry-run execution is available")
	}
	if t.MaxSpread < 0 || t.MinLiquidity < 0 {
		return errs.Configf("trading.min_liquidity and trading.max_spread must be >= 0")
	}
	if t.TopMarkets < 1 || t.Concurrency < 1 {
		return errs.Configf("trading.top_markets and trading.concurrency must be >= 1")
	}
	if _, ok := scheduler.ParseIntervalDuration(t.MonitorInterval); !ok {
		return errs.Configf("trading.monitor_interval %q is not a valid interval", t.MonitorInterval)
	}
	return nil
}

func (p *PolymarketConfig) validate() error {
	if err := requireHTTPURL("polymarket.gamma_url", p.GammaURL); err != nil {
		return err
	}
	if p.TimeoutSeconds <= 0 {
		return errs.Configf("polymarket.timeout_seconds must be > 0")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	tg := n.Telegram
	if !tg.Enabled {
		return nil
	}
	var missing []string
	if strings.TrimSpace(tg.BotToken) == "" {
		missing = append(missing, "TELEGRAM_BOT_TOKEN")
	}
	if strings.TrimSpace(tg.ChatID) == "" {
		missing = append(missing, "TELEGRAM_CHAT_ID")
	}
	if len(missing) > 0 {
		return &errs.ConfigurationError{Msg: "notify.telegram is enabled but incomplete", MissingKeys: missing}
	}
	return nil
}

// RequireModelCredentials is checked by commands that call the model.
func (c *Config) RequireModelCredentials() error {
	if strings.TrimSpace(c.Model.APIKey) == "" {
		return &errs.ConfigurationError{
			Msg:         "model api key is required",
			MissingKeys: []string{"OPENAI_API_KEY"},
		}
	}
	return nil
}

func requireHTTPURL(key, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return errs.Configf("%s cannot be empty", key)
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errs.Configf("%s must be an http(s) URL: %q", key, raw)
	}
	return nil
}
