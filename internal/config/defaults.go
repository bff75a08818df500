package config

import (
	"strings"
)

// 默认值常量
const (
	defaultAppEnv              = "dev"
	defaultAppLogLevel         = "info"
	defaultAppHTTPAddr         = ":9991"
	defaultTraceURLTemplate    = "https://platform.openai.com/traces/trace?trace_id=%s"
	defaultModelAPIURL         = "https://api.openai.com/v1"
	defaultModelName           = "gpt-4o"
	defaultModelTemperature    = 0.1
	defaultModelMaxTokens      = 10000
	defaultModelTimeout        = 120
	defaultModelMaxRetries     = 3
	defaultModelMaxToolRounds  = 8
	defaultMCPName             = "remote-mcp"
	defaultMCPTimeout          = 60
	defaultMCPCacheTTL         = 3600
	defaultMCPBreakerThreshold = 3
	defaultMCPBreakerCooldown  = 300
	defaultRetryBaseDelayMs    = 1000
	defaultRetryMaxDelayMs     = 60000
	defaultRetryMultiplier     = 2.0
	defaultRetryJitter         = 0.1

	defaultTradingThreshold       = 0.7
	defaultTradingAmountUSDC      = 10.0
	defaultTradingMaxAmountUSDC   = 100.0
	defaultTradingTopMarkets      = 20
	defaultTradingConcurrency     = 4
	defaultTradingMinLiquidity    = 100.0
	defaultTradingMaxSpread       = 0.1
	defaultTradingMonitorInterval = "1h"

	defaultGammaURL         = "https://gamma-api.polymarket.com"
	defaultGammaTimeout     = 20
	defaultGammaFetchLimit  = 200
	defaultStorePath        = "data/polyagent.db"
	defaultToolServerAddr   = ":8811"
	defaultCoinGeckoURL     = "https://api.coingecko.com/api/v3"
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Model.applyDefaults(keys)
	c.MCP.applyDefaults(keys)
	c.Retry.applyDefaults(keys)
	c.Trading.applyDefaults(keys)
	c.Polymarket.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.ToolServer.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.trace_url_template", &a.TraceURLTemplate, defaultTraceURLTemplate),
	)
}

func (m *ModelConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("model.api_url", &m.APIURL, defaultModelAPIURL),
		stringFieldDefault("model.model", &m.Model, defaultModelName),
		fieldDefault{
			key:  "model.temperature",
			need: func() bool { return m.Temperature == nil },
			apply: func() {
				t := defaultModelTemperature
				m.Temperature = &t
			},
		},
		intFieldDefault("model.max_tokens", &m.MaxTokens, defaultModelMaxTokens),
		intFieldDefault("model.timeout_seconds", &m.TimeoutSeconds, defaultModelTimeout),
		intFieldDefault("model.max_retries", &m.MaxRetries, defaultModelMaxRetries),
		intFieldDefault("model.max_tool_rounds", &m.MaxToolRounds, defaultModelMaxToolRounds),
	)
	// 上游接口对 max_tokens 有硬上限。
	if m.MaxTokens > defaultModelMaxTokens {
		m.MaxTokens = defaultModelMaxTokens
	}
}

func (m *MCPConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("mcp.name", &m.Name, defaultMCPName),
		intFieldDefault("mcp.timeout_seconds", &m.TimeoutSeconds, defaultMCPTimeout),
		boolFieldDefault("mcp.cache_enabled", &m.CacheEnabled, true),
		fieldDefault{
			key:   "mcp.cache_ttl_seconds",
			need:  func() bool { return m.CacheTTLSeconds == 0 },
			apply: func() { m.CacheTTLSeconds = defaultMCPCacheTTL },
		},
		intFieldDefault("mcp.breaker_threshold", &m.BreakerThreshold, defaultMCPBreakerThreshold),
		intFieldDefault("mcp.breaker_cooldown_seconds", &m.BreakerCooldownSeconds, defaultMCPBreakerCooldown),
	)
	// 仅通过环境变量提供地址时也视为启用工具服务器。
	if !keys.isSet("mcp.enabled") && strings.TrimSpace(m.URL) != "" {
		m.Enabled = true
	}
}

func (r *RetryConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("retry.base_delay_ms", &r.BaseDelayMs, defaultRetryBaseDelayMs),
		intFieldDefault("retry.max_delay_ms", &r.MaxDelayMs, defaultRetryMaxDelayMs),
		floatFieldDefault("retry.multiplier", &r.Multiplier, defaultRetryMultiplier),
		fieldDefault{
			key:   "retry.jitter",
			need:  func() bool { return r.Jitter == 0 },
			apply: func() { r.Jitter = defaultRetryJitter },
		},
	)
}

func (t *TradingConfig) applyDefaults(keys keySet) {
	if t == nil {
		return
	}
	applyFieldDefaults(keys,
		floatFieldDefault("trading.buy_threshold", &t.BuyThreshold, defaultTradingThreshold),
		floatFieldDefault("trading.sell_threshold", &t.SellThreshold, defaultTradingThreshold),
		floatFieldDefault("trading.trade_amount_usdc", &t.TradeAmountUSDC, defaultTradingAmountUSDC),
		floatFieldDefault("trading.max_trade_amount_usdc", &t.MaxTradeAmountUSDC, defaultTradingMaxAmountUSDC),
		intFieldDefault("trading.top_markets", &t.TopMarkets, defaultTradingTopMarkets),
		intFieldDefault("trading.concurrency", &t.Concurrency, defaultTradingConcurrency),
		floatFieldDefault("trading.min_liquidity", &t.MinLiquidity, defaultTradingMinLiquidity),
		floatFieldDefault("trading.max_spread", &t.MaxSpread, defaultTradingMaxSpread),
		stringFieldDefault("trading.monitor_interval", &t.MonitorInterval, defaultTradingMonitorInterval),
	)
}

func (p *PolymarketConfig) applyDefaults(keys keySet) {
	if p == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("polymarket.gamma_url", &p.GammaURL, defaultGammaURL),
		intFieldDefault("polymarket.timeout_seconds", &p.TimeoutSeconds, defaultGammaTimeout),
		intFieldDefault("polymarket.fetch_limit", &p.FetchLimit, defaultGammaFetchLimit),
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys, stringFieldDefault("store.path", &s.Path, defaultStorePath))
}

func (t *ToolServerConfig) applyDefaults(keys keySet) {
	if t == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("toolserver.addr", &t.Addr, defaultToolServerAddr),
		stringFieldDefault("toolserver.coingecko_url", &t.CoinGeckoURL, defaultCoinGeckoURL),
	)
}

// 辅助函数

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
