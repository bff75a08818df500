package config

import (
	"strings"
	"time"

	"polyagent/internal/scheduler"
)

// Config 是 polyagent 的主配置载体，进程启动时构建一次后按值/指针传入各组件。
type Config struct {
	App        AppConfig        `toml:"app"`
	Model      ModelConfig      `toml:"model"`
	MCP        MCPConfig        `toml:"mcp"`
	Retry      RetryConfig      `toml:"retry"`
	Trading    TradingConfig    `toml:"trading"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Store      StoreConfig      `toml:"store"`
	ToolServer ToolServerConfig `toml:"toolserver"`
	Notify     NotifyConfig     `toml:"notify"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
	LLMLog   string `toml:"llm_log_path"`
	LLMDump  bool   `toml:"llm_dump_payload"`
	// TraceURLTemplate 把 trace ref 渲染为查询链接，%s 会被替换为 ref。
	TraceURLTemplate string `toml:"trace_url_template"`
}

// ModelConfig 描述 OpenAI 兼容的模型接口。
type ModelConfig struct {
	APIURL         string   `toml:"api_url"`
	APIKey         string   `toml:"api_key"`
	Model          string   `toml:"model"`
	Temperature    *float64 `toml:"temperature"`
	MaxTokens      int      `toml:"max_tokens"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
	MaxRetries     int      `toml:"max_retries"`
	MaxToolRounds  int      `toml:"max_tool_rounds"`
}

func (m ModelConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutSeconds) * time.Second
}

// MCPConfig 描述可选的远程工具服务器。
type MCPConfig struct {
	Enabled                bool   `toml:"enabled"`
	Name                   string `toml:"name"`
	URL                    string `toml:"url"`
	APIKey                 string `toml:"api_key"`
	TimeoutSeconds         int    `toml:"timeout_seconds"`
	CacheEnabled           bool   `toml:"cache_enabled"`
	CacheTTLSeconds        int    `toml:"cache_ttl_seconds"`
	BreakerThreshold       int    `toml:"breaker_threshold"`
	BreakerCooldownSeconds int    `toml:"breaker_cooldown_seconds"`
}

func (m MCPConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutSeconds) * time.Second
}

func (m MCPConfig) CacheTTL() time.Duration {
	return time.Duration(m.CacheTTLSeconds) * time.Second
}

func (m MCPConfig) BreakerCooldown() time.Duration {
	return time.Duration(m.BreakerCooldownSeconds) * time.Second
}

type RetryConfig struct {
	BaseDelayMs int     `toml:"base_delay_ms"`
	MaxDelayMs  int     `toml:"max_delay_ms"`
	Multiplier  float64 `toml:"multiplier"`
	Jitter      float64 `toml:"jitter"`
}

func (r RetryConfig) BaseDelay() time.Duration {
	return time.Duration(r.BaseDelayMs) * time.Millisecond
}

func (r RetryConfig) MaxDelay() time.Duration {
	return time.Duration(r.MaxDelayMs) * time.Millisecond
}

// TradingConfig 控制置信度阈值、下单金额与市场筛选。
type TradingConfig struct {
	BuyThreshold       float64 `toml:"buy_threshold"`
	SellThreshold      float64 `toml:"sell_threshold"`
	TradeAmountUSDC    float64 `toml:"trade_amount_usdc"`
	MaxTradeAmountUSDC float64 `toml:"max_trade_amount_usdc"`
	// LiveExecution 必须为 false，目前只实现了 dry-run 执行。
	LiveExecution   bool    `toml:"live_execution"`
	TopMarkets      int     `toml:"top_markets"`
	Concurrency     int     `toml:"concurrency"`
	MinLiquidity    float64 `toml:"min_liquidity"`
	MaxSpread       float64 `toml:"max_spread"`
	MonitorInterval string  `toml:"monitor_interval"`
}

// MonitorEvery 解析 MonitorInterval，格式非法时回退到默认值。
func (t TradingConfig) MonitorEvery() time.Duration {
	if d, ok := scheduler.ParseIntervalDuration(t.MonitorInterval); ok {
		return d
	}
	d, _ := scheduler.ParseIntervalDuration(defaultTradingMonitorInterval)
	return d
}

type PolymarketConfig struct {
	GammaURL       string `toml:"gamma_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	FetchLimit     int    `toml:"fetch_limit"`
}

func (p PolymarketConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

type StoreConfig struct {
	Path string `toml:"path"`
}

// ToolServerConfig 配置 cmd/toolserver 参考实现。
type ToolServerConfig struct {
	Addr            string `toml:"addr"`
	CoinGeckoURL    string `toml:"coingecko_url"`
	CoinGeckoAPIKey string `toml:"coingecko_api_key"`
}

// NotifyConfig 控制下单后的推送渠道。
type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
