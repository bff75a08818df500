package app

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"polyagent/internal/config"
	"polyagent/internal/decision"
	"polyagent/internal/executor"
	"polyagent/internal/gateway/notifier"
	"polyagent/internal/gateway/polymarket"
	"polyagent/internal/gateway/provider"
	"polyagent/internal/logger"
	"polyagent/internal/metrics"
	"polyagent/internal/pipeline"
	"polyagent/internal/pkg/circuit"
	"polyagent/internal/pkg/retry"
	"polyagent/internal/store"
	"polyagent/internal/store/gormstore"
	"polyagent/internal/toolserver"
	"polyagent/internal/trader"
	apihttp "polyagent/internal/transport/http/api"
)

// AppBuilder assembles components from config. Every constructor can be replaced through options.
type AppBuilder struct {
	cfg *config.Config

	modelFn   func(config.ModelConfig) (provider.ModelProvider, error)
	marketsFn func(config.PolymarketConfig, retry.Policy) (trader.MarketSource, error)
	storeFn   func(config.StoreConfig) (store.DecisionLog, error)
	toolsFn   func(config.MCPConfig, *metrics.Recorder) *toolserver.Manager
}

type AppBuilderOption func(*AppBuilder)

// WithModelProvider replaces the OpenAI client.
func WithModelProvider(p provider.ModelProvider) AppBuilderOption {
	return func(b *AppBuilder) {
		b.modelFn = func(config.ModelConfig) (provider.ModelProvider, error) { return p, nil }
	}
}

// WithMarketSource replaces the Gamma client.
func WithMarketSource(src trader.MarketSource) AppBuilderOption {
	return func(b *AppBuilder) {
		b.marketsFn = func(config.PolymarketConfig, retry.Policy) (trader.MarketSource, error) { return src, nil }
	}
}

// WithToolConnector replaces the MCP connector; nil disables tool servers.
func WithToolConnector(c toolserver.Connector) AppBuilderOption {
	return func(b *AppBuilder) {
		b.toolsFn = func(cfg config.MCPConfig, rec *metrics.Recorder) *toolserver.Manager {
			return toolserver.NewManager(c, managerOptions(cfg, rec)...)
		}
	}
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:       cfg,
		modelFn:   buildModelProvider,
		marketsFn: buildMarketSource,
		storeFn:   buildDecisionLog,
		toolsFn:   buildToolManager,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	recorder := metrics.New()
	base := baseRetryPolicy(cfg, recorder)

	model, err := b.modelFn(cfg.Model)
	if err != nil {
		return nil, err
	}
	tools := b.toolsFn(cfg.MCP, recorder)
	toolCfg := toolserver.Config{}
	if cfg.MCP.Enabled {
		toolCfg = toolserver.FromConfig(cfg.MCP)
		if err := toolCfg.Validate(); err != nil {
			return nil, err
		}
	}

	decisions, err := b.storeFn(cfg.Store)
	if err != nil {
		return nil, err
	}
	closeOnErr := func(err error) (*App, error) {
		_ = decisions.Close()
		return nil, err
	}

	analysisPolicy := base
	analysisPolicy.Timeout = cfg.Model.Timeout()
	pipe, err := pipeline.New(pipeline.Options{
		Model:            model,
		Tools:            tools,
		ToolConfig:       toolCfg,
		Retry:            analysisPolicy,
		MaxTokens:        cfg.Model.MaxTokens,
		Temperature:      cfg.Model.Temperature,
		TraceURLTemplate: cfg.App.TraceURLTemplate,
		Observer:         decision.Observers{decisions, recorder},
	})
	if err != nil {
		return closeOnErr(err)
	}

	askPolicy := analysisPolicy
	askPolicy.Name = "model.ask"

	marketPolicy := base
	marketPolicy.Name = "polymarket"
	markets, err := b.marketsFn(cfg.Polymarket, marketPolicy)
	if err != nil {
		return closeOnErr(err)
	}

	engine, err := decision.NewEngine(decision.Policy{
		BuyThreshold:       cfg.Trading.BuyThreshold,
		SellThreshold:      cfg.Trading.SellThreshold,
		TradeAmountUSDC:    cfg.Trading.TradeAmountUSDC,
		MaxTradeAmountUSDC: cfg.Trading.MaxTradeAmountUSDC,
	})
	if err != nil {
		return closeOnErr(err)
	}
	exec := executor.NewDryRunExecutor(cfg.Trading.MaxTradeAmountUSDC, decisions, recorder)

	tr, err := trader.New(trader.Options{
		Markets:      markets,
		Analyzer:     pipe,
		Engine:       engine,
		Executor:     exec,
		Recorder:     decisions,
		Observer:     recorder,
		Notifier:     buildNotifier(cfg.Notify),
		TopMarkets:   cfg.Trading.TopMarkets,
		Concurrency:  cfg.Trading.Concurrency,
		MinLiquidity: cfg.Trading.MinLiquidity,
		MaxSpread:    cfg.Trading.MaxSpread,
	})
	if err != nil {
		return closeOnErr(err)
	}

	api, err := apihttp.NewServer(apihttp.ServerConfig{
		Addr: cfg.App.HTTPAddr,
		Routes: &apihttp.Router{
			Evaluator:     tr,
			Inspector:     tools,
			ToolConfig:    toolCfg,
			Decisions:     decisions,
			AnalyzeBudget: 2 * cfg.Model.Timeout(),
		},
		Metrics: recorder.Handler(),
	})
	if err != nil {
		return closeOnErr(fmt.Errorf("初始化 HTTP 接口失败: %w", err))
	}

	logger.Infof("✓ 模型 %s，工具服务器 %s", model.ID(), toolSummary(cfg.MCP))
	return &App{
		cfg:       cfg,
		trader:    tr,
		api:       api,
		decisions: decisions,
		recorder:  recorder,
		tools:     tools,
		toolCfg:   toolCfg,
		model:     model,
		markets:   markets,
		askRetry:  askPolicy,
		Summary:   newStartupSummary(cfg, model.ID()),
	}, nil
}

func baseRetryPolicy(cfg *config.Config, obs retry.Observer) retry.Policy {
	return retry.Policy{
		MaxAttempts:       cfg.Model.MaxRetries,
		BaseDelay:         cfg.Retry.BaseDelay(),
		MaxDelay:          cfg.Retry.MaxDelay(),
		BackoffMultiplier: cfg.Retry.Multiplier,
		JitterFraction:    cfg.Retry.Jitter,
		Observer:          obs,
	}
}

func buildModelProvider(cfg config.ModelConfig) (provider.ModelProvider, error) {
	return &provider.OpenAIChatClient{
		BaseURL:       cfg.APIURL,
		APIKey:        cfg.APIKey,
		Model:         cfg.Model,
		Timeout:       cfg.Timeout(),
		MaxToolRounds: cfg.MaxToolRounds,
	}, nil
}

func buildMarketSource(cfg config.PolymarketConfig, pol retry.Policy) (trader.MarketSource, error) {
	client, err := polymarket.NewClient(cfg, pol)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func buildDecisionLog(cfg config.StoreConfig) (store.DecisionLog, error) {
	st, err := gormstore.NewGormStore(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("初始化决策日志存储失败: %w", err)
	}
	path := cfg.Path
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	logger.Infof("✓ 决策日志写入 %s", path)
	return st, nil
}

// buildNotifier returns nil when no channel is enabled.
func buildNotifier(cfg config.NotifyConfig) notifier.TextNotifier {
	if !cfg.Telegram.Enabled {
		return nil
	}
	logger.Infof("[app] telegram 通知已启用 chat=%s", cfg.Telegram.ChatID)
	return notifier.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
}

func buildToolManager(cfg config.MCPConfig, rec *metrics.Recorder) *toolserver.Manager {
	if !cfg.Enabled {
		return toolserver.NewManager(nil, managerOptions(cfg, rec)...)
	}
	ttl := time.Duration(0)
	if cfg.CacheEnabled {
		ttl = cfg.CacheTTL()
	}
	connector := toolserver.NewMCPConnector(toolserver.NewToolCache(ttl))
	return toolserver.NewManager(connector, managerOptions(cfg, rec)...)
}

func managerOptions(cfg config.MCPConfig, rec *metrics.Recorder) []toolserver.Option {
	opts := []toolserver.Option{toolserver.WithStatusObserver(rec)}
	if cfg.BreakerThreshold > 0 {
		cb := circuit.NewCircuitBreaker("toolserver", cfg.BreakerThreshold, cfg.BreakerCooldown())
		cb.SetStateChangeHandler(func(name string, from, to circuit.State) {
			logger.Warnf("[toolserver] breaker %s: %s -> %s", name, from, to)
		})
		opts = append(opts, toolserver.WithBreaker(cb))
	}
	return opts
}

func toolSummary(cfg config.MCPConfig) string {
	if !cfg.Enabled {
		return "未启用"
	}
	return fmt.Sprintf("%s (%s)", cfg.Name, cfg.URL)
}
