package app

import (
	"fmt"
	"strings"

	"polyagent/internal/config"

	"github.com/dustin/go-humanize"
)

type StartupSummary struct {
	Model      ModelSummary
	ToolServer ToolServerSummary
	Trading    TradingSummary
	HTTPAddr   string
	StorePath  string
}

type ModelSummary struct {
	ID            string
	Timeout       string
	MaxRetries    int
	MaxToolRounds int
}

type ToolServerSummary struct {
	Enabled  bool
	Name     string
	URL      string
	CacheTTL string
	Breaker  string
}

type TradingSummary struct {
	BuyThreshold  float64
	SellThreshold float64
	Amount        float64
	MaxAmount     float64
	TopMarkets    int
	Concurrency   int
	MinLiquidity  float64
	MaxSpread     float64
	Monitor       string
}

func newStartupSummary(cfg *config.Config, modelID string) *StartupSummary {
	s := &StartupSummary{
		Model: ModelSummary{
			ID:            modelID,
			Timeout:       cfg.Model.Timeout().String(),
			MaxRetries:    cfg.Model.MaxRetries,
			MaxToolRounds: cfg.Model.MaxToolRounds,
		},
		ToolServer: ToolServerSummary{Enabled: cfg.MCP.Enabled},
		Trading: TradingSummary{
			BuyThreshold:  cfg.Trading.BuyThreshold,
			SellThreshold: cfg.Trading.SellThreshold,
			Amount:        cfg.Trading.TradeAmountUSDC,
			MaxAmount:     cfg.Trading.MaxTradeAmountUSDC,
			TopMarkets:    cfg.Trading.TopMarkets,
			Concurrency:   cfg.Trading.Concurrency,
			MinLiquidity:  cfg.Trading.MinLiquidity,
			MaxSpread:     cfg.Trading.MaxSpread,
			Monitor:       cfg.Trading.MonitorEvery().String(),
		},
		HTTPAddr:  cfg.App.HTTPAddr,
		StorePath: cfg.Store.Path,
	}
	if cfg.MCP.Enabled {
		s.ToolServer.Name = cfg.MCP.Name
		s.ToolServer.URL = cfg.MCP.URL
		s.ToolServer.CacheTTL = "disabled"
		if cfg.MCP.CacheEnabled {
			s.ToolServer.CacheTTL = cfg.MCP.CacheTTL().String()
		}
		s.ToolServer.Breaker = "disabled"
		if cfg.MCP.BreakerThreshold > 0 {
			s.ToolServer.Breaker = fmt.Sprintf("%d failures / %s", cfg.MCP.BreakerThreshold, cfg.MCP.BreakerCooldown())
		}
	}
	return s
}

func (s *StartupSummary) Print() {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("%*s\n", 40+len("启动配置摘要 (STARTUP SUMMARY)")/2, "启动配置摘要 (STARTUP SUMMARY)")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Println("[模型 (MODEL)]")
	fmt.Printf("  模型: %s\n", s.Model.ID)
	fmt.Printf("  超时: %s  重试: %d  工具轮数: %d\n", s.Model.Timeout, s.Model.MaxRetries, s.Model.MaxToolRounds)
	fmt.Println()

	fmt.Println("[工具服务器 (TOOL SERVER)]")
	if !s.ToolServer.Enabled {
		fmt.Println("  (未启用，所有分析走无工具路径)")
	} else {
		fmt.Printf("  %s: %s\n", s.ToolServer.Name, s.ToolServer.URL)
		fmt.Printf("  缓存: %s  熔断: %s\n", s.ToolServer.CacheTTL, s.ToolServer.Breaker)
	}
	fmt.Println()

	t := s.Trading
	fmt.Println("[交易 (TRADING, DRY RUN)]")
	fmt.Printf("  阈值: buy=%.0f%% sell=%.0f%%\n", t.BuyThreshold*100, t.SellThreshold*100)
	fmt.Printf("  金额: $%s (上限 $%s)\n", humanize.CommafWithDigits(t.Amount, 2), humanize.CommafWithDigits(t.MaxAmount, 2))
	fmt.Printf("  市场: top=%d 并发=%d 最低流动性=$%s 最大价差=%.2f\n",
		t.TopMarkets, t.Concurrency, humanize.CommafWithDigits(t.MinLiquidity, 0), t.MaxSpread)
	fmt.Printf("  监控间隔: %s\n", t.Monitor)
	fmt.Println()

	fmt.Printf("[HTTP] %s   [STORE] %s\n", formatValue(s.HTTPAddr), formatValue(s.StorePath))
	fmt.Println(strings.Repeat("=", 80))
}

func formatValue(v string) string {
	if strings.TrimSpace(v) == "" {
		return "-"
	}
	return v
}
