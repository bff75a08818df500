package app

import (
	"context"
	"fmt"
	"strings"

	"polyagent/internal/config"
	"polyagent/internal/decision"
	"polyagent/internal/gateway/polymarket"
	"polyagent/internal/gateway/provider"
	"polyagent/internal/logger"
	"polyagent/internal/metrics"
	"polyagent/internal/pkg/retry"
	"polyagent/internal/prompt"
	"polyagent/internal/scheduler"
	"polyagent/internal/store"
	"polyagent/internal/toolserver"
	"polyagent/internal/trader"
	apihttp "polyagent/internal/transport/http/api"

	"golang.org/x/sync/errgroup"
)

// App owns one configured set of components and runs them per command:
// a trade cycle, the monitor loop or the HTTP API.
type App struct {
	cfg       *config.Config
	trader    *trader.Trader
	api       *apihttp.Server
	decisions store.DecisionLog
	recorder  *metrics.Recorder
	tools     *toolserver.Manager
	toolCfg   toolserver.Config
	model     provider.ModelProvider
	markets   trader.MarketSource
	askRetry  retry.Policy
	Summary   *StartupSummary
}

// EventSource is implemented by market sources that also list Gamma events.
type EventSource interface {
	Events(ctx context.Context, limit int) ([]polymarket.Event, error)
}

// NewApp builds the app from cfg without starting anything.
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Trade runs one cycle. Orders go to the dry-run executor only when execute is set.
func (a *App) Trade(ctx context.Context, execute bool) (trader.CycleReport, error) {
	if a == nil || a.trader == nil {
		return trader.CycleReport{}, fmt.Errorf("app not initialized")
	}
	return a.trader.RunCycle(ctx, execute)
}

// Monitor runs analysis-only cycles every interval until ctx ends. A zero
// interval uses trading.monitor_interval.
func (a *App) Monitor(ctx context.Context, s scheduler.Scheduler) error {
	if a == nil || a.trader == nil {
		return fmt.Errorf("app not initialized")
	}
	if s.Interval <= 0 {
		s.Interval = a.cfg.Trading.MonitorEvery()
	}
	if s.Name == "" {
		s.Name = "monitor"
	}
	return a.trader.Monitor(ctx, &s)
}

// Analyze evaluates one market by id without placing an order.
func (a *App) Analyze(ctx context.Context, marketID string) (trader.Evaluation, error) {
	if a == nil || a.trader == nil {
		return trader.Evaluation{}, fmt.Errorf("app not initialized")
	}
	return a.trader.EvaluateByID(ctx, marketID)
}

// Markets lists the tradeable candidates in analysis order.
func (a *App) Markets(ctx context.Context) (all, picked []decision.MarketSnapshot, err error) {
	if a == nil || a.trader == nil {
		return nil, nil, fmt.Errorf("app not initialized")
	}
	return a.trader.Candidates(ctx)
}

// Events lists tradeable events ordered by market count; limit <= 0 keeps all.
func (a *App) Events(ctx context.Context, limit int) ([]polymarket.Event, error) {
	if a == nil || a.markets == nil {
		return nil, fmt.Errorf("app not initialized")
	}
	src, ok := a.markets.(EventSource)
	if !ok {
		return nil, fmt.Errorf("market source %T does not list events", a.markets)
	}
	events, err := src.Events(ctx, 0)
	if err != nil {
		return nil, err
	}
	events = polymarket.TradeableEvents(events)
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

// Ask sends a free-form question to the model without tools or parsing.
func (a *App) Ask(ctx context.Context, question string) (provider.Result, error) {
	if a == nil || a.model == nil {
		return provider.Result{}, fmt.Errorf("app not initialized")
	}
	if strings.TrimSpace(question) == "" {
		return provider.Result{}, fmt.Errorf("question is empty")
	}
	inv := provider.Invocation{
		Instructions: prompt.AnalystInstructions(),
		Input:        question,
		MaxTokens:    a.cfg.Model.MaxTokens,
		Temperature:  a.cfg.Model.Temperature,
		Mode:         "ASK",
	}
	return retry.Do(ctx, a.askRetry, func(ctx context.Context) (provider.Result, error) {
		return a.model.Run(ctx, inv)
	})
}

// ToolServer reports the configured tool server's reachability.
func (a *App) ToolServer(ctx context.Context) toolserver.Inspection {
	return a.tools.Inspect(ctx, a.toolCfg)
}

// Serve runs the HTTP API, plus the monitor loop when monitor is set.
func (a *App) Serve(ctx context.Context, monitor bool) error {
	if a == nil || a.api == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.Summary != nil {
		a.Summary.Print()
	}
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.api.Start(ctx); err != nil {
			return fmt.Errorf("api http server error: %w", err)
		}
		return nil
	})
	if monitor {
		group.Go(func() error {
			return a.Monitor(ctx, scheduler.Scheduler{RunImmediately: true})
		})
	}
	return group.Wait()
}

// Close releases the decision log.
func (a *App) Close() error {
	if a == nil || a.decisions == nil {
		return nil
	}
	return a.decisions.Close()
}

// Recorder exposes the metrics recorder (for tests).
func (a *App) Recorder() *metrics.Recorder {
	if a == nil {
		return nil
	}
	return a.recorder
}
