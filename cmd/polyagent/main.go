package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"polyagent/internal/app"
	"polyagent/internal/config"
	"polyagent/internal/logger"
	"polyagent/internal/scheduler"
	"polyagent/internal/trader"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "configs/config.yaml"

var configPath string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "polyagent",
		Short: "LLM-driven analysis and dry-run trading for Polymarket prediction markets",
		Long: `polyagent fetches active Polymarket markets, asks an LLM (optionally
augmented with MCP tools) for a BUY/SELL/HOLD recommendation, and turns
confident recommendations into dry-run orders.

Examples:
  polyagent markets
  polyagent events --limit 5
  polyagent ask "Will the Fed cut rates in March?"
  polyagent analyze 516710
  polyagent trade
  polyagent monitor --interval 30m
  polyagent serve --monitor`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $POLYAGENT_CONFIG or "+defaultConfigPath+")")
	root.AddCommand(newTradeCmd(), newMonitorCmd(), newServeCmd(), newAnalyzeCmd(), newMarketsCmd(), newEventsCmd(), newAskCmd())
	return root
}

func newTradeCmd() *cobra.Command {
	var analysisOnly bool
	cmd := &cobra.Command{
		Use:   "trade",
		Short: "Run one cycle: fetch, analyze, decide and place the best dry-run order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, true, func(ctx context.Context, a *app.App) error {
				report, err := a.Trade(ctx, !analysisOnly)
				printReport(cmd.OutOrStdout(), report)
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&analysisOnly, "analysis-only", false, "analyze and decide without placing an order")
	return cmd
}

func newMonitorCmd() *cobra.Command {
	var (
		interval string
		once     bool
		align    bool
	)
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Run analysis-only cycles on an interval",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, true, func(ctx context.Context, a *app.App) error {
				if once {
					report, err := a.Trade(ctx, false)
					printReport(cmd.OutOrStdout(), report)
					return err
				}
				s := scheduler.Scheduler{Name: "monitor", RunImmediately: true, Align: align}
				if strings.TrimSpace(interval) != "" {
					d, ok := scheduler.ParseIntervalDuration(interval)
					if !ok {
						return fmt.Errorf("invalid --interval %q", interval)
					}
					s.Interval = d
				}
				return a.Monitor(ctx, s)
			})
		},
	}
	cmd.Flags().StringVar(&interval, "interval", "", "cycle interval, e.g. 30m, 1h, 1d (default trading.monitor_interval)")
	cmd.Flags().BoolVar(&once, "once", false, "run a single analysis-only cycle and exit")
	cmd.Flags().BoolVar(&align, "align", false, "align cycles to interval boundaries")
	return cmd
}

func newServeCmd() *cobra.Command {
	var monitor bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API (analysis, decision log, tool server status, metrics)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, false, func(ctx context.Context, a *app.App) error {
				return a.Serve(ctx, monitor)
			})
		},
	}
	cmd.Flags().BoolVar(&monitor, "monitor", false, "also run the analysis-only monitor loop")
	return cmd
}

func newAnalyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <market_id>",
		Short: "Analyze one market and print the recommendation and verdict",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, true, func(ctx context.Context, a *app.App) error {
				ev, err := a.Analyze(ctx, args[0])
				if err != nil {
					return err
				}
				printEvaluation(cmd.OutOrStdout(), ev)
				return nil
			})
		},
	}
}

func newMarketsCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "markets",
		Short: "List the markets a trade cycle would analyze",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, false, func(ctx context.Context, a *app.App) error {
				fetched, picked, err := a.Markets(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				list := picked
				if all {
					list = fetched
				}
				fmt.Fprintf(out, "%d fetched, %d tradeable\n", len(fetched), len(picked))
				for i, m := range list {
					fmt.Fprintf(out, "%3d. [%s] %s\n     liquidity=$%s volume=$%s spread=%.3f\n",
						i+1, m.ID, m.Question,
						humanize.CommafWithDigits(m.Liquidity, 0), humanize.CommafWithDigits(m.Volume, 0), m.Spread)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "list every fetched market, not only tradeable ones")
	return cmd
}

func newEventsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List tradeable Polymarket events, most markets first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, false, func(ctx context.Context, a *app.App) error {
				events, err := a.Events(ctx, limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for i, ev := range events {
					fmt.Fprintf(out, "%3d. [%s] %s (%d markets)\n     liquidity=$%s volume=$%s ends=%s\n",
						i+1, ev.ID, ev.Title, len(ev.MarketIDs),
						humanize.CommafWithDigits(ev.Liquidity, 0), humanize.CommafWithDigits(ev.Volume, 0), ev.EndDate)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 5, "number of events to print (0 for all)")
	return cmd
}

func newAskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask the model a free-form question (no tools, no trading)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, true, func(ctx context.Context, a *app.App) error {
				res, err := a.Ask(ctx, strings.Join(args, " "))
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(res.Text))
				return nil
			})
		},
	}
}

// withApp loads config, sets up logging, builds the app and closes it after fn.
func withApp(cmd *cobra.Command, needsModel bool, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		log.Printf("读取配置失败: %v", err)
		return err
	}
	if needsModel {
		if err := cfg.RequireModelCredentials(); err != nil {
			log.Printf("配置错误: %v", err)
			return err
		}
	}
	logFile, err := setupLogOutput(cfg.App.LogPath)
	if err != nil {
		return fmt.Errorf("初始化日志文件失败: %w", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	logger.SetLLMWriter(nil)
	if cfg.App.LLMDump {
		f, err := setupLLMLogOutput(cfg.App.LLMLog)
		if err != nil {
			return fmt.Errorf("初始化 LLM 日志失败: %w", err)
		}
		if f != nil {
			defer f.Close()
		}
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.EnableLLMPayloadDump(cfg.App.LLMDump)
	logger.Infof("✓ 配置加载成功（环境=%s）", cfg.App.Env)

	a, err := app.NewApp(cfg)
	if err != nil {
		log.Printf("初始化应用失败: %v", err)
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warnf("关闭应用失败: %v", err)
		}
	}()
	err = fn(cmd.Context(), a)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if err != nil {
		log.Printf("运行失败: %v", err)
	}
	return err
}

// loadConfig falls back to environment-only config when the default file is absent.
func loadConfig() (*config.Config, error) {
	path := strings.TrimSpace(configPath)
	if path == "" {
		path = strings.TrimSpace(os.Getenv("POLYAGENT_CONFIG"))
	}
	if path == "" {
		path = defaultConfigPath
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			path = ""
		}
	}
	return config.Load(path)
}

func printReport(w io.Writer, r trader.CycleReport) {
	if r.StartedAt.IsZero() {
		return
	}
	fmt.Fprintf(w, "cycle: %d fetched, %d analyzed in %s\n", r.Scanned, len(r.Evaluations), r.Duration.Round(time.Millisecond))
	for _, ev := range r.Evaluations {
		printEvaluation(w, ev)
	}
	if r.Best == nil {
		fmt.Fprintln(w, "no trade this cycle")
		return
	}
	fmt.Fprintf(w, "best: [%s] %s -> %s $%.2f\n", r.Best.Market.ID, r.Best.Market.Question, r.Best.Decision.Side, r.Best.Decision.Amount)
	if r.Order != nil {
		fmt.Fprintf(w, "order: %s status=%s\n", r.Order.OrderID, r.Order.Status)
	}
}

func printEvaluation(w io.Writer, ev trader.Evaluation) {
	o := ev.Outcome
	fmt.Fprintf(w, "- [%s] %s\n  %s %.0f%% (%s) trade=%v", ev.Market.ID, ev.Market.Question,
		o.Recommendation, o.Confidence*100, o.Mode, ev.Decision.ShouldTrade)
	if ev.Decision.ShouldTrade {
		fmt.Fprintf(w, " side=%s amount=$%.2f", ev.Decision.Side, ev.Decision.Amount)
	}
	fmt.Fprintln(w)
	if o.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", o.Error)
	}
	if o.TraceURL != "" {
		fmt.Fprintf(w, "  trace: %s\n", o.TraceURL)
	}
}

func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}

func setupLLMLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(trimmed), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	logger.SetLLMWriter(f)
	return f, nil
}
