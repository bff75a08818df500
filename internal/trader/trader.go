// Package trader runs the fetch → analyze → decide → execute cycle.
package trader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"polyagent/internal/decision"
	"polyagent/internal/errs"
	"polyagent/internal/executor"
	"polyagent/internal/gateway/notifier"
	"polyagent/internal/gateway/polymarket"
	"polyagent/internal/logger"
	"polyagent/internal/scheduler"

	"golang.org/x/sync/errgroup"
)

// MarketSource is satisfied by *polymarket.Client.
type MarketSource interface {
	Markets(ctx context.Context, limit int) ([]decision.MarketSnapshot, error)
	Market(ctx context.Context, id string) (decision.MarketSnapshot, error)
}

// Analyzer is satisfied by *pipeline.Pipeline.
type Analyzer interface {
	Analyze(ctx context.Context, market decision.MarketSnapshot) decision.AnalysisOutcome
}

// DecisionRecorder persists engine verdicts next to their analysis.
type DecisionRecorder interface {
	RecordDecision(ctx context.Context, d decision.TradeDecision) error
}

// DecisionObserver is told about every verdict.
type DecisionObserver interface {
	ObserveDecision(d decision.TradeDecision)
}

// Options holds the trader dependencies and market filters. Markets, Analyzer,
// Engine and Executor are required.
type Options struct {
	Markets  MarketSource
	Analyzer Analyzer
	Engine   *decision.Engine
	Executor executor.Executor
	Recorder DecisionRecorder
	Observer DecisionObserver
	// Notifier is optional; it is told about placed orders and failures are only logged.
	Notifier notifier.TextNotifier

	TopMarkets   int
	Concurrency  int
	MinLiquidity float64
	MaxSpread    float64
}

// Trader is safe for concurrent use; each cycle carries its own state.
type Trader struct {
	opts Options
}

func New(opts Options) (*Trader, error) {
	switch {
	case opts.Markets == nil:
		return nil, errs.Configf("trader: market source is required")
	case opts.Analyzer == nil:
		return nil, errs.Configf("trader: analyzer is required")
	case opts.Engine == nil:
		return nil, errs.Configf("trader: decision engine is required")
	case opts.Executor == nil:
		return nil, errs.Configf("trader: executor is required")
	}
	if opts.TopMarkets <= 0 {
		opts.TopMarkets = 20
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Trader{opts: opts}, nil
}

// Evaluation is one market's analysis and verdict.
type Evaluation struct {
	Market   decision.MarketSnapshot  `json:"market"`
	Outcome  decision.AnalysisOutcome `json:"outcome"`
	Decision decision.TradeDecision   `json:"decision"`
}

// CycleReport summarises one cycle.
type CycleReport struct {
	StartedAt   time.Time             `json:"started_at"`
	Duration    time.Duration         `json:"duration"`
	Scanned     int                   `json:"scanned"`
	Tradeable   int                   `json:"tradeable"`
	Evaluations []Evaluation          `json:"evaluations"`
	Best        *Evaluation           `json:"best,omitempty"`
	Order       *executor.OrderResult `json:"order,omitempty"`
}

// Candidates fetches markets and keeps the most liquid tradeable ones.
func (t *Trader) Candidates(ctx context.Context) (all []decision.MarketSnapshot, picked []decision.MarketSnapshot, err error) {
	all, err = t.opts.Markets.Markets(ctx, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch markets: %w", err)
	}
	picked = polymarket.Top(all, t.opts.MinLiquidity, t.opts.MaxSpread, t.opts.TopMarkets)
	return all, picked, nil
}

// Evaluate analyzes one market and applies the engine. It never places orders.
func (t *Trader) Evaluate(ctx context.Context, m decision.MarketSnapshot) Evaluation {
	out := t.opts.Analyzer.Analyze(ctx, m)
	d := t.opts.Engine.Decide(out)
	if t.opts.Observer != nil {
		t.opts.Observer.ObserveDecision(d)
	}
	if t.opts.Recorder != nil && out.TraceRef != "" {
		if err := t.opts.Recorder.RecordDecision(context.WithoutCancel(ctx), d); err != nil {
			logger.Warnf("[trader] record decision trace=%s failed: %v", out.TraceRef, err)
		}
	}
	logger.Infof("[trader] market=%s recommendation=%s confidence=%.1f%% should_trade=%v side=%s trace=%s",
		m.ID, out.Recommendation, out.Confidence*100, d.ShouldTrade, d.Side, out.TraceURL)
	return Evaluation{Market: m, Outcome: out, Decision: d}
}

// EvaluateByID fetches one market and evaluates it.
func (t *Trader) EvaluateByID(ctx context.Context, id string) (Evaluation, error) {
	m, err := t.opts.Markets.Market(ctx, id)
	if err != nil {
		return Evaluation{}, fmt.Errorf("fetch market %s: %w", id, err)
	}
	return t.Evaluate(ctx, m), nil
}

// RunCycle analyzes the candidate markets concurrently and picks the single
// best tradeable verdict (highest confidence, then higher liquidity). When
// execute is set, that one order goes to the executor.
func (t *Trader) RunCycle(ctx context.Context, execute bool) (CycleReport, error) {
	report := CycleReport{StartedAt: time.Now()}
	all, picked, err := t.Candidates(ctx)
	if err != nil {
		return report, err
	}
	report.Scanned, report.Tradeable = len(all), len(picked)
	logger.Infof("[trader] cycle: %d markets fetched, %d selected for analysis", len(all), len(picked))
	if len(picked) == 0 {
		report.Duration = time.Since(report.StartedAt)
		return report, nil
	}

	evals := make([]Evaluation, len(picked))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.opts.Concurrency)
	for i, m := range picked {
		g.Go(func() error {
			evals[i] = t.Evaluate(gctx, m)
			return nil
		})
	}
	_ = g.Wait()
	report.Evaluations = evals

	if best := pickBest(evals); best >= 0 {
		report.Best = &evals[best]
	}
	if err := ctx.Err(); err != nil {
		report.Duration = time.Since(report.StartedAt)
		return report, err
	}
	if report.Best == nil {
		logger.Infof("[trader] no trade: every verdict was HOLD or below threshold")
	} else if execute {
		res, err := t.place(ctx, report.Best.Decision)
		if err != nil {
			report.Duration = time.Since(report.StartedAt)
			return report, err
		}
		report.Order = &res
		t.notify(ctx, *report.Best, res)
	}
	report.Duration = time.Since(report.StartedAt)
	return report, nil
}

// Monitor runs analysis-only cycles on s until ctx ends.
func (t *Trader) Monitor(ctx context.Context, s *scheduler.Scheduler) error {
	err := s.Run(ctx, func(ctx context.Context) {
		report, err := t.RunCycle(ctx, false)
		if err != nil {
			logger.Errorf("[trader] monitor cycle failed: %v", err)
			return
		}
		if report.Best != nil {
			logger.Infof("[trader] monitor: best candidate market=%s side=%s confidence=%.1f%%",
				report.Best.Market.ID, report.Best.Decision.Side, report.Best.Outcome.Confidence*100)
		}
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (t *Trader) place(ctx context.Context, d decision.TradeDecision) (executor.OrderResult, error) {
	req, ok := d.OrderRequest()
	if !ok {
		return executor.OrderResult{}, errs.Permanent(fmt.Errorf("decision for %s is not executable", d.Source.MarketID))
	}
	res, err := t.opts.Executor.Place(ctx, req)
	if err != nil {
		return res, fmt.Errorf("place order market=%s: %w", req.MarketID, err)
	}
	return res, nil
}

func (t *Trader) notify(ctx context.Context, ev Evaluation, res executor.OrderResult) {
	if t.opts.Notifier == nil {
		return
	}
	msg := notifier.OrderMessage(ev.Market, ev.Decision, res).RenderMarkdown()
	if err := t.opts.Notifier.SendText(context.WithoutCancel(ctx), msg); err != nil {
		logger.Warnf("[trader] notify order=%s failed: %v", res.OrderID, err)
	}
}

// pickBest returns the index of the best tradeable evaluation, or -1.
// evals are in liquidity order, so the first of equal confidence wins.
func pickBest(evals []Evaluation) int {
	best := -1
	for i, e := range evals {
		if !e.Decision.ShouldTrade {
			continue
		}
		if best < 0 || e.Outcome.Confidence > evals[best].Outcome.Confidence {
			best = i
		}
	}
	return best
}
