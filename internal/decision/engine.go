package decision

import (
	"github.com/shopspring/decimal"

	"polyagent/internal/errs"
)

// Policy gates trades on confidence and sizes them.
type Policy struct {
	BuyThreshold       float64
	SellThreshold      float64
	TradeAmountUSDC    float64
	MaxTradeAmountUSDC float64
}

const (
	defaultTradeAmountUSDC    = 10
	defaultMaxTradeAmountUSDC = 100
)

// DefaultPolicy applies threshold to both directions with the default sizing.
func DefaultPolicy(threshold float64) Policy {
	return Policy{
		BuyThreshold:       threshold,
		SellThreshold:      threshold,
		TradeAmountUSDC:    defaultTradeAmountUSDC,
		MaxTradeAmountUSDC: defaultMaxTradeAmountUSDC,
	}
}

func (p Policy) Validate() error {
	if p.BuyThreshold < 0 || p.BuyThreshold > 1 || p.SellThreshold < 0 || p.SellThreshold > 1 {
		return errs.Configf("decision thresholds must be in [0,1] (buy=%v sell=%v)", p.BuyThreshold, p.SellThreshold)
	}
	if p.TradeAmountUSDC <= 0 || p.MaxTradeAmountUSDC <= 0 {
		return errs.Configf("trade amounts must be > 0")
	}
	return nil
}

// amount is min(TradeAmountUSDC, MaxTradeAmountUSDC) rounded to cents.
func (p Policy) amount() float64 {
	amt := decimal.NewFromFloat(p.TradeAmountUSDC)
	if limit := decimal.NewFromFloat(p.MaxTradeAmountUSDC); p.MaxTradeAmountUSDC > 0 && amt.GreaterThan(limit) {
		amt = limit
	}
	if amt.IsNegative() {
		return 0
	}
	return amt.Round(2).InexactFloat64()
}

// Engine is a pure function of (outcome, policy).
type Engine struct {
	policy Policy
}

func NewEngine(p Policy) (*Engine, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Engine{policy: p}, nil
}

func (e *Engine) Policy() Policy { return e.policy }

func (e *Engine) Decide(outcome AnalysisOutcome) TradeDecision {
	return decide(outcome, e.policy)
}

// Decide applies the thresholds with default sizing.
func Decide(outcome AnalysisOutcome, buyThreshold, sellThreshold float64) TradeDecision {
	p := DefaultPolicy(buyThreshold)
	p.SellThreshold = sellThreshold
	return decide(outcome, p)
}

func decide(outcome AnalysisOutcome, p Policy) TradeDecision {
	d := TradeDecision{Source: outcome}
	switch {
	case outcome.Recommendation == Buy && outcome.Confidence >= p.BuyThreshold:
		d.Side = SideYes
	case outcome.Recommendation == Sell && outcome.Confidence >= p.SellThreshold:
		d.Side = SideNo
	default:
		return d
	}
	d.ShouldTrade = true
	d.Amount = p.amount()
	return d
}
