package decision

import (
	"strings"
	"time"
)

// Snapshot and outcome types for one market analysis, shared by pipeline, trader and store.

// Recommendation is the model's suggested action.
type Recommendation string

const (
	Buy  Recommendation = "BUY"
	Sell Recommendation = "SELL"
	Hold Recommendation = "HOLD"
)

// Mode records which pipeline path produced the raw text.
type Mode string

const (
	ModeToolAugmented Mode = "TOOL_AUGMENTED"
	ModeToolLess      Mode = "TOOL_LESS"
)

// MarketSnapshot is the read-only market record handed to the pipeline.
type MarketSnapshot struct {
	ID            string    `json:"id"`
	Question      string    `json:"question"`
	Description   string    `json:"description,omitempty"`
	Outcomes      []string  `json:"outcomes"`
	OutcomePrices []float64 `json:"outcome_prices"`
	Liquidity     float64   `json:"liquidity"`
	Spread        float64   `json:"spread"`
	Volume        float64   `json:"volume"`
	EndDate       string    `json:"end_date,omitempty"`
}

// OutcomePrice pairs an outcome label with its current price.
type OutcomePrice struct {
	Label string  `json:"label"`
	Price float64 `json:"price"`
}

// AnalysisRequest is the immutable snapshot taken at the start of one analysis.
type AnalysisRequest struct {
	MarketID    string
	Question    string
	Description string
	Liquidity   float64
	Spread      float64
	Volume      float64
	TakenAt     time.Time

	outcomes []OutcomePrice
}

// NewAnalysisRequest copies m so later changes to the snapshot are not observed.
// Outcomes without a matching price are reported with price 0.
func NewAnalysisRequest(m MarketSnapshot, at time.Time) AnalysisRequest {
	outcomes := make([]OutcomePrice, 0, len(m.Outcomes))
	for i, label := range m.Outcomes {
		var price float64
		if i < len(m.OutcomePrices) {
			price = m.OutcomePrices[i]
		}
		outcomes = append(outcomes, OutcomePrice{Label: strings.TrimSpace(label), Price: price})
	}
	return AnalysisRequest{
		MarketID:    strings.TrimSpace(m.ID),
		Question:    strings.TrimSpace(m.Question),
		Description: strings.TrimSpace(m.Description),
		Liquidity:   m.Liquidity,
		Spread:      m.Spread,
		Volume:      m.Volume,
		TakenAt:     at,
		outcomes:    outcomes,
	}
}

// Outcomes returns a copy of the ordered outcome prices.
func (r AnalysisRequest) Outcomes() []OutcomePrice {
	out := make([]OutcomePrice, len(r.outcomes))
	copy(out, r.outcomes)
	return out
}

// Fragment is the parser's view of one model response.
type Fragment struct {
	Recommendation Recommendation
	Confidence     float64
	Reasoning      string
	// Note describes any ambiguity resolved by defaults; empty when the text was canonical.
	Note string
}

// AnalysisOutcome is produced exactly once per analysis call.
type AnalysisOutcome struct {
	MarketID       string         `json:"market_id"`
	Recommendation Recommendation `json:"recommendation"`
	Confidence     float64        `json:"confidence"`
	Reasoning      string         `json:"reasoning"`
	FullText       string         `json:"full_text,omitempty"`
	Mode           Mode           `json:"mode"`
	TraceRef       string         `json:"trace_ref,omitempty"`
	TraceURL       string         `json:"trace_url,omitempty"`
	ParseNote      string         `json:"parse_note,omitempty"`
	// Error holds the technical failure behind a terminal HOLD outcome.
	Error string `json:"error,omitempty"`
}

// Failed reports whether the outcome stands in for a technical failure.
func (o AnalysisOutcome) Failed() bool {
	return o.Error != ""
}

// Side is the prediction-market outcome token to buy.
type Side string

const (
	SideNone Side = ""
	SideYes  Side = "YES"
	SideNo   Side = "NO"
)

// OutcomeLabel maps a side to the Polymarket outcome name.
func (s Side) OutcomeLabel() string {
	switch s {
	case SideYes:
		return "Yes"
	case SideNo:
		return "No"
	default:
		return ""
	}
}

// TradeDecision is derived deterministically from an outcome and a policy.
type TradeDecision struct {
	ShouldTrade bool            `json:"should_trade"`
	Side        Side            `json:"side,omitempty"`
	Amount      float64         `json:"amount"`
	Source      AnalysisOutcome `json:"source"`
}

// OrderRequest is what the execution collaborator receives.
type OrderRequest struct {
	MarketID   string  `json:"market_id"`
	Side       Side    `json:"side"`
	Outcome    string  `json:"outcome"`
	AmountUSDC float64 `json:"amount_usdc"`
	TraceRef   string  `json:"trace_ref,omitempty"`
}

// OrderRequest returns the executable order, or false when no trade is due.
func (d TradeDecision) OrderRequest() (OrderRequest, bool) {
	if !d.ShouldTrade || d.Side == SideNone || d.Amount <= 0 {
		return OrderRequest{}, false
	}
	return OrderRequest{
		MarketID:   d.Source.MarketID,
		Side:       d.Side,
		Outcome:    d.Side.OutcomeLabel(),
		AmountUSDC: d.Amount,
		TraceRef:   d.Source.TraceRef,
	}, true
}
