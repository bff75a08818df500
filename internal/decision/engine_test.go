package decision

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func outcome(rec Recommendation, conf float64) AnalysisOutcome {
	return AnalysisOutcome{MarketID: "m-1", Recommendation: rec, Confidence: conf, TraceRef: "trace-1", Mode: ModeToolLess}
}

func TestDecide_Thresholds(t *testing.T) {
	cases := []struct {
		name   string
		in     AnalysisOutcome
		trade  bool
		side   Side
		amount float64
	}{
		{"buy above threshold", outcome(Buy, 0.75), true, SideYes, 10},
		{"buy at threshold", outcome(Buy, 0.7), true, SideYes, 10},
		{"buy below threshold", outcome(Buy, 0.5), false, SideNone, 0},
		{"sell above threshold", outcome(Sell, 0.9), true, SideNo, 10},
		{"hold never trades", outcome(Hold, 0.99), false, SideNone, 0},
		{"failed analysis", outcome(Hold, 0), false, SideNone, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := Decide(tc.in, 0.7, 0.7)
			assert.Equal(t, tc.trade, d.ShouldTrade)
			assert.Equal(t, tc.side, d.Side)
			assert.Equal(t, tc.amount, d.Amount)
			assert.Equal(t, tc.in, d.Source)
		})
	}
}

func TestDecide_IndependentThresholds(t *testing.T) {
	assert.False(t, Decide(outcome(Sell, 0.75), 0.6, 0.8).ShouldTrade)
	assert.True(t, Decide(outcome(Buy, 0.65), 0.6, 0.8).ShouldTrade)
}

func TestEngine_AmountIsCappedAndRounded(t *testing.T) {
	e, err := NewEngine(Policy{BuyThreshold: 0.6, SellThreshold: 0.6, TradeAmountUSDC: 150.555, MaxTradeAmountUSDC: 100})
	require.NoError(t, err)
	assert.Equal(t, 100.0, e.Decide(outcome(Buy, 0.9)).Amount)

	e, err = NewEngine(Policy{BuyThreshold: 0.6, SellThreshold: 0.6, TradeAmountUSDC: 12.345, MaxTradeAmountUSDC: 100})
	require.NoError(t, err)
	assert.Equal(t, 12.35, e.Decide(outcome(Sell, 0.9)).Amount)
}

func TestNewEngine_RejectsBadPolicy(t *testing.T) {
	_, err := NewEngine(Policy{BuyThreshold: 1.2, SellThreshold: 0.5, TradeAmountUSDC: 10, MaxTradeAmountUSDC: 100})
	assert.Error(t, err)
	_, err = NewEngine(Policy{BuyThreshold: 0.5, SellThreshold: 0.5})
	assert.Error(t, err)
}

func TestTradeDecision_OrderRequest(t *testing.T) {
	d := Decide(outcome(Sell, 0.8), 0.7, 0.7)
	order, ok := d.OrderRequest()
	require.True(t, ok)
	assert.Equal(t, OrderRequest{MarketID: "m-1", Side: SideNo, Outcome: "No", AmountUSDC: 10, TraceRef: "trace-1"}, order)

	_, ok = Decide(outcome(Hold, 0.8), 0.7, 0.7).OrderRequest()
	assert.False(t, ok)
}

func TestNewAnalysisRequest_CopiesOutcomes(t *testing.T) {
	m := MarketSnapshot{
		ID:            " 123 ",
		Question:      "Will BTC close above $100k?",
		Outcomes:      []string{"Yes", "No"},
		OutcomePrices: []float64{0.42},
		Liquidity:     5000,
	}
	req := NewAnalysisRequest(m, time.Unix(0, 0))
	m.Outcomes[0] = "mutated"

	got := req.Outcomes()
	assert.Equal(t, "123", req.MarketID)
	assert.Equal(t, []OutcomePrice{{Label: "Yes", Price: 0.42}, {Label: "No", Price: 0}}, got)

	got[0].Label = "changed"
	assert.Equal(t, "Yes", req.Outcomes()[0].Label)
}
