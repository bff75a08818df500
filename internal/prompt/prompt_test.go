package prompt

import (
	"testing"
	"time"

	"polyagent/internal/decision"

	"github.com/stretchr/testify/assert"
)

func TestInput_RendersMarket(t *testing.T) {
	req := decision.NewAnalysisRequest(decision.MarketSnapshot{
		ID:            "42",
		Question:      "Will ETH flip BTC?",
		Outcomes:      []string{"Yes", "No"},
		OutcomePrices: []float64{0.12, 0.88},
		Liquidity:     12345.678,
		Spread:        0.02,
		Volume:        1000000,
	}, time.Unix(0, 0))

	out := Input(req, true)
	assert.Contains(t, out, `Market Question: "Will ETH flip BTC?"`)
	assert.Contains(t, out, "Yes=0.120, No=0.880")
	assert.Contains(t, out, "Liquidity: $12,345.68")
	assert.Contains(t, out, "Spread: 2.0%")
	assert.Contains(t, out, "Volume: $1,000,000")
	assert.Contains(t, out, "available tools")
	assert.NotContains(t, Input(req, false), "available tools")
}

func TestInstructions_ToolGuidance(t *testing.T) {
	assert.Contains(t, Instructions(true), "Do NOT promise to call a tool later")
	assert.NotContains(t, Instructions(false), "Do NOT promise")
	assert.Contains(t, Instructions(false), "Recommendation: BUY/SELL/HOLD")
}

func TestUSD_RoundsToCents(t *testing.T) {
	assert.Equal(t, "12,345.68", usd(12345.678))
	assert.Equal(t, "0.01", usd(0.005))
	assert.Equal(t, "1,000,000", usd(1000000))
}

func TestAnalystInstructions_NoTradeFormat(t *testing.T) {
	assert.Contains(t, AnalystInstructions(), "market analyst")
	assert.NotContains(t, AnalystInstructions(), "Recommendation:")
}
