// Package prompt renders the model instructions and the per-market input.
package prompt

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"

	"polyagent/internal/decision"
)

const baseInstructions = `You are an expert prediction market trader analyzing Polymarket opportunities.

When analyzing a market:
1. Gather relevant external data%s
2. Analyze current market pricing vs fair value
3. Consider external factors (news, price movements, etc.)
4. Assess the risk/reward profile
5. Provide a clear trade recommendation with a confidence level

Format your final recommendation as:
- Recommendation: BUY/SELL/HOLD
- Confidence: X%% (0-100)
- Reasoning: Clear explanation of your analysis`

const toolGuidance = `

You have access to tools that can fetch market data, prices and news. Use them to make informed decisions.
Do NOT promise to call a tool later. If a function call is required, emit it now; otherwise respond normally.`

const analystInstructions = `You are a market analyst that takes a description of an event and produces a market forecast.
Assign a probability estimate to the event occurring and explain your reasoning briefly.
Answer plainly; you are not asked to place a trade.`

// AnalystInstructions is the system prompt for free-form questions.
func AnalystInstructions() string { return analystInstructions }

// Instructions returns the system prompt; withTools adds tool-usage guidance.
func Instructions(withTools bool) string {
	if !withTools {
		return fmt.Sprintf(baseInstructions, " from your own knowledge")
	}
	return fmt.Sprintf(baseInstructions, " using the available tools") + toolGuidance
}

// Input renders one market snapshot as the user message.
func Input(req decision.AnalysisRequest, withTools bool) string {
	var b strings.Builder
	b.WriteString("Please analyze this prediction market and provide a trading recommendation:\n\n")
	fmt.Fprintf(&b, "Market Question: %q\n", req.Question)
	if req.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", req.Description)
	}
	b.WriteString("\nCurrent Market Data:\n")
	b.WriteString("- Outcome Prices: ")
	b.WriteString(formatOutcomes(req.Outcomes()))
	b.WriteString("\n")
	fmt.Fprintf(&b, "- Liquidity: $%s\n", usd(req.Liquidity))
	fmt.Fprintf(&b, "- Spread: %.1f%%\n", req.Spread*100)
	fmt.Fprintf(&b, "- Volume: $%s\n", usd(req.Volume))
	if withTools {
		b.WriteString("\nUse the available tools to gather relevant information, then provide your analysis.\n")
	} else {
		b.WriteString("\nProvide your analysis based on the market data above.\n")
	}
	return b.String()
}

// Context is the structured side-channel sent alongside the input.
func Context(req decision.AnalysisRequest, traceRef string) map[string]any {
	return map[string]any{
		"market_id": req.MarketID,
		"trace_ref": traceRef,
		"taken_at":  req.TakenAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
}

func formatOutcomes(outcomes []decision.OutcomePrice) string {
	if len(outcomes) == 0 {
		return "n/a"
	}
	parts := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		parts = append(parts, fmt.Sprintf("%s=%.3f", o.Label, o.Price))
	}
	return strings.Join(parts, ", ")
}

// usd rounds to cents before grouping; CommafWithDigits alone truncates.
func usd(v float64) string {
	return humanize.CommafWithDigits(decimal.NewFromFloat(v).Round(2).InexactFloat64(), 2)
}
