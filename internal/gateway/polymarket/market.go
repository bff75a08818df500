package polymarket

import (
	"sort"
	"strings"

	"polyagent/internal/decision"

	"github.com/tidwall/gjson"
)

// Gamma encodes outcomes and outcomePrices as JSON strings inside JSON, and
// numeric fields as either numbers or strings depending on the endpoint.
func snapshotFrom(node gjson.Result) (decision.MarketSnapshot, bool) {
	m := decision.MarketSnapshot{
		ID:          strings.TrimSpace(node.Get("id").String()),
		Question:    strings.TrimSpace(node.Get("question").String()),
		Description: strings.TrimSpace(node.Get("description").String()),
		Liquidity:   firstFloat(node, "liquidityNum", "liquidity"),
		Volume:      firstFloat(node, "volumeNum", "volume"),
		Spread:      node.Get("spread").Float(),
		EndDate:     node.Get("endDate").String(),
	}
	m.Outcomes = stringList(node.Get("outcomes"))
	for _, p := range stringList(node.Get("outcomePrices")) {
		m.OutcomePrices = append(m.OutcomePrices, gjson.Parse(p).Float())
	}
	if !node.Get("spread").Exists() {
		if bid, ask := node.Get("bestBid"), node.Get("bestAsk"); bid.Exists() && ask.Exists() {
			m.Spread = ask.Float() - bid.Float()
		}
	}
	if m.ID == "" || m.Question == "" || len(m.Outcomes) == 0 {
		return decision.MarketSnapshot{}, false
	}
	return m, true
}

func firstFloat(node gjson.Result, keys ...string) float64 {
	for _, k := range keys {
		if v := node.Get(k); v.Exists() && v.String() != "" {
			return v.Float()
		}
	}
	return 0
}

// stringList accepts a real array or a JSON array encoded as a string.
func stringList(v gjson.Result) []string {
	if v.Type == gjson.String {
		v = gjson.Parse(v.String())
	}
	if !v.IsArray() {
		return nil
	}
	var out []string
	for _, item := range v.Array() {
		out = append(out, item.String())
	}
	return out
}

// FilterTradeable keeps markets with enough liquidity and a tight enough spread.
func FilterTradeable(markets []decision.MarketSnapshot, minLiquidity, maxSpread float64) []decision.MarketSnapshot {
	out := make([]decision.MarketSnapshot, 0, len(markets))
	for _, m := range markets {
		if m.Liquidity < minLiquidity {
			continue
		}
		if m.Spread > maxSpread {
			continue
		}
		out = append(out, m)
	}
	return out
}

// SortByLiquidity orders markets by descending liquidity, in place.
func SortByLiquidity(markets []decision.MarketSnapshot) {
	sort.SliceStable(markets, func(i, j int) bool {
		return markets[i].Liquidity > markets[j].Liquidity
	})
}

// Top filters, sorts and truncates to n markets.
func Top(markets []decision.MarketSnapshot, minLiquidity, maxSpread float64, n int) []decision.MarketSnapshot {
	out := FilterTradeable(markets, minLiquidity, maxSpread)
	SortByLiquidity(out)
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
