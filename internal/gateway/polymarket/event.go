package polymarket

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"polyagent/internal/errs"

	"github.com/tidwall/gjson"
)

// Event groups related markets under one Gamma event.
type Event struct {
	ID          string
	Title       string
	Slug        string
	Description string
	EndDate     string
	Liquidity   float64
	Volume      float64
	Restricted  bool
	MarketIDs   []string
}

// Events lists active, open events. limit <= 0 uses the configured fetch limit.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = c.fetchLimit
	}
	q := url.Values{}
	q.Set("active", "true")
	q.Set("closed", "false")
	q.Set("archived", "false")
	q.Set("limit", strconv.Itoa(limit))

	body, err := c.get(ctx, "polymarket.events", "/events", q)
	if err != nil {
		return nil, err
	}
	parsed := gjson.ParseBytes(body)
	if !parsed.IsArray() {
		return nil, errs.Permanent(fmt.Errorf("gamma /events: expected array, got %s", parsed.Type))
	}
	out := make([]Event, 0, len(parsed.Array()))
	parsed.ForEach(func(_, node gjson.Result) bool {
		if ev, ok := eventFrom(node); ok {
			out = append(out, ev)
		}
		return true
	})
	return out, nil
}

func eventFrom(node gjson.Result) (Event, bool) {
	ev := Event{
		ID:          strings.TrimSpace(node.Get("id").String()),
		Title:       strings.TrimSpace(node.Get("title").String()),
		Slug:        node.Get("slug").String(),
		Description: strings.TrimSpace(node.Get("description").String()),
		EndDate:     node.Get("endDate").String(),
		Liquidity:   firstFloat(node, "liquidity", "liquidityNum"),
		Volume:      firstFloat(node, "volume", "volumeNum"),
		Restricted:  node.Get("restricted").Bool(),
	}
	node.Get("markets").ForEach(func(_, m gjson.Result) bool {
		if id := strings.TrimSpace(m.Get("id").String()); id != "" {
			ev.MarketIDs = append(ev.MarketIDs, id)
		}
		return true
	})
	if ev.ID == "" || ev.Title == "" {
		return Event{}, false
	}
	return ev, true
}

// TradeableEvents drops restricted events and events without markets, then
// orders by market count, largest first. Ties keep their input order.
func TradeableEvents(events []Event) []Event {
	out := make([]Event, 0, len(events))
	for _, ev := range events {
		if ev.Restricted || len(ev.MarketIDs) == 0 {
			continue
		}
		out = append(out, ev)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return len(out[i].MarketIDs) > len(out[j].MarketIDs)
	})
	return out
}
