package polymarket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"polyagent/internal/config"
	"polyagent/internal/decision"
	"polyagent/internal/errs"
	"polyagent/internal/pkg/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const marketsPayload = `[
  {"id":"101","question":"Will it rain in NYC tomorrow?","description":"Resolves YES if...",
   "outcomes":"[\"Yes\", \"No\"]","outcomePrices":"[\"0.35\", \"0.65\"]",
   "liquidity":"2500.5","liquidityNum":2500.5,"volume":"10000","spread":0.02,"endDate":"2026-12-31T00:00:00Z"},
  {"id":"102","question":"Will BTC hit 200k?","outcomes":["Yes","No"],"outcomePrices":["0.1","0.9"],
   "liquidity":"50","bestBid":0.08,"bestAsk":0.12},
  {"id":"","question":"broken"}
]`

func testPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, BackoffMultiplier: 2}
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := NewClient(config.PolymarketConfig{GammaURL: url, TimeoutSeconds: 5, FetchLimit: 50}, testPolicy())
	require.NoError(t, err)
	return c
}

func TestMarkets_DecodesGammaPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/markets", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("active"))
		assert.Equal(t, "false", r.URL.Query().Get("closed"))
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(marketsPayload))
	}))
	defer srv.Close()

	markets, err := newTestClient(t, srv.URL).Markets(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, markets, 2)

	m := markets[0]
	assert.Equal(t, "101", m.ID)
	assert.Equal(t, []string{"Yes", "No"}, m.Outcomes)
	assert.Equal(t, []float64{0.35, 0.65}, m.OutcomePrices)
	assert.InDelta(t, 2500.5, m.Liquidity, 1e-9)
	assert.InDelta(t, 10000, m.Volume, 1e-9)
	assert.InDelta(t, 0.02, m.Spread, 1e-9)

	assert.Equal(t, []float64{0.1, 0.9}, markets[1].OutcomePrices)
	assert.InDelta(t, 0.04, markets[1].Spread, 1e-9)
}

func TestMarket_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		assert.Equal(t, "/markets/101", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"101","question":"q?","outcomes":"[\"Yes\",\"No\"]","outcomePrices":"[\"0.5\",\"0.5\"]"}`))
	}))
	defer srv.Close()

	m, err := newTestClient(t, srv.URL).Market(context.Background(), "101")
	require.NoError(t, err)
	assert.Equal(t, "q?", m.Question)
	assert.Equal(t, int32(2), calls.Load())
}

func TestMarket_NotFoundIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Market(context.Background(), "nope")
	require.Error(t, err)
	assert.False(t, errs.Retryable(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestNewClient_RejectsBadURL(t *testing.T) {
	_, err := NewClient(config.PolymarketConfig{GammaURL: "::"}, testPolicy())
	assert.True(t, errs.IsConfiguration(err))
	_, err = NewClient(config.PolymarketConfig{}, testPolicy())
	assert.True(t, errs.IsConfiguration(err))
}

func TestTop_FiltersAndSorts(t *testing.T) {
	markets := []decision.MarketSnapshot{
		{ID: "a", Liquidity: 150, Spread: 0.05},
		{ID: "b", Liquidity: 90, Spread: 0.01},
		{ID: "c", Liquidity: 900, Spread: 0.1},
		{ID: "d", Liquidity: 5000, Spread: 0.2},
		{ID: "e", Liquidity: 400, Spread: 0},
	}
	top := Top(markets, 100, 0.1, 2)
	require.Len(t, top, 2)
	assert.Equal(t, "c", top[0].ID)
	assert.Equal(t, "e", top[1].ID)

	assert.Len(t, FilterTradeable(markets, 100, 0.1), 3)
	assert.Len(t, markets, 5)
}
