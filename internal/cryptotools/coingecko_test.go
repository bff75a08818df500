package cryptotools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"polyagent/internal/pkg/retry"
	"polyagent/internal/toolserver"

	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	simplePriceBody = `{"bitcoin":{"usd":64000.5,"usd_24h_change":-1.25,"usd_24h_vol":31000000000,"usd_market_cap":1260000000000}}`
	marketChartBody = `{"prices":[[1700000000000,100],[1700086400000,80],[1700172800000,120],[1700259200000,118]]}`
	coinBody        = `{"name":"Bitcoin","symbol":"btc","market_data":{"current_price":{"usd":64000},"market_cap":{"usd":1.26e12},"total_volume":{"usd":3.1e10},"price_change_percentage_24h":-1.2,"price_change_percentage_7d":3.4,"price_change_percentage_30d":9.9,"ath":{"usd":73738},"ath_date":{"usd":"2024-03-14T07:10:36.635Z"},"atl":{"usd":67.81},"atl_date":{"usd":"2013-07-06T00:00:00.000Z"},"market_cap_rank":1}}`
)

func newGecko(t *testing.T, flaky *atomic.Int32) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/simple/price", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if flaky != nil && flaky.Add(-1) >= 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, "bitcoin", r.URL.Query().Get("ids"))
		assert.Equal(t, "demo-key", r.URL.Query().Get("x_cg_demo_api_key"))
		_, _ = w.Write([]byte(simplePriceBody))
	})
	mux.HandleFunc("/api/v3/coins/bitcoin/market_chart", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "7", r.URL.Query().Get("days"))
		_, _ = w.Write([]byte(marketChartBody))
	})
	mux.HandleFunc("/api/v3/coins/bitcoin", func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(coinBody))
	})
	mux.HandleFunc("/api/v3/coins/nope", func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		http.NotFound(w, nil)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newTestClient(t *testing.T, base string) *Client {
	t.Helper()
	pol := retry.Policy{
		MaxAttempts:       3,
		BaseDelay:         time.Millisecond,
		MaxDelay:          5 * time.Millisecond,
		BackoffMultiplier: 2,
	}
	c, err := NewClient(base+"/api/v3", "demo-key", 5*time.Second, pol)
	require.NoError(t, err)
	return c
}

func TestCurrentPrice_RetriesUnavailable(t *testing.T) {
	var flaky atomic.Int32
	flaky.Store(1)
	srv, hits := newGecko(t, &flaky)
	c := newTestClient(t, srv.URL)

	got, err := c.CurrentPrice(context.Background(), " Bitcoin ", "")
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, "bitcoin", got.Coin)
	assert.Equal(t, 64000.5, got.Price)
	assert.Equal(t, -1.25, got.PriceChange24h)
	assert.Equal(t, "usd", got.Currency)
}

func TestCurrentPrice_UnknownCurrency(t *testing.T) {
	srv, _ := newGecko(t, nil)
	_, err := newTestClient(t, srv.URL).CurrentPrice(context.Background(), "bitcoin", "eur")
	var nf *ErrCoinNotFound
	assert.ErrorAs(t, err, &nf)
}

func TestHistory_Statistics(t *testing.T) {
	srv, _ := newGecko(t, nil)
	h, err := newTestClient(t, srv.URL).History(context.Background(), "bitcoin", 7, "usd")
	require.NoError(t, err)
	assert.Equal(t, 118.0, h.CurrentPrice)
	assert.Equal(t, 80.0, h.MinPrice)
	assert.Equal(t, 120.0, h.MaxPrice)
	assert.InDelta(t, 104.5, h.AvgPrice, 1e-9)
	assert.InDelta(t, 18.0, h.PriceChangePeriod, 1e-9)
	assert.True(t, h.IsNearATH)
	assert.False(t, h.IsNearATL)
}

func TestMarketData_AndNotFound(t *testing.T) {
	srv, hits := newGecko(t, nil)
	c := newTestClient(t, srv.URL)

	md, err := c.MarketData(context.Background(), "bitcoin")
	require.NoError(t, err)
	assert.Equal(t, "Bitcoin", md.Name)
	assert.Equal(t, 73738.0, md.ATH)
	assert.Equal(t, int64(1), md.MarketCapRank)

	before := hits.Load()
	_, err = c.MarketData(context.Background(), "nope")
	var nf *ErrCoinNotFound
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "nope", nf.Coin)
	assert.Equal(t, before+1, hits.Load())
}

func TestNewClient_RejectsBadURL(t *testing.T) {
	_, err := NewClient("ftp://example.com", "", 0, retry.Policy{})
	assert.Error(t, err)
}

func TestTools_OverMCP(t *testing.T) {
	gecko, _ := newGecko(t, nil)
	ts := server.NewTestServer(NewServer(newTestClient(t, gecko.URL)))
	t.Cleanup(ts.Close)

	h, err := toolserver.NewMCPConnector(nil).New(toolserver.Config{URL: ts.URL + "/sse", Timeout: 5 * time.Second})
	require.NoError(t, err)
	defer h.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, h.Connect(ctx))

	tools, err := h.Tools(ctx)
	require.NoError(t, err)
	var names []string
	for _, tool := range tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"get_current_price", "get_historical_data", "get_market_data"}, names)

	out, err := h.CallTool(ctx, "get_current_price", map[string]any{"coin_id": "bitcoin"})
	require.NoError(t, err)
	assert.Contains(t, out, `"price": 64000.5`)

	out, err = h.CallTool(ctx, "get_historical_data", map[string]any{"coin_id": "bitcoin", "days": 7})
	require.NoError(t, err)
	assert.Contains(t, out, `"max_price": 120`)

	_, err = h.CallTool(ctx, "get_market_data", map[string]any{"coin_id": "nope"})
	assert.Error(t, err)
}
