package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"polyagent/internal/config"
	"polyagent/internal/decision"
	"polyagent/internal/errs"
	"polyagent/internal/executor"
	"polyagent/internal/gateway/polymarket"
	"polyagent/internal/gateway/provider"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cannedModel struct {
	mu    sync.Mutex
	calls []provider.Invocation
}

func (m *cannedModel) ID() string { return "canned" }

func (m *cannedModel) Run(_ context.Context, inv provider.Invocation) (provider.Result, error) {
	m.mu.Lock()
	m.calls = append(m.calls, inv)
	m.mu.Unlock()
	text := "Recommendation: HOLD\nConfidence: 40%\nReasoning: unclear"
	if strings.Contains(inv.Input, "Will BTC close above 100k?") {
		text = "Recommendation: BUY\nConfidence: 85%\nReasoning: momentum"
	}
	return provider.Result{Text: text, Model: "canned"}, nil
}

type staticMarkets []decision.MarketSnapshot

func (s staticMarkets) Markets(context.Context, int) ([]decision.MarketSnapshot, error) {
	return s, nil
}

func (s staticMarkets) Market(_ context.Context, id string) (decision.MarketSnapshot, error) {
	for _, m := range s {
		if m.ID == id {
			return m, nil
		}
	}
	return decision.MarketSnapshot{}, assert.AnError
}

var testMarkets = staticMarkets{
	{ID: "btc", Question: "Will BTC close above 100k?", Outcomes: []string{"Yes", "No"}, OutcomePrices: []float64{0.4, 0.6}, Liquidity: 5000, Spread: 0.02},
	{ID: "rain", Question: "Will it rain in Paris?", Outcomes: []string{"Yes", "No"}, OutcomePrices: []float64{0.5, 0.5}, Liquidity: 2000, Spread: 0.03},
}

func buildTestApp(t *testing.T) (*App, *cannedModel) {
	t.Helper()
	t.Setenv("MCP_REMOTE_ENDPOINT", "")
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Store.Path = filepath.Join(t.TempDir(), "polyagent.db")
	cfg.MCP.Enabled = false

	model := &cannedModel{}
	a, err := NewAppBuilder(cfg, WithModelProvider(model), WithMarketSource(testMarkets)).Build(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a, model
}

func TestTrade_ExecutesDryRunAndLogs(t *testing.T) {
	a, model := buildTestApp(t)
	ctx := context.Background()

	report, err := a.Trade(ctx, true)
	require.NoError(t, err)
	require.NotNil(t, report.Best)
	assert.Equal(t, "btc", report.Best.Market.ID)
	require.NotNil(t, report.Order)
	assert.Equal(t, executor.StatusDryRun, report.Order.Status)
	assert.Len(t, model.calls, 2)
	for _, inv := range model.calls {
		assert.Empty(t, inv.Tools)
	}

	records, err := a.decisions.ListAnalyses(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, records, 2)
	orders, err := a.decisions.OrdersByTrace(ctx, report.Best.Outcome.TraceRef)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "btc", orders[0].MarketID)
}

func TestAnalyze_UnknownMarket(t *testing.T) {
	a, _ := buildTestApp(t)
	_, err := a.Analyze(context.Background(), "missing")
	assert.ErrorIs(t, err, assert.AnError)
}

func TestToolServer_DisabledIsUnavailable(t *testing.T) {
	a, _ := buildTestApp(t)
	ins := a.ToolServer(context.Background())
	assert.Equal(t, "unavailable", ins.Availability)
}

func TestAPI_HealthAndMetrics(t *testing.T) {
	a, _ := buildTestApp(t)
	_, err := a.Trade(context.Background(), false)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	a.api.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `polyagent_analysis_total{mode="TOOL_LESS",recommendation="BUY"} 1`)
	assert.Contains(t, w.Body.String(), "polyagent_trade_decisions_total")
}

func TestBuild_RejectsInvalidToolServer(t *testing.T) {
	t.Setenv("MCP_REMOTE_ENDPOINT", "")
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Store.Path = filepath.Join(t.TempDir(), "polyagent.db")
	cfg.MCP.Enabled = true
	cfg.MCP.URL = "ftp://tools.example.com/sse"

	_, err = NewAppBuilder(cfg, WithModelProvider(&cannedModel{}), WithMarketSource(testMarkets)).Build(context.Background())
	require.Error(t, err)
	assert.True(t, errs.IsConfiguration(err))
}

type eventMarkets struct {
	staticMarkets
	events []polymarket.Event
}

func (e eventMarkets) Events(context.Context, int) ([]polymarket.Event, error) {
	return e.events, nil
}

func TestAsk_UsesAnalystPromptWithoutTools(t *testing.T) {
	a, model := buildTestApp(t)
	res, err := a.Ask(context.Background(), "Will BTC close above 100k?")
	require.NoError(t, err)
	assert.Contains(t, res.Text, "Recommendation: BUY")
	require.Len(t, model.calls, 1)
	assert.Empty(t, model.calls[0].Tools)
	assert.Contains(t, model.calls[0].Instructions, "market analyst")

	_, err = a.Ask(context.Background(), "  ")
	assert.Error(t, err)
}

func TestEvents_FiltersAndLimits(t *testing.T) {
	t.Setenv("MCP_REMOTE_ENDPOINT", "")
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Store.Path = filepath.Join(t.TempDir(), "polyagent.db")
	src := eventMarkets{staticMarkets: testMarkets, events: []polymarket.Event{
		{ID: "1", Title: "one", MarketIDs: []string{"a"}},
		{ID: "2", Title: "three", MarketIDs: []string{"a", "b", "c"}},
		{ID: "3", Title: "restricted", Restricted: true, MarketIDs: []string{"a", "b", "c", "d"}},
		{ID: "4", Title: "two", MarketIDs: []string{"a", "b"}},
	}}
	a, err := NewAppBuilder(cfg, WithModelProvider(&cannedModel{}), WithMarketSource(src)).Build(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	events, err := a.Events(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "2", events[0].ID)
	assert.Equal(t, "4", events[1].ID)
}

func TestEvents_UnsupportedSource(t *testing.T) {
	a, _ := buildTestApp(t)
	_, err := a.Events(context.Background(), 5)
	assert.Error(t, err)
}
