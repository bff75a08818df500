package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"polyagent/internal/decision"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_Counts(t *testing.T) {
	r := New()

	r.ObserveAttempt("analysis.tool_less", 1, errors.New("502"))
	r.ObserveAttempt("analysis.tool_less", 2, nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.retryAttempts.WithLabelValues("analysis.tool_less", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.retryAttempts.WithLabelValues("analysis.tool_less", "success")))

	r.ObserveToolServer(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.toolServerUp))
	r.ObserveToolServer(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(r.toolServerUp))

	r.AfterAnalysis(context.Background(), decision.AnalysisTrace{
		Outcome:        decision.AnalysisOutcome{Mode: decision.ModeToolLess, Recommendation: decision.Hold, Error: "timeout"},
		FallbackReason: "tool server not configured",
		Duration:       time.Second,
	})
	assert.Equal(t, 1.0, testutil.ToFloat64(r.analyses.WithLabelValues("TOOL_LESS", "ERROR")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.fallbacks.WithLabelValues("not_configured")))

	r.ObserveDecision(decision.TradeDecision{ShouldTrade: true, Side: decision.SideYes})
	r.ObserveDecision(decision.TradeDecision{})
	assert.Equal(t, 1.0, testutil.ToFloat64(r.tradeDecisions.WithLabelValues("YES")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.tradeDecisions.WithLabelValues("none")))

	r.ObserveOrder("dry_run")
	assert.Equal(t, 1.0, testutil.ToFloat64(r.orders.WithLabelValues("dry_run")))
}

func TestRecorder_InstancesAreIsolated(t *testing.T) {
	a, b := New(), New()
	a.ObserveOrder("dry_run")
	assert.Equal(t, 0.0, testutil.ToFloat64(b.orders.WithLabelValues("dry_run")))
}

func TestRecorder_Handler(t *testing.T) {
	r := New()
	r.ObserveOrder("dry_run")
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `polyagent_orders_total{status="dry_run"} 1`)
}

func TestFallbackLabel(t *testing.T) {
	cases := map[string]string{
		"tool server not configured":                         "not_configured",
		"circuit open":                                       "circuit_open",
		"toolserver: url is invalid":                         "config_invalid",
		"tool server http://x: dial tcp: connection refused": "tool_server_error",
		"analysis.tool_augmented failed after 3 attempts: x": "retries_exhausted",
		"attempt timed out after 2m0s":                       "timeout",
		"openai returned 400":                                "model_error",
	}
	for in, want := range cases {
		assert.Equal(t, want, fallbackLabel(in), in)
	}
}
