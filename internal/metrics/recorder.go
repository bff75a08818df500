// Package metrics exposes Prometheus collectors for the analysis loop.
package metrics

import (
	"context"
	"net/http"
	"strings"

	"polyagent/internal/decision"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder owns its registry; the global default registry is never touched.
type Recorder struct {
	registry *prometheus.Registry

	analyses       *prometheus.CounterVec
	analysisTime   *prometheus.HistogramVec
	fallbacks      *prometheus.CounterVec
	retryAttempts  *prometheus.CounterVec
	toolServerUp   prometheus.Gauge
	tradeDecisions *prometheus.CounterVec
	orders         *prometheus.CounterVec
}

// New creates a recorder with Go runtime and process collectors registered.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Recorder{
		registry: reg,
		analyses: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "polyagent_analysis_total",
				Help: "Finished analyses by mode and recommendation",
			},
			[]string{"mode", "recommendation"},
		),
		analysisTime: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "polyagent_analysis_duration_seconds",
				Help:    "Wall time of one analysis call",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"mode"},
		),
		fallbacks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "polyagent_fallback_total",
				Help: "Analyses that fell back to the tool-less path",
			},
			[]string{"reason"},
		),
		retryAttempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "polyagent_retry_attempts_total",
				Help: "Retry attempts by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		toolServerUp: f.NewGauge(prometheus.GaugeOpts{
			Name: "polyagent_toolserver_available",
			Help: "1 when the last probe found the tool server available",
		}),
		tradeDecisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "polyagent_trade_decisions_total",
				Help: "Trade decisions by side; side=none means no trade",
			},
			[]string{"side"},
		),
		orders: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "polyagent_orders_total",
				Help: "Orders handed to the executor by resulting status",
			},
			[]string{"status"},
		),
	}
}

// Handler serves the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveAttempt implements retry.Observer.
func (r *Recorder) ObserveAttempt(operation string, _ int, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	r.retryAttempts.WithLabelValues(operation, outcome).Inc()
}

// ObserveToolServer implements toolserver.StatusObserver.
func (r *Recorder) ObserveToolServer(available bool) {
	if available {
		r.toolServerUp.Set(1)
		return
	}
	r.toolServerUp.Set(0)
}

// AfterAnalysis implements decision.AnalysisObserver.
func (r *Recorder) AfterAnalysis(_ context.Context, trace decision.AnalysisTrace) {
	out := trace.Outcome
	rec := string(out.Recommendation)
	if out.Failed() {
		rec = "ERROR"
	}
	r.analyses.WithLabelValues(string(out.Mode), rec).Inc()
	r.analysisTime.WithLabelValues(string(out.Mode)).Observe(trace.Duration.Seconds())
	if trace.FallbackReason != "" {
		r.fallbacks.WithLabelValues(fallbackLabel(trace.FallbackReason)).Inc()
	}
}

// ObserveDecision counts one engine verdict.
func (r *Recorder) ObserveDecision(d decision.TradeDecision) {
	side := string(d.Side)
	if !d.ShouldTrade {
		side = "none"
	}
	r.tradeDecisions.WithLabelValues(side).Inc()
}

// ObserveOrder implements executor.OrderObserver.
func (r *Recorder) ObserveOrder(status string) {
	r.orders.WithLabelValues(status).Inc()
}

// fallbackLabel keeps label cardinality bounded; raw reasons carry URLs and ids.
func fallbackLabel(reason string) string {
	lower := strings.ToLower(reason)
	switch {
	case strings.Contains(lower, "not configured"):
		return "not_configured"
	case strings.Contains(lower, "circuit open"):
		return "circuit_open"
	case strings.Contains(lower, "invalid"):
		return "config_invalid"
	case strings.Contains(lower, "deadline") || strings.Contains(lower, "timed out") || strings.Contains(lower, "timeout"):
		return "timeout"
	case strings.Contains(lower, "tool server"):
		return "tool_server_error"
	case strings.Contains(lower, "after ") && strings.Contains(lower, " attempts"):
		return "retries_exhausted"
	default:
		return "model_error"
	}
}
