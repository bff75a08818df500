package gormstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"polyagent/internal/decision"
	"polyagent/internal/executor"
	"polyagent/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *GormStore {
	t.Helper()
	s, err := NewGormStore(filepath.Join(t.TempDir(), "nested", "polyagent.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleTrace(ref string, at time.Time) decision.AnalysisTrace {
	req := decision.NewAnalysisRequest(decision.MarketSnapshot{
		ID:            "m-" + ref,
		Question:      "Will it happen?",
		Outcomes:      []string{"Yes", "No"},
		OutcomePrices: []float64{0.3, 0.7},
		Liquidity:     1000,
	}, at)
	return decision.AnalysisTrace{
		Request: req,
		Outcome: decision.AnalysisOutcome{
			MarketID:       req.MarketID,
			Recommendation: decision.Buy,
			Confidence:     0.8,
			Reasoning:      "cheap",
			Mode:           decision.ModeToolAugmented,
			TraceRef:       ref,
		},
		Model:        "openai:gpt-4o",
		Instructions: "sys",
		Input:        "user",
		ToolCalls:    2,
		Duration:     1500 * time.Millisecond,
	}
}

func TestAnalysisRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	s.now = func() time.Time { return base }
	s.AfterAnalysis(ctx, sampleTrace("trace_a", base))
	s.now = func() time.Time { return base.Add(time.Minute) }
	s.AfterAnalysis(ctx, sampleTrace("trace_b", base))

	rec, err := s.AnalysisByTrace(ctx, "trace_a")
	require.NoError(t, err)
	assert.Equal(t, "m-trace_a", rec.MarketID)
	assert.Equal(t, "BUY", rec.Recommendation)
	assert.Equal(t, "TOOL_AUGMENTED", rec.Mode)
	assert.Equal(t, int64(1500), rec.DurationMs)
	assert.Equal(t, 2, rec.ToolCalls)
	assert.Nil(t, rec.ShouldTrade)

	list, err := s.ListAnalyses(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "trace_b", list[0].TraceRef)

	_, err = s.AnalysisByTrace(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSaveAnalysis_UpsertsByTrace(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	tr := sampleTrace("trace_x", time.Now())
	require.NoError(t, s.SaveAnalysis(ctx, tr))

	tr.Outcome.Recommendation = decision.Hold
	tr.Outcome.Error = "boom"
	require.NoError(t, s.SaveAnalysis(ctx, tr))

	list, err := s.ListAnalyses(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "HOLD", list[0].Recommendation)
	assert.Equal(t, "boom", list[0].Error)
}

func TestRecordDecisionAndOrders(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	tr := sampleTrace("trace_d", time.Now())
	require.NoError(t, s.SaveAnalysis(ctx, tr))

	d := decision.TradeDecision{ShouldTrade: true, Side: decision.SideYes, Amount: 10, Source: tr.Outcome}
	require.NoError(t, s.RecordDecision(ctx, d))

	rec, err := s.AnalysisByTrace(ctx, "trace_d")
	require.NoError(t, err)
	require.NotNil(t, rec.ShouldTrade)
	assert.True(t, *rec.ShouldTrade)
	assert.Equal(t, "YES", rec.Side)
	assert.Equal(t, 10.0, rec.AmountUSDC)

	req, ok := d.OrderRequest()
	require.True(t, ok)
	require.NoError(t, s.SaveOrder(ctx, req, executor.OrderResult{OrderID: "dry-1", Status: executor.StatusDryRun, PlacedAt: time.Now()}))
	orders, err := s.OrdersByTrace(ctx, "trace_d")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "dry_run", orders[0].Status)
	assert.Equal(t, "Yes", orders[0].Outcome)

	d.Source.TraceRef = "unknown"
	assert.ErrorIs(t, s.RecordDecision(ctx, d), store.ErrNotFound)
}

func TestNewGormStore_RequiresPath(t *testing.T) {
	_, err := NewGormStore("  ")
	assert.Error(t, err)
}
