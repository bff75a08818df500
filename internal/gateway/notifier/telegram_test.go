package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"polyagent/internal/decision"
	"polyagent/internal/errs"
	"polyagent/internal/executor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastTelegram(base string) *Telegram {
	tg := NewTelegram("token", "chat")
	tg.BaseURL = base
	tg.Retry.BaseDelay = time.Millisecond
	tg.Retry.MaxDelay = 5 * time.Millisecond
	return tg
}

func TestTelegram_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bottoken/sendMessage", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "chat", body["chat_id"])
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, fastTelegram(srv.URL).SendText(context.Background(), "hello"))
	assert.Equal(t, int32(2), hits.Load())
}

func TestTelegram_ClientErrorIsPermanent(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := fastTelegram(srv.URL).SendText(context.Background(), "hello")
	require.Error(t, err)
	assert.False(t, errs.Retryable(err))
	assert.Equal(t, int32(1), hits.Load())
}

func TestTelegram_RequiresCredentials(t *testing.T) {
	err := NewTelegram("", "").SendText(context.Background(), "x")
	assert.True(t, errs.IsConfiguration(err))
}

func TestOrderMessage(t *testing.T) {
	m := decision.MarketSnapshot{ID: "m1", Question: "Will it snow?"}
	d := decision.TradeDecision{
		ShouldTrade: true,
		Side:        decision.SideYes,
		Amount:      10,
		Source: decision.AnalysisOutcome{
			Recommendation: decision.Buy,
			Confidence:     0.82,
			Mode:           decision.ModeToolLess,
			Reasoning:      "cold front",
			TraceURL:       "https://example.com/trace_1",
		},
	}
	res := executor.OrderResult{OrderID: "dry-1", Status: executor.StatusDryRun, PlacedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}

	text := OrderMessage(m, d, res).RenderMarkdown()
	assert.Contains(t, text, "Will it snow?")
	assert.Contains(t, text, "10.00 USDC")
	assert.Contains(t, text, "置信度 82%")
	assert.Contains(t, text, "dry-1")
	assert.Contains(t, text, "cold front")
	assert.Contains(t, text, "https://example.com/trace_1")
	assert.Contains(t, text, "2026-01-02 03:04:05 UTC")
}
