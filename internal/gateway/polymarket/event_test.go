package polymarket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eventsPayload = `[
  {"id":"9","title":"US Election","slug":"us-election","liquidity":"120000","volume":5000000,
   "markets":[{"id":"1"},{"id":"2"},{"id":"3"}]},
  {"id":"10","title":"Fed decision","restricted":true,"markets":[{"id":"4"},{"id":"5"},{"id":"6"},{"id":"7"}]},
  {"id":"11","title":"Rain in NYC","liquidityNum":900,"markets":[{"id":"8"}]},
  {"id":"12","title":"Empty","markets":[]},
  {"id":"","title":"broken"}
]`

func TestEvents_DecodesAndFilters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/events", r.URL.Path)
		assert.Equal(t, "false", r.URL.Query().Get("archived"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(eventsPayload))
	}))
	defer srv.Close()

	events, err := newTestClient(t, srv.URL).Events(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, events, 4)
	assert.Equal(t, "us-election", events[0].Slug)
	assert.InDelta(t, 120000, events[0].Liquidity, 1e-9)
	assert.InDelta(t, 5000000, events[0].Volume, 1e-9)
	assert.Equal(t, []string{"1", "2", "3"}, events[0].MarketIDs)
	assert.True(t, events[1].Restricted)
	assert.InDelta(t, 900, events[2].Liquidity, 1e-9)

	picked := TradeableEvents(events)
	require.Len(t, picked, 2)
	assert.Equal(t, "9", picked[0].ID)
	assert.Equal(t, "11", picked[1].ID)
}

func TestEvents_RejectsNonArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"error":"nope"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Events(context.Background(), 0)
	require.Error(t, err)
}
