// Package store persists analyses, trade decisions and orders.
package store

import (
	"context"
	"errors"
	"time"

	"polyagent/internal/decision"
	"polyagent/internal/executor"
)

// ErrNotFound is returned when a trace ref has no analysis row.
var ErrNotFound = errors.New("store: record not found")

// DecisionLog is the read/write surface used by the trader and the HTTP API.
type DecisionLog interface {
	decision.AnalysisObserver
	executor.Journal

	RecordDecision(ctx context.Context, d decision.TradeDecision) error
	ListAnalyses(ctx context.Context, limit int) ([]AnalysisRecord, error)
	AnalysisByTrace(ctx context.Context, traceRef string) (AnalysisRecord, error)
	OrdersByTrace(ctx context.Context, traceRef string) ([]OrderRecord, error)
	Close() error
}

// AnalysisRecord is one logged analysis with its decision, if any.
type AnalysisRecord struct {
	TraceRef       string    `json:"trace_ref"`
	MarketID       string    `json:"market_id"`
	Question       string    `json:"question"`
	Model          string    `json:"model"`
	Mode           string    `json:"mode"`
	Recommendation string    `json:"recommendation"`
	Confidence     float64   `json:"confidence"`
	Reasoning      string    `json:"reasoning"`
	FullText       string    `json:"full_text,omitempty"`
	ParseNote      string    `json:"parse_note,omitempty"`
	Error          string    `json:"error,omitempty"`
	FallbackReason string    `json:"fallback_reason,omitempty"`
	ToolCalls      int       `json:"tool_calls"`
	DurationMs     int64     `json:"duration_ms"`
	ShouldTrade    *bool     `json:"should_trade,omitempty"`
	Side           string    `json:"side,omitempty"`
	AmountUSDC     float64   `json:"amount_usdc,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// OrderRecord is one logged order.
type OrderRecord struct {
	OrderID    string    `json:"order_id"`
	TraceRef   string    `json:"trace_ref"`
	MarketID   string    `json:"market_id"`
	Side       string    `json:"side"`
	Outcome    string    `json:"outcome"`
	AmountUSDC float64   `json:"amount_usdc"`
	Status     string    `json:"status"`
	Message    string    `json:"message,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
