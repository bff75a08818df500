// Package executor turns trade decisions into orders.
package executor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"polyagent/internal/decision"
	"polyagent/internal/errs"
	"polyagent/internal/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus is the final state of an order.
type OrderStatus string

const (
	StatusDryRun   OrderStatus = "dry_run"
	StatusRejected OrderStatus = "rejected"
)

// OrderResult is what an Executor reports back for one order.
type OrderResult struct {
	OrderID  string      `json:"order_id"`
	Status   OrderStatus `json:"status"`
	PlacedAt time.Time   `json:"placed_at"`
	Message  string      `json:"message,omitempty"`
}

// Executor places orders. Implementations must be safe for concurrent use.
type Executor interface {
	Place(ctx context.Context, req decision.OrderRequest) (OrderResult, error)
}

// Journal persists placed orders.
type Journal interface {
	SaveOrder(ctx context.Context, req decision.OrderRequest, res OrderResult) error
}

// OrderObserver is told about every placed or rejected order.
type OrderObserver interface {
	ObserveOrder(status string)
}

// DryRunExecutor records orders and never submits them anywhere.
type DryRunExecutor struct {
	journal  Journal
	observer OrderObserver
	maxUSDC  decimal.Decimal
	now      func() time.Time

	mu     sync.Mutex
	placed []decision.OrderRequest
}

// NewDryRunExecutor caps every order at maxUSDC; zero disables the cap.
// journal and observer may be nil.
func NewDryRunExecutor(maxUSDC float64, journal Journal, observer OrderObserver) *DryRunExecutor {
	return &DryRunExecutor{
		journal:  journal,
		observer: observer,
		maxUSDC:  decimal.NewFromFloat(maxUSDC),
		now:      time.Now,
	}
}

func (e *DryRunExecutor) Place(ctx context.Context, req decision.OrderRequest) (OrderResult, error) {
	if err := validateOrder(req, e.maxUSDC); err != nil {
		e.observe(StatusRejected)
		return OrderResult{Status: StatusRejected, PlacedAt: e.now(), Message: err.Error()}, err
	}
	res := OrderResult{
		OrderID:  "dry-" + uuid.NewString(),
		Status:   StatusDryRun,
		PlacedAt: e.now(),
		Message:  "safety mode: order not submitted",
	}
	logger.Infof("[executor] DRY RUN market=%s side=%s outcome=%s amount=%.2f USDC trace=%s",
		req.MarketID, req.Side, req.Outcome, req.AmountUSDC, req.TraceRef)

	e.mu.Lock()
	e.placed = append(e.placed, req)
	e.mu.Unlock()

	if e.journal != nil {
		if err := e.journal.SaveOrder(ctx, req, res); err != nil {
			logger.Warnf("[executor] persist dry-run order %s failed: %v", res.OrderID, err)
		}
	}
	e.observe(StatusDryRun)
	return res, nil
}

// Placed returns a copy of every accepted order, oldest first.
func (e *DryRunExecutor) Placed() []decision.OrderRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]decision.OrderRequest(nil), e.placed...)
}

func (e *DryRunExecutor) observe(status OrderStatus) {
	if e.observer != nil {
		e.observer.ObserveOrder(string(status))
	}
}

func validateOrder(req decision.OrderRequest, maxUSDC decimal.Decimal) error {
	if strings.TrimSpace(req.MarketID) == "" {
		return errs.Permanent(fmt.Errorf("order: market id is required"))
	}
	if req.Side != decision.SideYes && req.Side != decision.SideNo {
		return errs.Permanent(fmt.Errorf("order: unsupported side %q", req.Side))
	}
	amount := decimal.NewFromFloat(req.AmountUSDC)
	if !amount.IsPositive() {
		return errs.Permanent(fmt.Errorf("order: amount must be positive, got %s", amount))
	}
	if maxUSDC.IsPositive() && amount.GreaterThan(maxUSDC) {
		return errs.Permanent(fmt.Errorf("order: amount %s exceeds cap %s USDC", amount, maxUSDC))
	}
	return nil
}
