// Package apihttp is the gin HTTP surface of polyagent.
package apihttp

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"polyagent/internal/decision"
	"polyagent/internal/logger"
	"polyagent/internal/store"
	"polyagent/internal/toolserver"
	"polyagent/internal/trader"

	"github.com/gin-gonic/gin"
)

// Evaluator is satisfied by *trader.Trader.
type Evaluator interface {
	Evaluate(ctx context.Context, m decision.MarketSnapshot) trader.Evaluation
	EvaluateByID(ctx context.Context, id string) (trader.Evaluation, error)
}

// Inspector is satisfied by *toolserver.Manager.
type Inspector interface {
	Inspect(ctx context.Context, cfg toolserver.Config) toolserver.Inspection
}

// DecisionReader is the read side of the decision log.
type DecisionReader interface {
	ListAnalyses(ctx context.Context, limit int) ([]store.AnalysisRecord, error)
	AnalysisByTrace(ctx context.Context, traceRef string) (store.AnalysisRecord, error)
	OrdersByTrace(ctx context.Context, traceRef string) ([]store.OrderRecord, error)
}

// Router mounts the analysis and query endpoints under /api. A nil Evaluator or
// Decisions turns its endpoints into a 503; a nil Inspector reports "unavailable".
type Router struct {
	Evaluator     Evaluator
	Inspector     Inspector
	ToolConfig    toolserver.Config
	Decisions     DecisionReader
	AnalyzeBudget time.Duration
}

// Register mounts the routes on group.
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/toolserver", r.handleToolServer)
	group.POST("/analyze", r.handleAnalyze)
	group.GET("/decisions", r.handleDecisions)
	group.GET("/decisions/:trace", r.handleDecisionByTrace)
}

// analyzeRequest accepts either a full market snapshot or just a market id.
type analyzeRequest struct {
	MarketID string                   `json:"market_id"`
	Market   *decision.MarketSnapshot `json:"market"`
}

type analyzeResponse struct {
	Outcome  decision.AnalysisOutcome `json:"outcome"`
	Decision decision.TradeDecision   `json:"decision"`
	Market   decision.MarketSnapshot  `json:"market"`
}

func (r *Router) handleAnalyze(c *gin.Context) {
	if r.Evaluator == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "analysis not enabled"})
		return
	}
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body: " + err.Error()})
		return
	}
	ctx := c.Request.Context()
	if r.AnalyzeBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.AnalyzeBudget)
		defer cancel()
	}

	var ev trader.Evaluation
	switch {
	case req.Market != nil && strings.TrimSpace(req.Market.Question) != "":
		ev = r.Evaluator.Evaluate(ctx, *req.Market)
	case strings.TrimSpace(req.MarketID) != "":
		var err error
		ev, err = r.Evaluator.EvaluateByID(ctx, req.MarketID)
		if err != nil {
			logger.Warnf("[api] analyze market=%s fetch failed ip=%s err=%v", req.MarketID, c.ClientIP(), err)
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "market_id or market.question is required"})
		return
	}
	// Analysis failures are data, not server errors: the outcome carries them.
	c.JSON(http.StatusOK, analyzeResponse{Outcome: ev.Outcome, Decision: ev.Decision, Market: ev.Market})
}

func (r *Router) handleToolServer(c *gin.Context) {
	if r.Inspector == nil {
		c.JSON(http.StatusOK, toolserver.Inspection{
			Availability: toolserver.Unavailable.String(),
			Reason:       "tool server not configured",
			Info:         toolserver.ServerInfo{Status: toolserver.StatusUnavailable},
		})
		return
	}
	c.JSON(http.StatusOK, r.Inspector.Inspect(c.Request.Context(), r.ToolConfig))
}

func (r *Router) handleDecisions(c *gin.Context) {
	if r.Decisions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "decision log not enabled"})
		return
	}
	limit := 50
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = v
	}
	records, err := r.Decisions.ListAnalyses(c.Request.Context(), limit)
	if err != nil {
		logger.Errorf("[api] list decisions failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"decisions": records, "count": len(records)})
}

func (r *Router) handleDecisionByTrace(c *gin.Context) {
	if r.Decisions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "decision log not enabled"})
		return
	}
	ref := strings.TrimSpace(c.Param("trace"))
	ctx := c.Request.Context()
	rec, err := r.Decisions.AnalysisByTrace(ctx, ref)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "decision not found"})
			return
		}
		logger.Errorf("[api] decision detail failed ip=%s trace=%s err=%v", c.ClientIP(), ref, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	orders, err := r.Decisions.OrdersByTrace(ctx, ref)
	if err != nil {
		logger.Warnf("[api] orders for trace=%s failed: %v", ref, err)
	}
	c.JSON(http.StatusOK, gin.H{"decision": rec, "orders": orders})
}
