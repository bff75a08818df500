package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"polyagent/internal/decision"
	"polyagent/internal/executor"
	applog "polyagent/internal/logger"
	"polyagent/internal/store"
	storemodel "polyagent/internal/store/model"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type analysisModel = storemodel.AnalysisModel
type orderModel = storemodel.OrderModel

// GormStore implements store.DecisionLog using Gorm + SQLite.
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

var _ store.DecisionLog = (*GormStore)(nil)

// NewGormStore opens (and migrates) the SQLite file at path.
func NewGormStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: 决策日志路径不能为空")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&analysisModel{}, &orderModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: a little read parallelism for the HTTP API, low lock contention.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// AfterAnalysis persists every finished analysis. Failures are logged only:
// the log must never change an analysis result.
func (s *GormStore) AfterAnalysis(ctx context.Context, trace decision.AnalysisTrace) {
	if err := s.SaveAnalysis(context.WithoutCancel(ctx), trace); err != nil {
		applog.Warnf("[store] save analysis trace=%s failed: %v", trace.Outcome.TraceRef, err)
	}
}

// SaveAnalysis upserts by trace ref.
func (s *GormStore) SaveAnalysis(ctx context.Context, trace decision.AnalysisTrace) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	out := trace.Outcome
	if strings.TrimSpace(out.TraceRef) == "" {
		return fmt.Errorf("analysis without trace ref")
	}
	prompt, err := json.Marshal(map[string]string{
		"instructions": trace.Instructions,
		"input":        trace.Input,
	})
	if err != nil {
		return err
	}
	market, err := json.Marshal(map[string]any{
		"question":    trace.Request.Question,
		"description": trace.Request.Description,
		"outcomes":    trace.Request.Outcomes(),
		"liquidity":   trace.Request.Liquidity,
		"spread":      trace.Request.Spread,
		"volume":      trace.Request.Volume,
		"taken_at":    trace.Request.TakenAt,
	})
	if err != nil {
		return err
	}
	now := s.now().Unix()
	row := analysisModel{
		TraceRef:       out.TraceRef,
		MarketID:       out.MarketID,
		Question:       trace.Request.Question,
		Model:          trace.Model,
		Mode:           string(out.Mode),
		Recommendation: string(out.Recommendation),
		Confidence:     out.Confidence,
		Reasoning:      out.Reasoning,
		FullText:       out.FullText,
		ParseNote:      out.ParseNote,
		Error:          out.Error,
		FallbackReason: trace.FallbackReason,
		ToolCalls:      trace.ToolCalls,
		DurationMs:     trace.Duration.Milliseconds(),
		Prompt:         datatypes.JSON(prompt),
		Market:         datatypes.JSON(market),
		CreatedAtUnix:  now,
		UpdatedAtUnix:  now,
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "trace_ref"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"mode", "recommendation", "confidence", "reasoning", "full_text",
				"parse_note", "error", "fallback_reason", "tool_calls", "duration_ms", "updated_at",
			}),
		}).
		Create(&row).Error
}

// RecordDecision attaches the engine's verdict to the analysis row.
func (s *GormStore) RecordDecision(ctx context.Context, d decision.TradeDecision) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	ref := strings.TrimSpace(d.Source.TraceRef)
	if ref == "" {
		return fmt.Errorf("decision without trace ref")
	}
	res := s.db.WithContext(ctx).Model(&analysisModel{}).
		Where("trace_ref = ?", ref).
		Updates(map[string]interface{}{
			"should_trade": d.ShouldTrade,
			"side":         string(d.Side),
			"amount_usdc":  d.Amount,
			"updated_at":   s.now().Unix(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("trace %s: %w", ref, store.ErrNotFound)
	}
	return nil
}

// SaveOrder implements executor.Journal.
func (s *GormStore) SaveOrder(ctx context.Context, req decision.OrderRequest, res executor.OrderResult) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	placed := res.PlacedAt
	if placed.IsZero() {
		placed = s.now()
	}
	row := orderModel{
		OrderID:       res.OrderID,
		TraceRef:      req.TraceRef,
		MarketID:      req.MarketID,
		Side:          string(req.Side),
		Outcome:       req.Outcome,
		AmountUSDC:    req.AmountUSDC,
		Status:        string(res.Status),
		Message:       res.Message,
		CreatedAtUnix: placed.Unix(),
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

// ListAnalyses returns the newest analyses first. limit is clamped to [1,500].
func (s *GormStore) ListAnalyses(ctx context.Context, limit int) ([]store.AnalysisRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	var rows []analysisModel
	if err := s.db.WithContext(ctx).Order("created_at DESC, id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]store.AnalysisRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, analysisModelToRecord(r))
	}
	return out, nil
}

func (s *GormStore) AnalysisByTrace(ctx context.Context, traceRef string) (store.AnalysisRecord, error) {
	if s == nil || s.db == nil {
		return store.AnalysisRecord{}, fmt.Errorf("gorm store 未初始化")
	}
	var row analysisModel
	err := s.db.WithContext(ctx).Where("trace_ref = ?", strings.TrimSpace(traceRef)).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.AnalysisRecord{}, store.ErrNotFound
	}
	if err != nil {
		return store.AnalysisRecord{}, err
	}
	return analysisModelToRecord(row), nil
}

func (s *GormStore) OrdersByTrace(ctx context.Context, traceRef string) ([]store.OrderRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	var rows []orderModel
	if err := s.db.WithContext(ctx).Where("trace_ref = ?", strings.TrimSpace(traceRef)).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]store.OrderRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, store.OrderRecord{
			OrderID:    r.OrderID,
			TraceRef:   r.TraceRef,
			MarketID:   r.MarketID,
			Side:       r.Side,
			Outcome:    r.Outcome,
			AmountUSDC: r.AmountUSDC,
			Status:     r.Status,
			Message:    r.Message,
			CreatedAt:  time.Unix(r.CreatedAtUnix, 0),
		})
	}
	return out, nil
}

func analysisModelToRecord(m analysisModel) store.AnalysisRecord {
	return store.AnalysisRecord{
		TraceRef:       m.TraceRef,
		MarketID:       m.MarketID,
		Question:       m.Question,
		Model:          m.Model,
		Mode:           m.Mode,
		Recommendation: m.Recommendation,
		Confidence:     m.Confidence,
		Reasoning:      m.Reasoning,
		FullText:       m.FullText,
		ParseNote:      m.ParseNote,
		Error:          m.Error,
		FallbackReason: m.FallbackReason,
		ToolCalls:      m.ToolCalls,
		DurationMs:     m.DurationMs,
		ShouldTrade:    m.ShouldTrade,
		Side:           m.Side,
		AmountUSDC:     m.AmountUSDC,
		CreatedAt:      time.Unix(m.CreatedAtUnix, 0),
	}
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
