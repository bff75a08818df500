package model

import "gorm.io/datatypes"

// AnalysisModel maps to 'analyses': one row per AnalysisPipeline call.
type AnalysisModel struct {
	ID             int64          `gorm:"column:id;primaryKey"`
	TraceRef       string         `gorm:"column:trace_ref;uniqueIndex"`
	MarketID       string         `gorm:"column:market_id;index"`
	Question       string         `gorm:"column:question"`
	Model          string         `gorm:"column:model"`
	Mode           string         `gorm:"column:mode"`
	Recommendation string         `gorm:"column:recommendation"`
	Confidence     float64        `gorm:"column:confidence"`
	Reasoning      string         `gorm:"column:reasoning"`
	FullText       string         `gorm:"column:full_text"`
	ParseNote      string         `gorm:"column:parse_note"`
	Error          string         `gorm:"column:error"`
	FallbackReason string         `gorm:"column:fallback_reason"`
	ToolCalls      int            `gorm:"column:tool_calls"`
	DurationMs     int64          `gorm:"column:duration_ms"`
	Prompt         datatypes.JSON `gorm:"column:prompt;type:TEXT"`
	Market         datatypes.JSON `gorm:"column:market;type:TEXT"`

	// Filled once the decision engine has run.
	ShouldTrade *bool   `gorm:"column:should_trade"`
	Side        string  `gorm:"column:side"`
	AmountUSDC  float64 `gorm:"column:amount_usdc"`

	CreatedAtUnix int64 `gorm:"column:created_at;index"`
	UpdatedAtUnix int64 `gorm:"column:updated_at"`
}

func (AnalysisModel) TableName() string { return "analyses" }

// OrderModel maps to 'orders'.
type OrderModel struct {
	ID            int64   `gorm:"column:id;primaryKey"`
	OrderID       string  `gorm:"column:order_id;uniqueIndex"`
	TraceRef      string  `gorm:"column:trace_ref;index"`
	MarketID      string  `gorm:"column:market_id"`
	Side          string  `gorm:"column:side"`
	Outcome       string  `gorm:"column:outcome"`
	AmountUSDC    float64 `gorm:"column:amount_usdc"`
	Status        string  `gorm:"column:status"`
	Message       string  `gorm:"column:message"`
	CreatedAtUnix int64   `gorm:"column:created_at"`
}

func (OrderModel) TableName() string { return "orders" }
