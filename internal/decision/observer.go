package decision

import (
	"context"
	"time"
)

// AnalysisObserver is called after every analysis ends in DONE or ERROR.
type AnalysisObserver interface {
	AfterAnalysis(ctx context.Context, trace AnalysisTrace)
}

// AnalysisTrace holds the inputs and result of one analysis call.
type AnalysisTrace struct {
	Request      AnalysisRequest
	Outcome      AnalysisOutcome
	Model        string
	Instructions string
	Input        string
	// FallbackReason is set when the tool-augmented path was skipped or failed.
	FallbackReason string
	ToolCalls      int
	StartedAt      time.Time
	Duration       time.Duration
}

// Observers fans one trace out to several observers.
type Observers []AnalysisObserver

func (obs Observers) AfterAnalysis(ctx context.Context, trace AnalysisTrace) {
	for _, o := range obs {
		if o != nil {
			o.AfterAnalysis(ctx, trace)
		}
	}
}
