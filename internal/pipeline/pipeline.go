package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"polyagent/internal/decision"
	"polyagent/internal/errs"
	"polyagent/internal/gateway/provider"
	"polyagent/internal/logger"
	"polyagent/internal/pkg/retry"
	textutil "polyagent/internal/pkg/text"
	"polyagent/internal/prompt"
	"polyagent/internal/toolserver"

	"github.com/google/uuid"
)

const failureReasoning = "Analysis failed due to technical error"

// ToolServers hands out tool-server handles. *toolserver.Manager satisfies it.
type ToolServers interface {
	Probe(ctx context.Context, cfg toolserver.Config) toolserver.Availability
}

// Options lists the pipeline dependencies. Model and Retry are required.
type Options struct {
	Model provider.ModelProvider
	// Tools may be nil; every analysis then runs tool-less.
	Tools      ToolServers
	ToolConfig toolserver.Config
	// Retry is the base policy for both paths. Retry.Timeout bounds each model attempt.
	Retry       retry.Policy
	MaxTokens   int
	Temperature *float64
	// TraceURLTemplate is formatted with the trace ref when it contains %s.
	TraceURLTemplate string
	Observer         decision.AnalysisObserver

	Now         func() time.Time
	NewTraceRef func() string
}

// Pipeline analyzes one market in two phases: a tool-augmented call first,
// then a tool-less call on fallback. Safe for concurrent use; each call owns
// its own state machine.
type Pipeline struct {
	opts Options
}

// New validates opts and returns a *errs.ConfigurationError on bad setup.
func New(opts Options) (*Pipeline, error) {
	if opts.Model == nil {
		return nil, errs.Configf("pipeline: model provider is required")
	}
	if err := opts.Retry.Validate(); err != nil {
		return nil, err
	}
	if opts.MaxTokens < 0 {
		return nil, errs.Configf("pipeline: max tokens must be >= 0, got %d", opts.MaxTokens)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewTraceRef == nil {
		opts.NewTraceRef = NewTraceRef
	}
	return &Pipeline{opts: opts}, nil
}

// NewTraceRef returns an OpenAI-style trace id.
func NewTraceRef() string {
	return "trace_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// attempt collects what one path produced.
type attempt struct {
	result       provider.Result
	instructions string
	input        string
}

// Analyze always returns an outcome. Technical failures of the last path turn
// into a HOLD with zero confidence and a populated Error; they are never
// returned as errors. ctx bounds the whole call, including both paths.
func (p *Pipeline) Analyze(ctx context.Context, market decision.MarketSnapshot) decision.AnalysisOutcome {
	m := newMachine()
	started := p.opts.Now()
	trace := decision.AnalysisTrace{Model: p.opts.Model.ID(), StartedAt: started}

	m.advance(StateBuildRequest)
	req := decision.NewAnalysisRequest(market, started)
	traceRef := p.opts.NewTraceRef()
	trace.Request = req

	outcome := p.run(ctx, m, req, traceRef, &trace)
	trace.Outcome = outcome
	trace.Duration = p.opts.Now().Sub(started)
	if p.opts.Observer != nil {
		p.opts.Observer.AfterAnalysis(ctx, trace)
	}
	return outcome
}

func (p *Pipeline) run(ctx context.Context, m *machine, req decision.AnalysisRequest, traceRef string, trace *decision.AnalysisTrace) decision.AnalysisOutcome {
	if strings.TrimSpace(req.Question) == "" {
		m.advance(StateError)
		return p.failure(req, traceRef, errs.Permanent(errors.New("market has no question")))
	}

	var (
		got  attempt
		mode = decision.ModeToolLess
	)
	avail := p.probe(ctx)
	if avail.Kind == toolserver.Available {
		m.advance(StateTryAugmented)
		res, err := p.tryAugmented(ctx, avail.Handle, req, traceRef)
		if err == nil {
			m.advance(StateSuccess)
			got, mode = res, decision.ModeToolAugmented
		} else {
			trace.FallbackReason = err.Error()
			logger.Warnf("[pipeline] market=%s trace=%s tool-augmented analysis failed, falling back: %s",
				req.MarketID, traceRef, textutil.Truncate(err.Error(), 200))
			m.advance(StateFallback)
		}
	} else {
		trace.FallbackReason = avail.Reason
		logger.Debugf("[pipeline] market=%s tool server %s: %s", req.MarketID, avail.Kind, avail.Reason)
		m.advance(StateFallback)
	}

	if m.state == StateFallback {
		m.advance(StateTryToolLess)
		res, err := p.tryToolLess(ctx, req, traceRef)
		if err != nil {
			trace.Instructions, trace.Input = res.instructions, res.input
			logger.Errorf("[pipeline] market=%s trace=%s analysis failed: %v", req.MarketID, traceRef, err)
			m.advance(StateError)
			return p.failure(req, traceRef, err)
		}
		got = res
	}
	trace.Instructions, trace.Input = got.instructions, got.input
	trace.ToolCalls = got.result.ToolCalls

	m.advance(StateParse)
	frag := decision.Parse(got.result.Text)
	if frag.Note != "" {
		logger.Debugf("[pipeline] market=%s parse note: %s", req.MarketID, frag.Note)
	}
	m.advance(StateDone)
	logger.Infof("[pipeline] market=%s mode=%s recommendation=%s confidence=%.2f",
		req.MarketID, mode, frag.Recommendation, frag.Confidence)

	return decision.AnalysisOutcome{
		MarketID:       req.MarketID,
		Recommendation: frag.Recommendation,
		Confidence:     frag.Confidence,
		Reasoning:      frag.Reasoning,
		FullText:       got.result.Text,
		Mode:           mode,
		TraceRef:       traceRef,
		TraceURL:       p.traceURL(traceRef),
		ParseNote:      frag.Note,
	}
}

func (p *Pipeline) probe(ctx context.Context) toolserver.Availability {
	if p.opts.Tools == nil {
		return toolserver.Availability{Kind: toolserver.Unavailable, Reason: "tool server not configured"}
	}
	return p.opts.Tools.Probe(ctx, p.opts.ToolConfig)
}

// tryAugmented owns h: it is closed on every exit path.
func (p *Pipeline) tryAugmented(ctx context.Context, h toolserver.Handle, req decision.AnalysisRequest, traceRef string) (attempt, error) {
	defer func() {
		if err := h.Close(); err != nil {
			logger.Warnf("[pipeline] close tool server: %v", err)
		}
	}()
	out := attempt{
		instructions: prompt.Instructions(true),
		input:        prompt.Input(req, true),
	}
	res, err := retry.Do(ctx, p.policy("analysis.tool_augmented"), func(ctx context.Context) (provider.Result, error) {
		if err := h.Connect(ctx); err != nil {
			return provider.Result{}, err
		}
		tools, err := h.Tools(ctx)
		if err != nil {
			return provider.Result{}, err
		}
		return p.opts.Model.Run(ctx, p.invocation(out, req, traceRef, decision.ModeToolAugmented, tools, h))
	})
	out.result = res
	return out, err
}

func (p *Pipeline) tryToolLess(ctx context.Context, req decision.AnalysisRequest, traceRef string) (attempt, error) {
	out := attempt{
		instructions: prompt.Instructions(false),
		input:        prompt.Input(req, false),
	}
	res, err := retry.Do(ctx, p.policy("analysis.tool_less"), func(ctx context.Context) (provider.Result, error) {
		return p.opts.Model.Run(ctx, p.invocation(out, req, traceRef, decision.ModeToolLess, nil, nil))
	})
	out.result = res
	return out, err
}

func (p *Pipeline) invocation(a attempt, req decision.AnalysisRequest, traceRef string, mode decision.Mode, tools []provider.Tool, caller provider.ToolCaller) provider.Invocation {
	return provider.Invocation{
		Instructions: a.instructions,
		Input:        a.input,
		Context:      prompt.Context(req, traceRef),
		Tools:        tools,
		Caller:       caller,
		MaxTokens:    p.opts.MaxTokens,
		Temperature:  p.opts.Temperature,
		TraceRef:     traceRef,
		Mode:         string(mode),
	}
}

func (p *Pipeline) policy(name string) retry.Policy {
	pol := p.opts.Retry
	pol.Name = name
	return pol
}

func (p *Pipeline) failure(req decision.AnalysisRequest, traceRef string, err error) decision.AnalysisOutcome {
	return decision.AnalysisOutcome{
		MarketID:       req.MarketID,
		Recommendation: decision.Hold,
		Confidence:     0,
		Reasoning:      fmt.Sprintf("%s: %s", failureReasoning, textutil.Truncate(err.Error(), 300)),
		Mode:           decision.ModeToolLess,
		TraceRef:       traceRef,
		TraceURL:       p.traceURL(traceRef),
		Error:          err.Error(),
	}
}

func (p *Pipeline) traceURL(ref string) string {
	tpl := p.opts.TraceURLTemplate
	if tpl == "" || ref == "" {
		return ""
	}
	if strings.Contains(tpl, "%s") {
		return fmt.Sprintf(tpl, ref)
	}
	return tpl + ref
}
