// Package toolserver manages the optional remote MCP tool server: config
// validation, availability probing and the per-analysis handle lifecycle.
package toolserver

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"polyagent/internal/errs"
	"polyagent/internal/gateway/provider"
	"polyagent/internal/logger"
	"polyagent/internal/pkg/circuit"
)

// Handle is a connection to one tool server, owned by a single analysis call.
// Close must be called on every exit path.
type Handle interface {
	provider.ToolCaller
	Connect(ctx context.Context) error
	Tools(ctx context.Context) ([]provider.Tool, error)
	Close() error
	Info() ServerInfo
}

// Connector builds handles. A nil Connector means no tool-server support is
// wired into the process.
type Connector interface {
	New(cfg Config) (Handle, error)
}

// AvailabilityKind is the tri-state outcome of Probe.
type AvailabilityKind int

const (
	Unavailable AvailabilityKind = iota
	Available
	ConfigurationInvalid
)

func (k AvailabilityKind) String() string {
	switch k {
	case Available:
		return "available"
	case ConfigurationInvalid:
		return "configuration_invalid"
	default:
		return "unavailable"
	}
}

// Availability carries the handle when Kind is Available, the reason when
// Unavailable and the validation error when ConfigurationInvalid.
type Availability struct {
	Kind   AvailabilityKind
	Handle Handle
	Reason string
	Err    error
}

// StatusObserver is told whether each probe produced a usable handle.
type StatusObserver interface {
	ObserveToolServer(available bool)
}

type Option func(*Manager)

func WithBreaker(cb *circuit.CircuitBreaker) Option {
	return func(m *Manager) { m.breaker = cb }
}

func WithStatusObserver(o StatusObserver) Option {
	return func(m *Manager) { m.observer = o }
}

// Manager is safe for concurrent use; it holds no per-call state.
type Manager struct {
	connector Connector
	breaker   *circuit.CircuitBreaker
	observer  StatusObserver
	warnOnce  sync.Once
}

func NewManager(connector Connector, opts ...Option) *Manager {
	m := &Manager{connector: connector}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

func (m *Manager) Validate(cfg Config) error {
	return cfg.Validate()
}

// Create returns (nil, nil) when no tool-server support is configured.
// Construction failures come back as a retryable *errs.ToolServerError.
func (m *Manager) Create(ctx context.Context, cfg Config) (Handle, error) {
	if m == nil || m.connector == nil {
		m.warnAbsent()
		return nil, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, errs.NewToolServerError(cfg.URL, err, true)
	}
	h, err := m.connector.New(cfg)
	if err != nil {
		return nil, errs.NewToolServerError(cfg.URL, err, true)
	}
	if h == nil {
		return nil, errs.NewToolServerError(cfg.URL, errors.New("connector returned no handle"), true)
	}
	if m.breaker != nil {
		h = &guardedHandle{Handle: h, breaker: m.breaker}
	}
	return h, nil
}

// Probe never returns an error; every failure is folded into the result.
func (m *Manager) Probe(ctx context.Context, cfg Config) Availability {
	if m == nil || m.connector == nil {
		m.warnAbsent()
		m.observe(false)
		return Availability{Kind: Unavailable, Reason: "tool server not configured"}
	}
	if err := cfg.Validate(); err != nil {
		logger.Warnf("[toolserver] %s config invalid: %v", cfg.displayName(), err)
		m.observe(false)
		return Availability{Kind: ConfigurationInvalid, Reason: err.Error(), Err: err}
	}
	if m.breaker != nil && !m.breaker.Allow() {
		m.observe(false)
		return Availability{Kind: Unavailable, Reason: "circuit open"}
	}
	h, err := m.Create(ctx, cfg)
	if err != nil {
		if m.breaker != nil {
			m.breaker.RecordFailure()
		}
		logger.Warnf("[toolserver] %s unavailable: %v", cfg.displayName(), err)
		m.observe(false)
		return Availability{Kind: Unavailable, Reason: err.Error(), Err: err}
	}
	if h == nil {
		m.observe(false)
		return Availability{Kind: Unavailable, Reason: "tool server not configured"}
	}
	m.observe(true)
	return Availability{Kind: Available, Handle: h}
}

// Info describes h; a nil handle reports unavailable.
func (m *Manager) Info(h Handle) ServerInfo {
	if h == nil {
		return ServerInfo{Status: StatusUnavailable, Error: "no tool server handle"}
	}
	return h.Info()
}

func (m *Manager) warnAbsent() {
	if m == nil {
		logger.Warnf("[toolserver] no manager configured; running tool-less")
		return
	}
	m.warnOnce.Do(func() {
		logger.Warnf("[toolserver] tool server support disabled; analyses run tool-less")
	})
}

func (m *Manager) observe(ok bool) {
	if m == nil || m.observer == nil {
		return
	}
	m.observer.ObserveToolServer(ok)
}

// guardedHandle feeds connect outcomes into the manager's breaker.
type guardedHandle struct {
	Handle
	breaker *circuit.CircuitBreaker
}

func (g *guardedHandle) Connect(ctx context.Context) error {
	err := g.Handle.Connect(ctx)
	if err != nil {
		g.breaker.RecordFailure()
		return err
	}
	g.breaker.RecordSuccess()
	return nil
}

// Status values reported by ServerInfo.
const (
	StatusAvailable   = "available"
	StatusConnected   = "connected"
	StatusUnavailable = "unavailable"
	StatusClosed      = "closed"
)

// ServerInfo is a JSON-friendly description of a handle.
type ServerInfo struct {
	Status       string `json:"status"`
	Name         string `json:"name,omitempty"`
	URL          string `json:"url,omitempty"`
	CacheEnabled bool   `json:"cache_enabled"`
	Timeout      string `json:"timeout,omitempty"`
	ServerName   string `json:"server_name,omitempty"`
	Error        string `json:"error,omitempty"`
}

func (s ServerInfo) String() string {
	if s.Error != "" {
		return fmt.Sprintf("%s (%s)", s.Status, s.Error)
	}
	return fmt.Sprintf("%s name=%s timeout=%s cache=%t", s.Status, s.Name, s.Timeout, s.CacheEnabled)
}

// Inspection is a one-shot connectivity report used by the HTTP API and CLI.
type Inspection struct {
	Availability string     `json:"availability"`
	Reason       string     `json:"reason,omitempty"`
	Info         ServerInfo `json:"info"`
	Tools        []string   `json:"tools,omitempty"`
}

// Inspect probes, connects and lists tools, then closes the handle before
// returning.
func (m *Manager) Inspect(ctx context.Context, cfg Config) Inspection {
	av := m.Probe(ctx, cfg)
	out := Inspection{Availability: av.Kind.String(), Reason: av.Reason}
	if av.Kind != Available {
		out.Info = ServerInfo{Status: StatusUnavailable, Name: cfg.displayName(), URL: cfg.URL, Error: av.Reason}
		return out
	}
	h := av.Handle
	defer func() {
		if err := h.Close(); err != nil {
			logger.Warnf("[toolserver] close after inspect: %v", err)
		}
	}()
	if err := h.Connect(ctx); err != nil {
		out.Availability = Unavailable.String()
		out.Reason = err.Error()
		out.Info = h.Info()
		out.Info.Error = err.Error()
		return out
	}
	tools, err := h.Tools(ctx)
	if err != nil {
		out.Reason = err.Error()
	}
	for _, t := range tools {
		out.Tools = append(out.Tools, t.Name)
	}
	out.Info = h.Info()
	return out
}
