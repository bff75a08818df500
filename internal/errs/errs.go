// Package errs holds the error taxonomy shared by the analysis core.
//
// Every error type reports whether re-attempting the failed operation can
// succeed. Retryable uses that flag first and falls back to classifying
// transport-level failures.
package errs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
)

// ConfigurationError reports malformed or missing settings. Never retryable.
type ConfigurationError struct {
	Msg         string
	MissingKeys []string
}

func (e *ConfigurationError) Error() string {
	if e == nil {
		return ""
	}
	if len(e.MissingKeys) > 0 {
		return fmt.Sprintf("configuration error: %s (missing: %s)", e.Msg, strings.Join(e.MissingKeys, ", "))
	}
	return "configuration error: " + e.Msg
}

func (e *ConfigurationError) Retryable() bool { return false }

// Configf builds a ConfigurationError.
func Configf(format string, args ...any) error {
	return &ConfigurationError{Msg: fmt.Sprintf(format, args...)}
}

// ToolServerError reports a tool-server construction or connection failure.
type ToolServerError struct {
	Endpoint  string
	Err       error
	retryable bool
}

// NewToolServerError wraps err. Tool-server failures are retryable unless the
// caller says otherwise.
func NewToolServerError(endpoint string, err error, retryable bool) *ToolServerError {
	return &ToolServerError{Endpoint: endpoint, Err: err, retryable: retryable}
}

func (e *ToolServerError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return "tool server " + e.Endpoint + " failed"
	}
	return fmt.Sprintf("tool server %s: %v", e.Endpoint, e.Err)
}

func (e *ToolServerError) Unwrap() error   { return e.Err }
func (e *ToolServerError) Retryable() bool { return e.retryable }

// TransientRemoteError reports a timeout, reset or rate limit from a remote
// service.
type TransientRemoteError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransientRemoteError) Error() string {
	if e == nil {
		return ""
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: transient remote error (status=%d): %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: transient remote error: %v", e.Op, e.Err)
}

func (e *TransientRemoteError) Unwrap() error   { return e.Err }
func (e *TransientRemoteError) Retryable() bool { return true }

// NonRetryableError tags an error that certainly fails again.
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	if e == nil || e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e *NonRetryableError) Unwrap() error   { return e.Err }
func (e *NonRetryableError) Retryable() bool { return false }

// Permanent tags err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// Transient tags err as retryable.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientRemoteError{Op: op, Err: err}
}

type retryableFlag interface {
	Retryable() bool
}

var transientMarkers = []string{
	"eof",
	"timeout",
	"connection reset",
	"connection refused",
	"broken pipe",
	"no such host",
	"temporary failure",
	"network is unreachable",
	"forcibly closed",
}

// Retryable is the default retry predicate. Explicit flags win; otherwise
// network, timeout and other transient failures are retryable.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var flagged retryableFlag
	if errors.As(err, &flagged) {
		return flagged.Retryable()
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// IsConfiguration reports whether err is (or wraps) a ConfigurationError.
func IsConfiguration(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}
