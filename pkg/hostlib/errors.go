package hostlib

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
)

var (
	ErrHostNotFound        = errors.New("host descriptor not found")
	ErrTokenNotFound       = errors.New("no auth token available for host")
	ErrSessionNotFound     = errors.New("no session available for host")
	ErrWorkerNotRunning    = errors.New("host worker is not running")
	ErrWorkerAlreadyUp     = errors.New("host worker is already running or spinning up")
	ErrJobCancelled        = errors.New("upload cancelled")
	ErrSlotTimeout         = errors.New("timed out waiting for an upload slot")
	ErrPollExhausted       = errors.New("poll retries exhausted without a terminal state")
	ErrDedupWithoutURL     = errors.New("host reported duplicate file but returned no url")
	ErrCrossOriginRedirect = errors.New("redirect to a different origin")
)

// OpError is the structured error every HostClient operation returns.
// Kind decides retry behavior at the job boundary; use errors.As to
// extract it and errors.Is against the sentinel above for specials.
type OpError struct {
	// Host is the descriptor name the operation ran against.
	Host string
	// Op is the logical operation (e.g. "login", "upload", "delete").
	Op string
	// Kind classifies the failure for retry/reporting decisions.
	Kind ErrorKind
	// Cause is the underlying error.
	Cause error
}

// ErrorKind is the closed taxonomy of operation failures.
type ErrorKind int

const (
	// KindConfiguration marks a missing or malformed descriptor field.
	// Fatal, never retried.
	KindConfiguration ErrorKind = iota
	// KindAuthentication marks rejected credentials or a failed login.
	// Fatal for the current operation.
	KindAuthentication
	// KindStaleToken marks a token the host stopped accepting. Consumed
	// internally by the refresh-and-retry wrapper; surfaces as
	// KindAuthentication when the retry fails too.
	KindStaleToken
	// KindTransient marks timeouts, resets and other network hiccups.
	// Retried at the job level per host settings.
	KindTransient
	// KindProtocol marks an unexpected response shape or a security
	// violation. Fatal for the current operation.
	KindProtocol
	// KindCancelled marks a cooperative stop. Does not count against the
	// retry budget.
	KindCancelled
)

func (k ErrorKind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindAuthentication:
		return "authentication"
	case KindStaleToken:
		return "stale-token"
	case KindTransient:
		return "transient"
	case KindProtocol:
		return "protocol"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

func (e *OpError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s %s: %s: %s", e.Host, e.Op, e.Kind, e.Cause.Error())
	}
	return fmt.Sprintf("%s %s: %s", e.Host, e.Op, e.Kind)
}

// Unwrap returns the underlying cause, enabling errors.Is/As chaining.
func (e *OpError) Unwrap() error {
	return e.Cause
}

func opErr(host, op string, kind ErrorKind, cause error) *OpError {
	return &OpError{Host: host, Op: op, Kind: kind, Cause: cause}
}

// ErrKindOf extracts the ErrorKind from err. Errors that are not
// OpErrors are classified from their network characteristics so callers
// can still make a retry decision about raw transport failures.
func ErrKindOf(err error) ErrorKind {
	var oe *OpError
	if errors.As(err, &oe) {
		return oe.Kind
	}
	if errors.Is(err, ErrJobCancelled) || errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if IsTransientNetError(err) {
		return KindTransient
	}
	return KindProtocol
}

// IsTransientNetError reports whether err looks like a transient network
// failure worth retrying at the job level.
func IsTransientNetError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	// String matching catches errors wrapped by third parties without
	// preserving the chain.
	errStr := strings.ToLower(err.Error())
	patterns := []string{
		"connection reset",
		"connection refused",
		"broken pipe",
		"timeout",
		"temporary failure",
		"no such host",
		"network is unreachable",
	}
	for _, pattern := range patterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
