// Package errors provides the error taxonomy shared by the protocol client,
// the page facade and the dive engine.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// ErrorType categorizes errors for handling decisions.
type ErrorType int

const (
	// Unknown is an uncategorized error.
	Unknown ErrorType = iota
	// BrowserNotFound means no browser executable could be resolved.
	BrowserNotFound
	// LaunchTimeout means the debugging endpoint never showed up.
	LaunchTimeout
	// NoTargetAvailable means target discovery found no page target.
	NoTargetAvailable
	// ConnectTimeout means the socket handshake did not finish in time.
	ConnectTimeout
	// CommandTimeout means a command got no reply within its budget.
	CommandTimeout
	// Protocol is an error reply from the browser.
	Protocol
	// ConnectionClosed means the socket went away with work outstanding.
	ConnectionClosed
	// PageAnalysis wraps any failure while analyzing a single page.
	PageAnalysis
	// Network represents transport failures on the HTTP discovery endpoint.
	Network
	// Cancelled represents context cancellation.
	Cancelled
)

// String returns the string representation of ErrorType.
func (t ErrorType) String() string {
	switch t {
	case BrowserNotFound:
		return "browser_not_found"
	case LaunchTimeout:
		return "launch_timeout"
	case NoTargetAvailable:
		return "no_target_available"
	case ConnectTimeout:
		return "connect_timeout"
	case CommandTimeout:
		return "command_timeout"
	case Protocol:
		return "protocol"
	case ConnectionClosed:
		return "connection_closed"
	case PageAnalysis:
		return "page_analysis"
	case Network:
		return "network"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsRetryable returns whether errors of this type should be retried.
func (t ErrorType) IsRetryable() bool {
	switch t {
	case Network, NoTargetAvailable, ConnectTimeout:
		return true
	default:
		return false
	}
}

// IsFatal reports whether errors of this type leave the browser session unusable.
func (t ErrorType) IsFatal() bool {
	switch t {
	case ConnectionClosed, LaunchTimeout, BrowserNotFound:
		return true
	default:
		return false
	}
}

// SpiderError represents a categorized error.
type SpiderError struct {
	Type    ErrorType
	Method  string
	URL     string
	Message string
	Code    int
	Cause   error
}

// Error implements the error interface.
func (e *SpiderError) Error() string {
	var b strings.Builder
	b.WriteString(e.Type.String())
	if e.Method != "" {
		b.WriteString(" [")
		b.WriteString(e.Method)
		b.WriteString("]")
	}
	if e.URL != "" {
		b.WriteString(" on ")
		b.WriteString(e.URL)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, " (caused by: %v)", e.Cause)
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *SpiderError) Unwrap() error {
	return e.Cause
}

// Is matches any SpiderError of the same type.
func (e *SpiderError) Is(target error) bool {
	t, ok := target.(*SpiderError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// Sentinels for errors.Is.
var (
	ErrBrowserNotFound   = &SpiderError{Type: BrowserNotFound}
	ErrLaunchTimeout     = &SpiderError{Type: LaunchTimeout}
	ErrNoTargetAvailable = &SpiderError{Type: NoTargetAvailable}
	ErrConnectTimeout    = &SpiderError{Type: ConnectTimeout}
	ErrCommandTimeout    = &SpiderError{Type: CommandTimeout}
	ErrProtocol          = &SpiderError{Type: Protocol}
	ErrConnectionClosed  = &SpiderError{Type: ConnectionClosed}
	ErrPageAnalysis      = &SpiderError{Type: PageAnalysis}
	ErrNetwork           = &SpiderError{Type: Network}
	ErrCancelled         = &SpiderError{Type: Cancelled}
)

// New creates a new SpiderError.
func New(errType ErrorType, message string, cause error) *SpiderError {
	return &SpiderError{Type: errType, Message: message, Cause: cause}
}

// NewBrowserNotFoundError reports that none of the candidates answered --version.
func NewBrowserNotFoundError(candidates []string) *SpiderError {
	return New(BrowserNotFound, fmt.Sprintf("no usable browser among %d candidates: %s",
		len(candidates), strings.Join(candidates, ", ")), nil)
}

// NewLaunchTimeoutError creates a launch timeout error.
func NewLaunchTimeoutError(message string, cause error) *SpiderError {
	return New(LaunchTimeout, message, cause)
}

// NewNoTargetError creates a target discovery error.
func NewNoTargetError(endpoint string) *SpiderError {
	err := New(NoTargetAvailable, "no page target listed", nil)
	err.URL = endpoint
	return err
}

// NewConnectTimeoutError creates a socket connect timeout error.
func NewConnectTimeoutError(wsURL string, cause error) *SpiderError {
	err := New(ConnectTimeout, "websocket handshake did not complete", cause)
	err.URL = wsURL
	return err
}

// NewCommandTimeoutError creates a command timeout error.
func NewCommandTimeoutError(method string) *SpiderError {
	err := New(CommandTimeout, "no response before deadline", nil)
	err.Method = method
	return err
}

// NewProtocolError creates an error for a browser error reply.
func NewProtocolError(method string, code int, message string) *SpiderError {
	err := New(Protocol, message, nil)
	err.Method = method
	err.Code = code
	return err
}

// NewConnectionClosedError creates a connection closed error.
func NewConnectionClosedError(method string, cause error) *SpiderError {
	err := New(ConnectionClosed, "connection closed", cause)
	err.Method = method
	return err
}

// NewPageAnalysisError wraps a failure while analyzing url.
func NewPageAnalysisError(url string, cause error) *SpiderError {
	err := New(PageAnalysis, "page analysis failed", cause)
	err.URL = url
	return err
}

// NewNetworkError creates a network error.
func NewNetworkError(url string, cause error) *SpiderError {
	err := New(Network, "network failure", cause)
	err.URL = url
	return err
}

// NewCancelledError creates a cancelled error.
func NewCancelledError(method string, cause error) *SpiderError {
	err := New(Cancelled, "operation cancelled", cause)
	err.Method = method
	return err
}

// Categorize determines the error type from a generic error.
func Categorize(err error, url string) *SpiderError {
	if err == nil {
		return nil
	}

	var spiderErr *SpiderError
	if errors.As(err, &spiderErr) {
		return spiderErr
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NewCancelledError("", err)
	}

	if isNetworkError(err) {
		return NewNetworkError(url, err)
	}

	e := New(Unknown, err.Error(), err)
	e.URL = url
	return e
}

// isNetworkError checks if an error is network-related.
func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "dial tcp")
}

// IsFatal reports whether any error in the chain makes the session unusable.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	for _, sentinel := range []error{ErrConnectionClosed, ErrLaunchTimeout, ErrBrowserNotFound} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// GetErrorType returns the type of the outermost SpiderError in the chain.
func GetErrorType(err error) ErrorType {
	var spiderErr *SpiderError
	if errors.As(err, &spiderErr) {
		return spiderErr.Type
	}
	return Unknown
}
