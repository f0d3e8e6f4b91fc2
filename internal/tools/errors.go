package tools

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/nugget/scholar/internal/httpkit"
)

// UnknownToolError is returned when the model names a tool that is not
// registered.
type UnknownToolError struct {
	ToolName  string
	Available []string
}

// Error implements the error interface.
func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool %q", e.ToolName)
}

// Kind classifies a tool invocation failure.
type Kind string

const (
	KindInvalidInput Kind = "invalid_input"
	KindRateLimited  Kind = "rate_limited"
	KindUnavailable  Kind = "unavailable"
	KindTimeout      Kind = "timeout"
	KindFailed       Kind = "failed"
)

// InvocationError is a structured failure raised at a tool boundary.
type InvocationError struct {
	Tool string
	Kind Kind
	Err  error
}

// Error implements the error interface.
func (e *InvocationError) Error() string {
	if e.Tool == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("tool %q %s: %v", e.Tool, e.Kind, e.Err)
}

// Unwrap returns the underlying cause.
func (e *InvocationError) Unwrap() error { return e.Err }

// InvalidInput marks err as caused by bad arguments.
func InvalidInput(err error) error {
	return &InvocationError{Kind: KindInvalidInput, Err: err}
}

// RateLimited marks err as an upstream rate limit.
func RateLimited(err error) error {
	return &InvocationError{Kind: KindRateLimited, Err: err}
}

// Unavailable marks err as an upstream outage or misconfiguration.
func Unavailable(err error) error {
	return &InvocationError{Kind: KindUnavailable, Err: err}
}

// FormatError renders a tool-side failure as the text the model sees in
// place of a result. It never returns an empty string.
func FormatError(err error) string {
	if err == nil {
		return "Error: tool failed without a reason"
	}

	var unknown *UnknownToolError
	if errors.As(err, &unknown) {
		msg := fmt.Sprintf("Error: unknown tool %q.", unknown.ToolName)
		if len(unknown.Available) > 0 {
			msg += " Available tools: " + strings.Join(unknown.Available, ", ") + "."
		}
		return msg
	}

	var ie *InvocationError
	if errors.As(err, &ie) {
		cause := "unknown error"
		if ie.Err != nil {
			cause = ie.Err.Error()
		}
		switch ie.Kind {
		case KindInvalidInput:
			return fmt.Sprintf("Error: invalid arguments for %s: %s", ie.Tool, cause)
		case KindRateLimited:
			return fmt.Sprintf("Error: %s is rate limited: %s", ie.Tool, cause)
		case KindUnavailable:
			return fmt.Sprintf("Error: %s is unavailable: %s", ie.Tool, cause)
		case KindTimeout:
			return fmt.Sprintf("Error: %s timed out: %s", ie.Tool, cause)
		default:
			return fmt.Sprintf("Error: %s failed: %s", ie.Tool, cause)
		}
	}

	return "Error: " + err.Error()
}

// FromHTTP classifies an upstream HTTP failure: 429 is rate_limited;
// auth failures, 5xx responses and network errors are unavailable.
// Anything else is returned unchanged.
func FromHTTP(err error) error {
	if err == nil {
		return nil
	}
	var se *httpkit.StatusError
	if errors.As(err, &se) {
		switch {
		case se.RateLimited():
			return RateLimited(err)
		case se.StatusCode == http.StatusUnauthorized, se.StatusCode == http.StatusForbidden, se.StatusCode >= 500:
			return Unavailable(err)
		}
		return err
	}
	var ne net.Error
	if errors.As(err, &ne) && !ne.Timeout() {
		return Unavailable(err)
	}
	return err
}
