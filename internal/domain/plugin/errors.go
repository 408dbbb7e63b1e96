package plugin

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies sandbox failures
type ErrorKind string

const (
	KindManifest      ErrorKind = "manifest_error"
	KindSecurity      ErrorKind = "security_violation"
	KindNetworkPolicy ErrorKind = "network_policy_violation"
	KindTimeout       ErrorKind = "execution_timeout"
	KindRuntime       ErrorKind = "plugin_runtime_error"
	KindResultShape   ErrorKind = "result_shape_error"
	KindCancelled     ErrorKind = "execution_cancelled"
	KindHost          ErrorKind = "host_error"
)

// Violation is one security finding
type Violation struct {
	RuleID  string `json:"rule_id"`
	Symbol  string `json:"symbol"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

func (v Violation) String() string {
	if v.Line > 0 {
		return fmt.Sprintf("[%s] %s (line %d): %s", v.RuleID, v.Symbol, v.Line, v.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", v.RuleID, v.Symbol, v.Message)
}

// Error is the typed error shared by all sandbox layers
type Error struct {
	Kind       ErrorKind
	Field      string
	Message    string
	Violations []Violation
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Field != "" {
		b.WriteString(" [")
		b.WriteString(e.Field)
		b.WriteString("]")
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Info converts the error into its result form
func (e *Error) Info() *ErrorInfo {
	msg := e.Message
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return &ErrorInfo{Kind: e.Kind, Message: msg, Violations: e.Violations}
}

// ManifestError names the missing or malformed directive
func ManifestError(field, format string, args ...any) *Error {
	return &Error{Kind: KindManifest, Field: field, Message: fmt.Sprintf(format, args...)}
}

// SecurityError reports every violation found
func SecurityError(violations []Violation) *Error {
	parts := make([]string, len(violations))
	for i, v := range violations {
		parts[i] = v.String()
	}
	return &Error{
		Kind:       KindSecurity,
		Message:    fmt.Sprintf("%d violation(s): %s", len(violations), strings.Join(parts, "; ")),
		Violations: violations,
	}
}

// NetworkPolicyError rejects one outbound request
func NetworkPolicyError(host, reason string) *Error {
	return &Error{Kind: KindNetworkPolicy, Field: host, Message: reason}
}

// ResultShapeError reports a capability value of the wrong shape
func ResultShapeError(format string, args ...any) *Error {
	return &Error{Kind: KindResultShape, Message: fmt.Sprintf(format, args...)}
}

// RuntimeError wraps an uncaught interpreter error
func RuntimeError(err error) *Error {
	return &Error{Kind: KindRuntime, Message: "uncaught plugin error", Err: err}
}

// TimeoutError reports a forced cancellation
func TimeoutError(format string, args ...any) *Error {
	return &Error{Kind: KindTimeout, Message: fmt.Sprintf(format, args...)}
}

// HostError reports a failure of the sandbox itself
func HostError(message string, err error) *Error {
	return &Error{Kind: KindHost, Message: message, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain
func KindOf(err error) (ErrorKind, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return "", false
}

// IsKind reports whether err carries kind
func IsKind(err error, kind ErrorKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
