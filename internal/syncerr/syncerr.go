// Package syncerr classifies failures of the sync pipeline so callers can
// decide whether an error is fatal for the batch, the sweep or the operator.
package syncerr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// Kind represents the class of a sync failure
type Kind int

const (
	KindUnknown Kind = iota
	KindConfiguration
	KindAuthentication
	KindProtocol
	KindNetwork
	KindData
)

// String returns a string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "CONFIGURATION"
	case KindAuthentication:
		return "AUTHENTICATION"
	case KindProtocol:
		return "PROTOCOL"
	case KindNetwork:
		return "NETWORK"
	case KindData:
		return "DATA"
	default:
		return "UNKNOWN"
	}
}

// Sentinels for errors.Is matching by kind.
var (
	ErrConfiguration  = &Error{Kind: KindConfiguration}
	ErrAuthentication = &Error{Kind: KindAuthentication}
	ErrProtocol       = &Error{Kind: KindProtocol}
	ErrNetwork        = &Error{Kind: KindNetwork}
	ErrData           = &Error{Kind: KindData}
)

// Error is a classified failure with the operation that produced it
type Error struct {
	Op      string            // operation name, e.g. "dawarich.import.step3"
	Kind    Kind              // failure class
	Err     error             // underlying error
	Context map[string]string // additional context (file, status, ...)
}

func (e *Error) Error() string {
	if e == nil {
		return "sync error"
	}

	var parts []string
	if e.Op != "" {
		parts = append(parts, "op="+e.Op)
	}
	if e.Kind != KindUnknown {
		parts = append(parts, "kind="+e.Kind.String())
	}
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%s", k, e.Context[k]))
		}
	}

	suffix := ""
	if len(parts) > 0 {
		suffix = " [" + strings.Join(parts, " ") + "]"
	}
	if e.Err != nil {
		return e.Err.Error() + suffix
	}
	return strings.ToLower(e.Kind.String()) + " error" + suffix
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches another *Error by kind, so errors.Is(err, ErrProtocol) works
// through any amount of wrapping.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	if t, ok := target.(*Error); ok {
		return t.Kind != KindUnknown && e.Kind == t.Kind
	}
	return false
}

// With adds a context key to the error and returns it.
func (e *Error) With(key, value string) *Error {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// Configuration reports missing or invalid host/credential settings.
func Configuration(op, format string, args ...any) *Error {
	return newError(KindConfiguration, op, fmt.Errorf(format, args...))
}

// Authentication reports rejected credentials or an MFA challenge.
func Authentication(op string, err error) *Error {
	return newError(KindAuthentication, op, err)
}

// Protocol reports a token, URL or field missing from a remote response.
func Protocol(op, format string, args ...any) *Error {
	return newError(KindProtocol, op, fmt.Errorf(format, args...))
}

// Network reports a transport failure or a non-success status.
func Network(op string, err error) *Error {
	return newError(KindNetwork, op, err)
}

// Data reports unusable activity content.
func Data(op, format string, args ...any) *Error {
	return newError(KindData, op, fmt.Errorf(format, args...))
}

// KindOf returns the kind of the first classified error in the chain.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}

// SummaryLimit caps operator-facing messages.
const SummaryLimit = 200

// Summary returns a short, single-line description of err for status lines
// and API responses. Context and wrapped detail stay in the logs.
func Summary(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	var se *Error
	if errors.As(err, &se) && se.Err != nil {
		msg = se.Err.Error()
	}
	msg = strings.Join(strings.Fields(msg), " ")
	return Truncate(msg, SummaryLimit)
}

// Truncate shortens s to at most n bytes, marking the cut with an ellipsis.
// The cut never splits a UTF-8 sequence.
func Truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "…"
}
