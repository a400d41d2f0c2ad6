// Package upstream gates all calls to the external text-generation API
// behind a circuit breaker, bounded retries with jittered exponential
// backoff, and a structured error taxonomy. One Gate (and one breaker)
// exists per process. It models whether the upstream is healthy at
// all, not per-request health.
package upstream

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies why a gated generation call failed.
type ErrorKind int

const (
	// KindNone means no gate failure (returned by KindOf for nil or
	// foreign errors).
	KindNone ErrorKind = iota
	// KindMissingCredential means no API key was configured. The gate
	// fails immediately without network I/O.
	KindMissingCredential
	// KindUnauthorized means the provider rejected our credential.
	// Never retried.
	KindUnauthorized
	// KindTransient covers timeouts and any provider failure that is
	// not an auth failure. Consumes a retry.
	KindTransient
	// KindCircuitOpen means the breaker rejected the call before any
	// upstream attempt. No retry is consumed.
	KindCircuitOpen
	// KindExhausted means all retries were consumed; the wrapped cause
	// is the last underlying error.
	KindExhausted
)

// String returns the snake_case name used in logs and API payloads.
func (k ErrorKind) String() string {
	switch k {
	case KindMissingCredential:
		return "missing_credential"
	case KindUnauthorized:
		return "unauthorized"
	case KindTransient:
		return "transient"
	case KindCircuitOpen:
		return "circuit_open"
	case KindExhausted:
		return "exhausted"
	default:
		return "none"
	}
}

// Error is the structured failure type returned by the gate, replacing
// string-prefixed sentinels with a tagged result the orchestrator can
// switch on.
type Error struct {
	Kind ErrorKind
	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("upstream %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the ErrorKind from err, or KindNone if err is nil or
// not a gate error.
func KindOf(err error) ErrorKind {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Kind
	}
	return KindNone
}

// IsAuthFailure reports whether err should surface as a distinct
// upstream-auth failure rather than triggering local fallback.
func IsAuthFailure(err error) bool {
	k := KindOf(err)
	return k == KindUnauthorized || k == KindMissingCredential
}

// authMarkers are the substrings that classify a provider failure as an
// authentication error. Matched case-sensitively against the error text,
// mirroring the provider's observed wire formats.
var authMarkers = []string{"401", "API key not valid", "Unauthorized"}

// classify maps a raw provider error to Unauthorized or Transient.
func classify(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	text := err.Error()
	for _, m := range authMarkers {
		if strings.Contains(text, m) {
			return KindUnauthorized
		}
	}
	return KindTransient
}
