package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures inside the discovery core
type ErrorKind string

const (
	// KindClustering means the clustering algorithm rejected its input. Fatal to the run.
	KindClustering ErrorKind = "clustering"
	// KindUpstream means a document or embedding fetch failed. Fatal, retryable by the caller.
	KindUpstream ErrorKind = "upstream"
	// KindEnrichment means naming, summarization or impact classification failed.
	// Always absorbed locally; surfaced only in logs.
	KindEnrichment ErrorKind = "enrichment"
	// KindInvalidConfig means caller-supplied parameters were out of range
	KindInvalidConfig ErrorKind = "invalid_config"
	// KindInvalidInput means a document failed boundary validation
	KindInvalidInput ErrorKind = "invalid_input"
)

// ErrScopeBusy is returned when another run already holds the scope lock
var ErrScopeBusy = errors.New("another run is already active for this scope")

// Error wraps a failure with its kind and the operation that produced it
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// NewError creates a kinded error
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s failure: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s failure during %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err (or anything it wraps) is an *Error of the given kind
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// IsRetryable reports whether the caller can simply re-invoke the operation.
// Upstream fetch failures are retryable because discovery is idempotent for
// an unchanged document set; so is losing a scope lock race.
func IsRetryable(err error) bool {
	return IsKind(err, KindUpstream) || errors.Is(err, ErrScopeBusy)
}
