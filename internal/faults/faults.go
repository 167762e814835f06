// Package faults classifies failures from external providers into a small
// typed taxonomy at the adapter boundary, so retry policies branch on a kind
// instead of sniffing message text.
package faults

import (
	"errors"
	"fmt"
)

// Kind buckets an external failure by how callers should react.
type Kind string

const (
	// KindTransient covers timeouts, rate limits and 5xx responses; safe to
	// retry with backoff.
	KindTransient Kind = "transient"
	// KindAuthFailed covers invalid or expired credentials; never retried.
	KindAuthFailed Kind = "auth_failed"
	// KindInvalid covers permanent request-level failures; never retried.
	KindInvalid Kind = "invalid"
)

// Error carries a classified external failure.
type Error struct {
	kind Kind
	err  error
}

// New wraps err under the given kind.
func New(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{kind: kind, err: err}
}

// Newf wraps a formatted error under the given kind.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{kind: kind, err: fmt.Errorf(format, args...)}
}

// Error returns the formatted error message.
func (classified *Error) Error() string {
	return fmt.Sprintf("%s: %v", classified.kind, classified.err)
}

// Unwrap returns the underlying error.
func (classified *Error) Unwrap() error {
	return classified.err
}

// Kind returns the failure bucket.
func (classified *Error) Kind() Kind {
	return classified.kind
}

// KindOf extracts the kind from an error chain, defaulting to KindInvalid
// for unclassified errors.
func KindOf(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind()
	}
	return KindInvalid
}
