package schc

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the closed set of outcomes a pipeline run can fail with.
//
// Callers should switch on Kind rather than matching error strings; every
// error returned by this package is a *Error carrying one of these values.
type Kind string

const (
	KindMalformedFragment  Kind = "MalformedFragment"
	KindNoFinalFragment    Kind = "NoFinalFragment"
	KindIncompleteSequence Kind = "IncompleteSequence"
	KindChecksumMismatch   Kind = "ChecksumMismatch"
)

// Kinds lists every Kind in pipeline order.
var Kinds = []Kind{
	KindMalformedFragment,
	KindNoFinalFragment,
	KindIncompleteSequence,
	KindChecksumMismatch,
}

// Error is the structured error type of the reassembly engine.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	// Ref is the provenance of the offending fragment (MalformedFragment only).
	Ref string `json:"ref,omitempty"`
	// Missing holds the absent FCN values (IncompleteSequence only).
	Missing []int `json:"missing,omitempty"`
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.Message
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func malformed(ref, format string, args ...any) *Error {
	e := newError(KindMalformedFragment, format, args...)
	e.Ref = ref
	return e
}

func incomplete(missing []int) *Error {
	parts := make([]string, len(missing))
	for i, fcn := range missing {
		parts[i] = fmt.Sprint(fcn)
	}
	return &Error{
		Kind:    KindIncompleteSequence,
		Message: "missing fragments with FCN " + strings.Join(parts, ", "),
		Missing: missing,
	}
}

// IsKind reports whether err is (or wraps) a *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// KindOf returns the Kind of a structured error, or "" for anything else.
func KindOf(err error) Kind {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Kind
}
