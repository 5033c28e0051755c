package attention

import (
	"errors"
	"fmt"
)

// Kind classifies extraction failures. Every kind is recoverable at the
// presentation boundary: the caller reports it and waits for a new selection.
type Kind int

const (
	KindArtifactNotFound Kind = iota + 1
	KindGroupNotFound
	KindLanguageNotFound
	KindIndexOutOfRange
	KindShapeMismatch
)

func (k Kind) String() string {
	switch k {
	case KindArtifactNotFound:
		return "artifact_not_found"
	case KindGroupNotFound:
		return "group_not_found"
	case KindLanguageNotFound:
		return "language_not_found"
	case KindIndexOutOfRange:
		return "index_out_of_range"
	case KindShapeMismatch:
		return "shape_mismatch"
	}
	return "unknown"
}

// Sentinels for errors.Is.
var (
	ErrArtifactNotFound = &Error{Kind: KindArtifactNotFound}
	ErrGroupNotFound    = &Error{Kind: KindGroupNotFound}
	ErrLanguageNotFound = &Error{Kind: KindLanguageNotFound}
	ErrIndexOutOfRange  = &Error{Kind: KindIndexOutOfRange}
	ErrShapeMismatch    = &Error{Kind: KindShapeMismatch}
)

// Error is a structured extraction error.
type Error struct {
	Kind Kind
	// Axis names the offending index for KindIndexOutOfRange ("layer" or "head").
	Axis   string
	Index  int
	Bound  int
	Detail string
	// Choices lists the groups or languages the store does hold when a
	// lookup misses.
	Choices []string
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindIndexOutOfRange:
		return fmt.Sprintf("%s index %d out of range [0, %d)", e.Axis, e.Index, e.Bound)
	case KindArtifactNotFound:
		return "artifact not found: " + e.Detail
	case KindGroupNotFound:
		return fmt.Sprintf("prompt group %q not found", e.Detail)
	case KindLanguageNotFound:
		return fmt.Sprintf("language %s not found", e.Detail)
	case KindShapeMismatch:
		return "shape mismatch: " + e.Detail
	}
	return e.Detail
}

// Is matches on kind so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of a structured error, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func indexError(axis string, index, bound int) error {
	return &Error{Kind: KindIndexOutOfRange, Axis: axis, Index: index, Bound: bound}
}

func shapeError(format string, args ...any) error {
	return &Error{Kind: KindShapeMismatch, Detail: fmt.Sprintf(format, args...)}
}
