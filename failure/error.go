package failure

import (
	"errors"
	"fmt"
)

// ErrorContext carries the where-and-what of a failure so that retry
// decisions and event payloads can name the failing site, action and item.
// Values are set once at construction and never mutated afterwards.
type ErrorContext struct {
	Site       string
	Action     string
	StepIndex  int
	SKU        string
	MaxRetries int
}

// Error is a classified failure. Wrapping an Error preserves its Kind
// through the retry loop, so an error classified once stays classified.
type Error struct {
	Kind    Kind
	Message string
	Context ErrorContext
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified failure with context.
func New(kind Kind, msg string, ctx ErrorContext, err error) *Error {
	return &Error{Kind: kind, Message: msg, Context: ctx, Err: err}
}

// NewConfiguration builds a configuration failure. These are never retried
// and surface immediately.
func NewConfiguration(msg string, ctx ErrorContext) *Error {
	return &Error{Kind: KindConfiguration, Message: msg, Context: ctx}
}

// NewTimeout builds a timeout failure.
func NewTimeout(msg string, ctx ErrorContext, err error) *Error {
	return &Error{Kind: KindTimeout, Message: msg, Context: ctx, Err: err}
}

// NewNoResults builds a terminal-but-expected no-results outcome.
func NewNoResults(msg string, ctx ErrorContext) *Error {
	return &Error{Kind: KindNoResults, Message: msg, Context: ctx}
}

// KindOf returns the classified kind of err, or KindUnknown when err carries
// no classification.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}
