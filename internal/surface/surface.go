// Package surface defines the capability the chart pipeline uses to observe and
// drive a live, asynchronously rendering document, plus the selector table that
// tells it where things are.
package surface

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrTimeout is matched (via errors.Is) by every error produced when a bounded
// wait expires before its predicate is satisfied.
var ErrTimeout = errors.New("surface: wait timed out")

// Selector is an XPath expression locating one logical UI element.
type Selector string

// Element is an opaque handle to a node returned by WaitFor. Backends define
// the concrete type; callers only pass it back to the same Surface.
type Element any

// WaitOptions bounds a single WaitFor call.
type WaitOptions struct {
	// Visible requires the node to be rendered with a non-empty box.
	Visible bool
	// Text, when set, requires the node's trimmed text to equal it exactly.
	// The first such node in document order is returned.
	Text string
	// Timeout is the maximum time to poll.
	Timeout time.Duration
}

// Surface is the set of operations the pipeline performs on the rendered
// document. Every method blocks; none is safe for concurrent use by more
// than one pipeline.
type Surface interface {
	WaitFor(ctx context.Context, sel Selector, opts WaitOptions) (Element, error)
	Click(ctx context.Context, el Element) error
	FocusAndType(ctx context.Context, el Element, text string) error
	ClearAndType(ctx context.Context, el Element, text string) error
	ReadText(ctx context.Context, el Element) (string, error)
	Screenshot(ctx context.Context, el Element) ([]byte, error)
	MovePointer(ctx context.Context, x, y float64) error
	PressEscape(ctx context.Context) error
	Navigate(ctx context.Context, url string) error
}

// TimeoutError reports an expired bounded wait or interaction. Selector is
// empty for interactions.
type TimeoutError struct {
	Selector Selector
	Timeout  time.Duration
	Cause    error
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("surface: timed out after %s", e.Timeout)
	if e.Selector != "" {
		msg += " waiting for " + string(e.Selector)
	}
	if e.Cause != nil && !errors.Is(e.Cause, context.DeadlineExceeded) {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

func (e *TimeoutError) Unwrap() error { return e.Cause }

// NewTimeoutError builds the error returned when a wait or interaction
// outlives its bound.
func NewTimeoutError(sel Selector, timeout time.Duration, cause error) error {
	return &TimeoutError{Selector: sel, Timeout: timeout, Cause: cause}
}

// FirstExact returns the index of the first text equal to want after
// trimming surrounding whitespace, or -1. Prefix matches never count.
func FirstExact(texts []string, want string) int {
	want = strings.TrimSpace(want)
	for i, t := range texts {
		if strings.TrimSpace(t) == want {
			return i
		}
	}
	return -1
}
