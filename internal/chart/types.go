// Package chart drives a chart surface into its default visual state and
// captures one screenshot per symbol.
package chart

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgnsrekt/chartshot/internal/surface"
)

// ErrAlreadyPrepared is returned by Preparer.Run after its first call. The
// preparation steps toggle controls, so replaying them would undo them.
var ErrAlreadyPrepared = errors.New("chart: surface already prepared")

// ErrInvalidIndicator is returned by Preparer.Run for an indicator list it
// cannot apply.
var ErrInvalidIndicator = errors.New("chart: invalid indicator")

// Artifact pairs a symbol with the locator of its stored screenshot.
type Artifact struct {
	Symbol      string    `json:"symbol"`
	Locator     string    `json:"locator"`
	Description string    `json:"description,omitempty"`
	CapturedAt  time.Time `json:"captured_at"`
}

// IndicatorSpec describes one indicator application. Entries sharing a Name
// are added from a single search. OccurrenceIndex is the 1-based position of
// the applied indicator in the chart legend whose period is set to
// PeriodValue; an empty PeriodValue leaves the indicator unconfigured.
type IndicatorSpec struct {
	Name            string `json:"name"`
	OccurrenceIndex int    `json:"occurrence_index"`
	PeriodValue     string `json:"period_value,omitempty"`
}

// DefaultIndicators adds two EMAs and sets the second one's period to 72.
func DefaultIndicators() []IndicatorSpec {
	return []IndicatorSpec{
		{Name: "EMA", OccurrenceIndex: 1},
		{Name: "EMA", OccurrenceIndex: 2, PeriodValue: "72"},
	}
}

func validateIndicators(specs []IndicatorSpec) error {
	for i, spec := range specs {
		if strings.TrimSpace(spec.Name) == "" {
			return fmt.Errorf("%w: entry %d has no name", ErrInvalidIndicator, i)
		}
		// Legend positions are 1-based; anything lower never matches.
		if spec.PeriodValue != "" && spec.OccurrenceIndex < 1 {
			return fmt.Errorf("%w: %s entry %d sets period %q at occurrence %d", ErrInvalidIndicator, spec.Name, i, spec.PeriodValue, spec.OccurrenceIndex)
		}
	}
	return nil
}

// Persister stores one captured image and returns an opaque locator.
type Persister interface {
	Store(ctx context.Context, image []byte, symbol string, at time.Time) (string, error)
}

// FailurePolicy decides what the capturer does after a symbol fails.
type FailurePolicy string

const (
	// PolicyAbort stops at the first failed symbol.
	PolicyAbort FailurePolicy = "abort"
	// PolicySkip omits the failed symbol and continues with the next one.
	PolicySkip FailurePolicy = "skip"
)

// ParseFailurePolicy maps a config value to a policy; empty means abort.
func ParseFailurePolicy(v string) (FailurePolicy, error) {
	switch FailurePolicy(v) {
	case "", PolicyAbort:
		return PolicyAbort, nil
	case PolicySkip:
		return PolicySkip, nil
	}
	return "", fmt.Errorf("unknown failure policy %q (want abort or skip)", v)
}

// Options configure both pipeline components.
type Options struct {
	// Timeout bounds every wait and every interaction on the surface.
	Timeout time.Duration
	// Policy applies to the capturer only.
	Policy FailurePolicy
	// OnFailure is called for every failed symbol before the policy is applied.
	OnFailure func(*StepError)
	// Now stamps artifacts; defaults to time.Now.
	Now func() time.Time
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// interact runs one non-wait surface call under Timeout. A call that outlives
// it is reported as a surface timeout.
func (o Options) interact(ctx context.Context, fn func(context.Context) error) error {
	if o.Timeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, o.Timeout)
	defer cancel()

	err := fn(callCtx)
	if err != nil && !errors.Is(err, surface.ErrTimeout) && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return surface.NewTimeoutError("", o.Timeout, err)
	}
	return err
}
