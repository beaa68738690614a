// Package report assembles run reports and keeps the run ledger.
package report

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgnsrekt/chartshot/internal/chart"
)

type Status string

const (
	StatusCompleted Status = "completed"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
)

// Failure records why one symbol, or the preparation, did not produce an
// artifact. Symbol is empty for preparation failures.
type Failure struct {
	Symbol  string `json:"symbol,omitempty"`
	Step    string `json:"step"`
	Phase   string `json:"phase,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

// FailureFromStep flattens a step error for the report.
func FailureFromStep(e *chart.StepError) Failure {
	f := Failure{Symbol: e.Symbol, Step: e.Step, Kind: string(e.Kind), Message: e.Err.Error()}
	if e.Symbol != "" {
		f.Phase = e.Phase.String()
	}
	return f
}

type Run struct {
	ID         string           `json:"id"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Symbols    []string         `json:"symbols"`
	Artifacts  []chart.Artifact `json:"artifacts"`
	Failures   []Failure        `json:"failures,omitempty"`
	Status     Status           `json:"status"`
	Error      string           `json:"error,omitempty"`
}

// Build assembles the report of a finished run. runErr is the error the
// pipeline returned, if any; step errors inside it that are not already in
// failures are added.
func Build(id string, started, finished time.Time, symbols []string, artifacts []chart.Artifact, failures []Failure, runErr error) Run {
	if artifacts == nil {
		artifacts = []chart.Artifact{}
	}
	r := Run{
		ID:         id,
		StartedAt:  started.UTC(),
		FinishedAt: finished.UTC(),
		Symbols:    symbols,
		Artifacts:  artifacts,
		Failures:   failures,
	}
	if runErr != nil {
		r.Error = runErr.Error()
		var stepErr *chart.StepError
		if errors.As(runErr, &stepErr) && !r.hasFailure(stepErr) {
			r.Failures = append(r.Failures, FailureFromStep(stepErr))
		}
	}

	switch {
	case runErr == nil && len(r.Failures) == 0 && len(artifacts) == len(symbols):
		r.Status = StatusCompleted
	case len(artifacts) > 0:
		r.Status = StatusPartial
	default:
		r.Status = StatusFailed
	}
	return r
}

func (r Run) hasFailure(e *chart.StepError) bool {
	for _, f := range r.Failures {
		if f.Symbol == e.Symbol && f.Step == e.Step {
			return true
		}
	}
	return false
}

// Summary renders the plain-text notification body for a run.
func Summary(r Run) string {
	var b strings.Builder
	fmt.Fprintf(&b, "chart capture %s: %d/%d captured in %s\n",
		r.Status, len(r.Artifacts), len(r.Symbols), r.FinishedAt.Sub(r.StartedAt).Round(time.Second))
	for _, a := range r.Artifacts {
		fmt.Fprintf(&b, "%s: %s\n", a.Symbol, a.Locator)
	}
	for _, f := range r.Failures {
		if f.Symbol == "" {
			fmt.Fprintf(&b, "failed %s: %s\n", f.Step, f.Message)
			continue
		}
		fmt.Fprintf(&b, "%s failed %s: %s\n", f.Symbol, f.Step, f.Message)
	}
	if r.Error != "" && len(r.Failures) == 0 {
		fmt.Fprintf(&b, "error: %s\n", r.Error)
	}
	return strings.TrimRight(b.String(), "\n")
}
