package report

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dgnsrekt/chartshot/internal/chart"
	"github.com/dgnsrekt/chartshot/internal/surface"
)

var (
	started  = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	finished = started.Add(42 * time.Second)
)

func artifact(symbol string) chart.Artifact {
	return chart.Artifact{Symbol: symbol, Locator: "file:///snapshots/" + symbol + ".png", CapturedAt: started}
}

func TestBuildStatus(t *testing.T) {
	timeout := &chart.StepError{
		Step:   chart.StepBestMatch,
		Symbol: "BADSYM",
		Phase:  chart.PhaseDisambiguating,
		Kind:   chart.KindNotReady,
		Err:    surface.ErrTimeout,
	}
	tests := []struct {
		name      string
		artifacts []chart.Artifact
		failures  []Failure
		runErr    error
		want      Status
	}{
		{name: "all captured", artifacts: []chart.Artifact{artifact("PETR4"), artifact("BADSYM")}, want: StatusCompleted},
		{name: "aborted after first", artifacts: []chart.Artifact{artifact("PETR4")}, runErr: timeout, want: StatusPartial},
		{name: "skipped one", artifacts: []chart.Artifact{artifact("PETR4")}, failures: []Failure{FailureFromStep(timeout)}, runErr: timeout, want: StatusPartial},
		{name: "nothing captured", runErr: errors.New("preparation failed"), want: StatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Build("run-1", started, finished, []string{"PETR4", "BADSYM"}, tt.artifacts, tt.failures, tt.runErr)
			if r.Status != tt.want {
				t.Fatalf("Status = %q; want %q", r.Status, tt.want)
			}
		})
	}
}

func TestBuildRecordsStepErrorOnce(t *testing.T) {
	stepErr := &chart.StepError{Step: chart.StepBestMatch, Symbol: "BADSYM", Phase: chart.PhaseDisambiguating, Kind: chart.KindNotReady, Err: surface.ErrTimeout}

	r := Build("run-1", started, finished, []string{"PETR4", "BADSYM"}, []chart.Artifact{artifact("PETR4")}, nil, stepErr)
	if len(r.Failures) != 1 {
		t.Fatalf("Failures = %+v; want one", r.Failures)
	}
	f := r.Failures[0]
	if f.Symbol != "BADSYM" || f.Step != chart.StepBestMatch || f.Phase != "disambiguating" || f.Kind != string(chart.KindNotReady) {
		t.Fatalf("Failure = %+v", f)
	}

	again := Build("run-1", started, finished, []string{"PETR4", "BADSYM"}, nil, r.Failures, stepErr)
	if len(again.Failures) != 1 {
		t.Fatalf("Failures = %+v; want the step error recorded once", again.Failures)
	}
}

func TestBuildPreparationFailureHasNoPhase(t *testing.T) {
	stepErr := &chart.StepError{Step: chart.StepLogView, Kind: chart.KindNotReady, Err: surface.ErrTimeout}
	r := Build("run-1", started, finished, []string{"PETR4"}, nil, nil, stepErr)
	if len(r.Failures) != 1 || r.Failures[0].Phase != "" || r.Failures[0].Symbol != "" {
		t.Fatalf("Failures = %+v; want one preparation failure", r.Failures)
	}
	if r.Artifacts == nil {
		t.Fatal("Artifacts = nil; want empty slice")
	}
}

func TestSummary(t *testing.T) {
	stepErr := &chart.StepError{Step: chart.StepBestMatch, Symbol: "BADSYM", Phase: chart.PhaseDisambiguating, Kind: chart.KindNotReady, Err: surface.ErrTimeout}
	r := Build("run-1", started, finished, []string{"PETR4", "BADSYM"}, []chart.Artifact{artifact("PETR4")}, nil, stepErr)

	got := Summary(r)
	for _, want := range []string{
		"chart capture partial: 1/2 captured in 42s",
		"PETR4: file:///snapshots/PETR4.png",
		"BADSYM failed getting loaded best stock match",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("Summary() = %q; missing %q", got, want)
		}
	}
	if strings.HasSuffix(got, "\n") {
		t.Fatalf("Summary() = %q; want no trailing newline", got)
	}
}

func TestSummaryPlainError(t *testing.T) {
	r := Build("run-1", started, finished, []string{"PETR4"}, nil, nil, errors.New("browser unreachable"))
	if got := Summary(r); !strings.Contains(got, "error: browser unreachable") {
		t.Fatalf("Summary() = %q; want the run error", got)
	}
}
