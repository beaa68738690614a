package chart

import (
	"fmt"
	"time"

	"github.com/dgnsrekt/chartshot/internal/surface"
)

// Phase is a state of the per-symbol capture protocol.
type Phase int

const (
	PhaseSearching Phase = iota
	PhaseDisambiguating
	PhaseSelecting
	PhaseAwaitingRender
	PhaseCapturing
	PhaseDone
	PhaseFailed
)

var phaseNames = [...]string{
	PhaseSearching:      "searching",
	PhaseDisambiguating: "disambiguating",
	PhaseSelecting:      "selecting",
	PhaseAwaitingRender: "awaiting_render",
	PhaseCapturing:      "capturing",
	PhaseDone:           "done",
	PhaseFailed:         "failed",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

// symbolRun tracks one symbol through the protocol. Transitions only move
// one step forward, or to PhaseFailed from any non-terminal phase.
type symbolRun struct {
	symbol      string
	phase       Phase
	match       surface.Element
	description string
	locator     string
	capturedAt  time.Time
}

func (r *symbolRun) advance(to Phase) error {
	if r.terminal() {
		return fmt.Errorf("chart: symbol %s: transition from terminal phase %s to %s", r.symbol, r.phase, to)
	}
	if to != PhaseFailed && to != r.phase+1 {
		return fmt.Errorf("chart: symbol %s: invalid transition %s -> %s", r.symbol, r.phase, to)
	}
	r.phase = to
	return nil
}

func (r *symbolRun) terminal() bool {
	return r.phase == PhaseDone || r.phase == PhaseFailed
}
