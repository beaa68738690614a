package chart

import (
	"errors"
	"fmt"

	"github.com/dgnsrekt/chartshot/internal/surface"
)

// ErrorKind classifies a step failure by what went wrong.
type ErrorKind string

const (
	KindNotReady    ErrorKind = "surface-not-ready"
	KindInteraction ErrorKind = "interaction-failed"
	KindPersistence ErrorKind = "persistence-failed"
)

// Step names used in errors and logs.
const (
	StepWaitPageLoad        = "waiting for page load"
	StepLogView             = "changing to log view"
	StepCloseSidePanel      = "closing side panel"
	StepOpenIndicators      = "opening indicators tab"
	StepInputIndicator      = "inputting indicator"
	StepSelectIndicator     = "selecting best indicator match"
	StepCloseIndicators     = "closing indicators tab"
	StepOpenIndicatorConfig = "opening indicator config"
	StepChangePeriod        = "changing period value"
	StepConfirmIndicator    = "confirming indicator changes"

	StepOpenSearch     = "opening stock search"
	StepInputSymbol    = "inputting the stock"
	StepBestMatch      = "getting loaded best stock match"
	StepDescription    = "getting best stock match description"
	StepClickBestMatch = "clicking best stock match"
	StepWaitChartLoad  = "waiting for stock chart to load"
	StepMovePointer    = "moving pointer out of the chart"
	StepScreenshot     = "taking a screenshot of the chart"
	StepSaveScreenshot = "saving screenshot"
)

// StepError names the pipeline step that failed and, inside the capturer,
// the symbol being processed.
type StepError struct {
	Step   string
	Symbol string
	Phase  Phase
	Kind   ErrorKind
	Err    error
}

func (e *StepError) Error() string {
	if e.Symbol == "" {
		return fmt.Sprintf("%s: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", e.Step, e.Symbol, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// interactionKind picks the kind for a failed wait or interaction.
func interactionKind(err error) ErrorKind {
	if errors.Is(err, surface.ErrTimeout) {
		return KindNotReady
	}
	return KindInteraction
}
