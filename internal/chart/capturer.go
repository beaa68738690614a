package chart

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/dgnsrekt/chartshot/internal/surface"
)

var errEmptyDescription = errors.New("best match has an empty description")

// Capturer selects each symbol's chart on a prepared surface and stores a
// screenshot of the chart region.
type Capturer struct {
	surface   surface.Surface
	sel       surface.Selectors
	persister Persister
	opts      Options
}

func NewCapturer(s surface.Surface, sel surface.Selectors, p Persister, opts Options) *Capturer {
	return &Capturer{surface: s, sel: sel, persister: p, opts: opts}
}

type capturePhase struct {
	phase Phase
	run   func(context.Context, *symbolRun) error
}

// Run processes symbols strictly in order and returns one artifact per
// captured symbol, in input order. Under PolicyAbort the first failure stops
// the run and is returned with the artifacts captured before it. Under
// PolicySkip failed symbols are omitted and their errors are joined.
func (c *Capturer) Run(ctx context.Context, symbols []string) ([]Artifact, error) {
	slog.Info("chart capture start", "symbols", len(symbols), "policy", c.policy())

	artifacts := make([]Artifact, 0, len(symbols))
	var failures []error
	for i, symbol := range symbols {
		if err := ctx.Err(); err != nil {
			return artifacts, err
		}

		artifact, err := c.captureSymbol(ctx, symbol)
		if err == nil {
			artifacts = append(artifacts, artifact)
			slog.Info("chart symbol captured", "index", i, "symbol", symbol, "locator", artifact.Locator)
			continue
		}

		var stepErr *StepError
		if errors.As(err, &stepErr) && c.opts.OnFailure != nil {
			c.opts.OnFailure(stepErr)
		}
		if c.policy() == PolicyAbort {
			slog.Error("chart capture aborted", "index", i, "symbol", symbol, "error", err)
			return artifacts, err
		}
		slog.Warn("chart symbol skipped", "index", i, "symbol", symbol, "error", err)
		failures = append(failures, err)
		c.dismissSearch(ctx)
	}

	slog.Info("chart capture done", "captured", len(artifacts), "failed", len(failures))
	return artifacts, errors.Join(failures...)
}

func (c *Capturer) policy() FailurePolicy {
	if c.opts.Policy == PolicySkip {
		return PolicySkip
	}
	return PolicyAbort
}

func (c *Capturer) captureSymbol(ctx context.Context, symbol string) (Artifact, error) {
	run := &symbolRun{symbol: symbol, phase: PhaseSearching}
	phases := []capturePhase{
		{PhaseSearching, c.search},
		{PhaseDisambiguating, c.disambiguate},
		{PhaseSelecting, c.selectMatch},
		{PhaseAwaitingRender, c.awaitRender},
		{PhaseCapturing, c.capture},
	}

	for _, ph := range phases {
		if run.phase != ph.phase {
			if err := run.advance(ph.phase); err != nil {
				return Artifact{}, err
			}
		}
		slog.Debug("chart symbol phase", "symbol", symbol, "phase", ph.phase)
		if err := ph.run(ctx, run); err != nil {
			_ = run.advance(PhaseFailed)
			return Artifact{}, err
		}
	}
	if err := run.advance(PhaseDone); err != nil {
		return Artifact{}, err
	}

	return Artifact{
		Symbol:      symbol,
		Locator:     run.locator,
		Description: run.description,
		CapturedAt:  run.capturedAt,
	}, nil
}

func (c *Capturer) search(ctx context.Context, run *symbolRun) error {
	button, err := c.wait(ctx, run, StepOpenSearch, c.sel.SymbolSearchButton, "")
	if err != nil {
		return err
	}
	if err := c.opts.interact(ctx, func(ctx context.Context) error { return c.surface.Click(ctx, button) }); err != nil {
		return c.fail(run, StepOpenSearch, interactionKind(err), err)
	}

	input, err := c.wait(ctx, run, StepInputSymbol, c.sel.SymbolSearchInput, "")
	if err != nil {
		return err
	}
	err = c.opts.interact(ctx, func(ctx context.Context) error { return c.surface.FocusAndType(ctx, input, run.symbol) })
	if err != nil {
		return c.fail(run, StepInputSymbol, interactionKind(err), err)
	}
	return nil
}

// disambiguate waits for the first result labelled exactly as the symbol and
// reads the first result's description, which the chart later shows as its
// title once the symbol is loaded.
func (c *Capturer) disambiguate(ctx context.Context, run *symbolRun) error {
	match, err := c.wait(ctx, run, StepBestMatch, c.sel.SymbolResultLabels, run.symbol)
	if err != nil {
		return err
	}
	run.match = match

	descEl, err := c.wait(ctx, run, StepDescription, c.sel.SymbolResultDescription, "")
	if err != nil {
		return err
	}
	var desc string
	err = c.opts.interact(ctx, func(ctx context.Context) error {
		var err error
		desc, err = c.surface.ReadText(ctx, descEl)
		return err
	})
	if err != nil {
		return c.fail(run, StepDescription, interactionKind(err), err)
	}
	desc = strings.TrimSpace(desc)
	if desc == "" {
		return c.fail(run, StepDescription, KindInteraction, errEmptyDescription)
	}
	run.description = desc
	return nil
}

func (c *Capturer) selectMatch(ctx context.Context, run *symbolRun) error {
	if err := c.opts.interact(ctx, func(ctx context.Context) error { return c.surface.Click(ctx, run.match) }); err != nil {
		return c.fail(run, StepClickBestMatch, interactionKind(err), err)
	}
	return nil
}

func (c *Capturer) awaitRender(ctx context.Context, run *symbolRun) error {
	_, err := c.wait(ctx, run, StepWaitChartLoad, c.sel.ChartMainTitle, run.description)
	return err
}

func (c *Capturer) capture(ctx context.Context, run *symbolRun) error {
	// Keep the crosshair and hover tooltips out of the image.
	if err := c.opts.interact(ctx, func(ctx context.Context) error { return c.surface.MovePointer(ctx, 0, 0) }); err != nil {
		return c.fail(run, StepMovePointer, interactionKind(err), err)
	}

	table, err := c.wait(ctx, run, StepScreenshot, c.sel.ChartTable, "")
	if err != nil {
		return err
	}
	var image []byte
	err = c.opts.interact(ctx, func(ctx context.Context) error {
		var err error
		image, err = c.surface.Screenshot(ctx, table)
		return err
	})
	if err != nil {
		return c.fail(run, StepScreenshot, interactionKind(err), err)
	}

	at := c.opts.now()
	locator, err := c.persister.Store(ctx, image, run.symbol, at)
	if err != nil {
		return c.fail(run, StepSaveScreenshot, KindPersistence, err)
	}
	run.locator = locator
	run.capturedAt = at
	return nil
}

func (c *Capturer) wait(ctx context.Context, run *symbolRun, step string, sel surface.Selector, text string) (surface.Element, error) {
	el, err := c.surface.WaitFor(ctx, sel, surface.WaitOptions{Text: text, Timeout: c.opts.Timeout})
	if err != nil {
		return nil, c.fail(run, step, interactionKind(err), err)
	}
	return el, nil
}

func (c *Capturer) fail(run *symbolRun, step string, kind ErrorKind, err error) error {
	return &StepError{Step: step, Symbol: run.symbol, Phase: run.phase, Kind: kind, Err: err}
}

// dismissSearch closes a search dialog left open by a failed symbol so the
// next symbol starts from the chart.
func (c *Capturer) dismissSearch(ctx context.Context) {
	escCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.surface.PressEscape(escCtx); err != nil {
		slog.Debug("chart dismiss search failed", "error", err)
	}
}
