package chart

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/dgnsrekt/chartshot/internal/surface"
)

// Preparer puts a freshly loaded chart into the default visual state:
// logarithmic scale, side panel collapsed, indicators applied and configured.
type Preparer struct {
	surface    surface.Surface
	sel        surface.Selectors
	indicators []IndicatorSpec
	opts       Options
	started    atomic.Bool
}

func NewPreparer(s surface.Surface, sel surface.Selectors, indicators []IndicatorSpec, opts Options) *Preparer {
	return &Preparer{surface: s, sel: sel, indicators: indicators, opts: opts}
}

// Run executes the preparation sequence once. Any failure aborts the sequence
// and is returned as a *StepError. Later calls return ErrAlreadyPrepared. An
// indicator list that cannot be applied is rejected with ErrInvalidIndicator
// before the surface is touched.
func (p *Preparer) Run(ctx context.Context) error {
	if err := validateIndicators(p.indicators); err != nil {
		return err
	}
	if !p.started.CompareAndSwap(false, true) {
		return ErrAlreadyPrepared
	}

	slog.Info("chart prepare start", "indicators", len(p.indicators), "timeout", p.opts.Timeout)

	if _, err := p.wait(ctx, StepWaitPageLoad, p.sel.PageTitle, true); err != nil {
		return err
	}
	if err := p.waitAndClick(ctx, StepLogView, p.sel.LogScaleButton); err != nil {
		return err
	}
	if err := p.waitAndClick(ctx, StepCloseSidePanel, p.sel.SidePanelHider); err != nil {
		return err
	}

	for _, group := range groupIndicators(p.indicators) {
		if err := p.addIndicators(ctx, group); err != nil {
			return err
		}
	}
	for _, spec := range p.indicators {
		if spec.PeriodValue == "" {
			continue
		}
		if err := p.configureIndicator(ctx, spec); err != nil {
			return err
		}
	}

	slog.Info("chart prepare done")
	return nil
}

// addIndicators searches the group's name once and clicks the first match
// once per entry.
func (p *Preparer) addIndicators(ctx context.Context, group []IndicatorSpec) error {
	name := group[0].Name
	slog.Debug("chart add indicators", "name", name, "count", len(group))

	if err := p.waitAndClick(ctx, StepOpenIndicators, p.sel.IndicatorsButton); err != nil {
		return err
	}
	input, err := p.wait(ctx, StepInputIndicator, p.sel.IndicatorSearchInput, false)
	if err != nil {
		return err
	}
	if err := p.opts.interact(ctx, func(ctx context.Context) error { return p.surface.FocusAndType(ctx, input, name) }); err != nil {
		return p.fail(StepInputIndicator, err)
	}
	for range group {
		if err := p.waitAndClick(ctx, StepSelectIndicator, p.sel.IndicatorResult); err != nil {
			return err
		}
	}
	return p.waitAndClick(ctx, StepCloseIndicators, p.sel.IndicatorsClose)
}

func (p *Preparer) configureIndicator(ctx context.Context, spec IndicatorSpec) error {
	slog.Debug("chart configure indicator", "name", spec.Name, "occurrence", spec.OccurrenceIndex, "period", spec.PeriodValue)

	title, err := p.wait(ctx, StepOpenIndicatorConfig, p.sel.AppliedIndicator(spec.OccurrenceIndex), false)
	if err != nil {
		return err
	}
	// The legend title opens its settings dialog on double click.
	for i := 0; i < 2; i++ {
		if err := p.opts.interact(ctx, func(ctx context.Context) error { return p.surface.Click(ctx, title) }); err != nil {
			return p.fail(StepOpenIndicatorConfig, err)
		}
	}

	period, err := p.wait(ctx, StepChangePeriod, p.sel.IndicatorPeriodInput, false)
	if err != nil {
		return err
	}
	err = p.opts.interact(ctx, func(ctx context.Context) error { return p.surface.ClearAndType(ctx, period, spec.PeriodValue) })
	if err != nil {
		return p.fail(StepChangePeriod, err)
	}

	return p.waitAndClick(ctx, StepConfirmIndicator, p.sel.IndicatorConfirm)
}

func (p *Preparer) wait(ctx context.Context, step string, sel surface.Selector, visible bool) (surface.Element, error) {
	el, err := p.surface.WaitFor(ctx, sel, surface.WaitOptions{Visible: visible, Timeout: p.opts.Timeout})
	if err != nil {
		return nil, p.fail(step, err)
	}
	return el, nil
}

func (p *Preparer) waitAndClick(ctx context.Context, step string, sel surface.Selector) error {
	el, err := p.wait(ctx, step, sel, false)
	if err != nil {
		return err
	}
	if err := p.opts.interact(ctx, func(ctx context.Context) error { return p.surface.Click(ctx, el) }); err != nil {
		return p.fail(step, err)
	}
	slog.Debug("chart prepare step ok", "step", step)
	return nil
}

func (p *Preparer) fail(step string, err error) error {
	slog.Error("chart prepare step failed", "step", step, "error", err)
	return &StepError{Step: step, Kind: interactionKind(err), Err: err}
}

// groupIndicators groups specs by name, keeping first-appearance order.
func groupIndicators(specs []IndicatorSpec) [][]IndicatorSpec {
	var groups [][]IndicatorSpec
	index := make(map[string]int)
	for _, spec := range specs {
		i, ok := index[spec.Name]
		if !ok {
			i = len(groups)
			index[spec.Name] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], spec)
	}
	return groups
}
