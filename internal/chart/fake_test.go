package chart

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/dgnsrekt/chartshot/internal/surface"
)

// testSelectors names every selector after its yaml key so call logs read
// like the UI elements they touch.
func testSelectors() surface.Selectors {
	var sel surface.Selectors
	v := reflect.ValueOf(&sel).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		v.Field(i).SetString(t.Field(i).Tag.Get("yaml"))
	}
	return sel
}

type fakeElement struct {
	sel   surface.Selector
	text  string
	index int
}

type fakeResults struct {
	labels      []string
	description string
}

// fakeSurface is a scripted chart page. Typing into the symbol search input
// renders results[query]; clicking a result switches the chart title to that
// result's description. Interactions named in stalled block until their
// context ends.
type fakeSurface struct {
	sel        surface.Selectors
	results    map[string]fakeResults
	missing    map[surface.Selector]bool
	clickErr   map[surface.Selector]error
	stalled    map[string]bool
	query      string
	chartTitle string
	calls      []string
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{
		sel:      testSelectors(),
		results:  map[string]fakeResults{},
		missing:  map[surface.Selector]bool{},
		clickErr: map[surface.Selector]error{},
		stalled:  map[string]bool{},
	}
}

func (f *fakeSurface) record(format string, args ...any) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeSurface) stall(ctx context.Context, op string) error {
	if !f.stalled[op] {
		return nil
	}
	f.record("stall %s", op)
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeSurface) timeout(sel surface.Selector, opts surface.WaitOptions) error {
	return surface.NewTimeoutError(sel, opts.Timeout, context.DeadlineExceeded)
}

func (f *fakeSurface) WaitFor(ctx context.Context, sel surface.Selector, opts surface.WaitOptions) (surface.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.Visible {
		f.record("wait %s visible", sel)
	} else {
		f.record("wait %s", sel)
	}
	if f.missing[sel] {
		return nil, f.timeout(sel, opts)
	}

	switch sel {
	case f.sel.SymbolResultLabels:
		labels := f.results[f.query].labels
		idx := surface.FirstExact(labels, opts.Text)
		if idx < 0 {
			return nil, f.timeout(sel, opts)
		}
		return &fakeElement{sel: sel, text: labels[idx], index: idx}, nil
	case f.sel.SymbolResultDescription:
		res, ok := f.results[f.query]
		if !ok {
			return nil, f.timeout(sel, opts)
		}
		return &fakeElement{sel: sel, text: res.description}, nil
	case f.sel.ChartMainTitle:
		if opts.Text != "" && opts.Text != f.chartTitle {
			return nil, f.timeout(sel, opts)
		}
		return &fakeElement{sel: sel, text: f.chartTitle}, nil
	}
	return &fakeElement{sel: sel}, nil
}

func (f *fakeSurface) Click(ctx context.Context, el surface.Element) error {
	e := el.(*fakeElement)
	if e.sel == f.sel.SymbolResultLabels {
		f.record("click %s[%d]", e.sel, e.index)
	} else {
		f.record("click %s", e.sel)
	}
	if err := f.clickErr[e.sel]; err != nil {
		return err
	}
	switch e.sel {
	case f.sel.SymbolSearchButton:
		f.query = ""
	case f.sel.SymbolResultLabels:
		f.chartTitle = f.results[f.query].description
	}
	return nil
}

func (f *fakeSurface) FocusAndType(ctx context.Context, el surface.Element, text string) error {
	e := el.(*fakeElement)
	f.record("type %s %q", e.sel, text)
	if e.sel == f.sel.SymbolSearchInput {
		f.query = text
	}
	return nil
}

func (f *fakeSurface) ClearAndType(ctx context.Context, el surface.Element, text string) error {
	f.record("replace %s %q", el.(*fakeElement).sel, text)
	return f.stall(ctx, "replace")
}

func (f *fakeSurface) ReadText(ctx context.Context, el surface.Element) (string, error) {
	if err := f.stall(ctx, "read"); err != nil {
		return "", err
	}
	return el.(*fakeElement).text, nil
}

func (f *fakeSurface) Screenshot(ctx context.Context, el surface.Element) ([]byte, error) {
	f.record("screenshot %s", el.(*fakeElement).sel)
	return []byte("png:" + f.chartTitle), nil
}

func (f *fakeSurface) MovePointer(ctx context.Context, x, y float64) error {
	f.record("move %v,%v", x, y)
	return nil
}

func (f *fakeSurface) PressEscape(ctx context.Context) error {
	f.record("escape")
	f.query = ""
	return nil
}

func (f *fakeSurface) Navigate(ctx context.Context, url string) error {
	f.record("navigate %s", url)
	return nil
}

func (f *fakeSurface) count(prefix string) int {
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

type storedImage struct {
	symbol string
	image  string
	at     time.Time
}

type fakePersister struct {
	stored []storedImage
	errFor map[string]error
}

func (p *fakePersister) Store(ctx context.Context, image []byte, symbol string, at time.Time) (string, error) {
	if err := p.errFor[symbol]; err != nil {
		return "", err
	}
	p.stored = append(p.stored, storedImage{symbol: symbol, image: string(image), at: at})
	return "https://bucket.example.com/" + symbol + ".png", nil
}

var errStale = errors.New("node is detached from document")
