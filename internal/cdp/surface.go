// Package cdp implements the chart surface on top of a chromedp session
// attached to an already running browser.
package cdp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	cdproto "github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"github.com/dgnsrekt/chartshot/internal/surface"
)

const (
	textPollInterval = 100 * time.Millisecond
	// textReadTimeout bounds reading one candidate's text inside a poll.
	textReadTimeout = 500 * time.Millisecond
)

// Options select the tab the surface attaches to.
type Options struct {
	// CDPURL is the browser's HTTP debugging endpoint.
	CDPURL string
	// TabURLFilter picks the first page target whose URL contains it
	// (case-insensitive). Empty matches any page.
	TabURLFilter string
	// StartURL is opened in a new tab when no page matches.
	StartURL string
	// OpTimeout bounds every non-wait operation; zero leaves them bounded
	// only by the caller's ctx.
	OpTimeout time.Duration
}

// Surface drives one browser tab through chromedp. tabCancel would close the
// tab, so Close leaves it alone for the next run.
type Surface struct {
	opts        Options
	allocCtx    context.Context
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	targetID    target.ID
}

var _ surface.Surface = (*Surface)(nil)

// Connect attaches to the browser at opts.CDPURL and binds to a chart tab,
// opening one at StartURL when none matches the filter.
func Connect(ctx context.Context, opts Options) (*Surface, error) {
	slog.Info("connecting to chromium", "url", opts.CDPURL)

	s := &Surface{opts: opts}
	s.allocCtx, s.allocCancel = chromedp.NewRemoteAllocator(context.Background(), opts.CDPURL)

	tempCtx, tempCancel := chromedp.NewContext(s.allocCtx)
	defer tempCancel()

	// The first Run on a chromedp context allocates its connection, so it
	// must not see a derived context that is cancelled when the call returns.
	if err := chromedp.Run(tempCtx); err != nil {
		s.allocCancel()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	targets, err := chromedp.Targets(tempCtx)
	if err != nil {
		s.allocCancel()
		return nil, fmt.Errorf("failed to enumerate targets: %w", err)
	}
	slog.Info("found browser targets", "count", len(targets))

	for _, t := range targets {
		if t.Type != "page" || !s.matchesTabURL(t.URL) {
			slog.Debug("skipping tab", "target_id", t.TargetID, "url", truncateURL(t.URL))
			continue
		}
		s.tabCtx, s.tabCancel = chromedp.NewContext(s.allocCtx, chromedp.WithTargetID(t.TargetID))
		s.targetID = t.TargetID
		slog.Info("attached to chart tab", "target_id", t.TargetID, "url", truncateURL(t.URL))
		break
	}

	if s.tabCtx == nil {
		if opts.StartURL == "" {
			s.Close()
			return nil, fmt.Errorf("no tabs found matching CHART_TAB_URL_FILTER=%q", opts.TabURLFilter)
		}
		slog.Info("no chart tab found, opening one", "url", opts.StartURL)
		s.tabCtx, s.tabCancel = chromedp.NewContext(s.allocCtx)
	}

	if err := chromedp.Run(s.tabCtx, page.Enable()); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to enable page domain: %w", err)
	}
	if s.targetID == "" {
		if c := chromedp.FromContext(s.tabCtx); c != nil && c.Target != nil {
			s.targetID = c.Target.TargetID
		}
		if err := s.Navigate(ctx, opts.StartURL); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

// TargetID is the CDP target the surface is bound to.
func (s *Surface) TargetID() string { return string(s.targetID) }

// Close detaches from the browser. The tab itself is left open.
func (s *Surface) Close() error {
	if s.allocCancel != nil {
		s.allocCancel()
	}
	slog.Info("cdp surface closed")
	return nil
}

func (s *Surface) WaitFor(ctx context.Context, sel surface.Selector, opts surface.WaitOptions) (surface.Element, error) {
	waitCtx, cancel := s.opCtx(ctx, opts.Timeout)
	defer cancel()

	queryOpts := []chromedp.QueryOption{chromedp.BySearch}
	if opts.Visible {
		queryOpts = append(queryOpts, chromedp.NodeVisible)
	}

	if opts.Text == "" {
		var nodes []*cdproto.Node
		err := chromedp.Run(waitCtx, chromedp.Nodes(string(sel), &nodes, queryOpts...))
		if err != nil {
			return nil, s.waitErr(ctx, waitCtx, sel, opts.Timeout, err)
		}
		if len(nodes) == 0 {
			return nil, s.waitErr(ctx, waitCtx, sel, opts.Timeout, errors.New("no nodes"))
		}
		return nodes[0], nil
	}

	// The text predicate cannot be expressed by chromedp's query options, so
	// the matches are re-read until one equals the wanted text.
	queryOpts = append(queryOpts, chromedp.AtLeast(0))
	ticker := time.NewTicker(textPollInterval)
	defer ticker.Stop()
	for {
		node, err := s.firstWithText(waitCtx, sel, opts.Text, queryOpts)
		if err != nil {
			return nil, s.waitErr(ctx, waitCtx, sel, opts.Timeout, err)
		}
		if node != nil {
			return node, nil
		}
		select {
		case <-waitCtx.Done():
			return nil, s.waitErr(ctx, waitCtx, sel, opts.Timeout, waitCtx.Err())
		case <-ticker.C:
		}
	}
}

func (s *Surface) firstWithText(ctx context.Context, sel surface.Selector, want string, queryOpts []chromedp.QueryOption) (*cdproto.Node, error) {
	var nodes []*cdproto.Node
	if err := chromedp.Run(ctx, chromedp.Nodes(string(sel), &nodes, queryOpts...)); err != nil {
		return nil, err
	}
	texts := make([]string, len(nodes))
	for i, n := range nodes {
		// TextContent waits for the node to be present, and the result list
		// re-renders while the user types. A node gone between query and read
		// is skipped for this poll only.
		readCtx, cancel := context.WithTimeout(ctx, textReadTimeout)
		err := chromedp.Run(readCtx, chromedp.TextContent([]cdproto.NodeID{n.NodeID}, &texts[i], chromedp.ByNodeID))
		cancel()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			slog.Debug("cdp text read skipped", "selector", sel, "error", err)
		}
	}
	if idx := surface.FirstExact(texts, want); idx >= 0 {
		return nodes[idx], nil
	}
	return nil, nil
}

func (s *Surface) Click(ctx context.Context, el surface.Element) error {
	n, err := asNode(el)
	if err != nil {
		return err
	}
	if err := s.run(ctx, chromedp.MouseClickNode(n)); err != nil {
		return fmt.Errorf("click %s: %w", describe(n), err)
	}
	return nil
}

func (s *Surface) FocusAndType(ctx context.Context, el surface.Element, text string) error {
	n, err := asNode(el)
	if err != nil {
		return err
	}
	if err := s.run(ctx, chromedp.KeyEventNode(n, text)); err != nil {
		return fmt.Errorf("type into %s: %w", describe(n), err)
	}
	return nil
}

func (s *Surface) ClearAndType(ctx context.Context, el surface.Element, text string) error {
	n, err := asNode(el)
	if err != nil {
		return err
	}
	// Ctrl+A through Input.dispatchKeyEvent is not a select-all on every
	// platform, so the value is selected in the page before it is replaced.
	err = s.run(ctx,
		selectValue(n),
		chromedp.KeyEventNode(n, kb.Backspace),
		chromedp.KeyEventNode(n, text),
	)
	if err != nil {
		return fmt.Errorf("replace value of %s: %w", describe(n), err)
	}
	return nil
}

func (s *Surface) ReadText(ctx context.Context, el surface.Element) (string, error) {
	n, err := asNode(el)
	if err != nil {
		return "", err
	}
	var text string
	if err := s.run(ctx, chromedp.TextContent([]cdproto.NodeID{n.NodeID}, &text, chromedp.ByNodeID)); err != nil {
		return "", fmt.Errorf("read text of %s: %w", describe(n), err)
	}
	return text, nil
}

func (s *Surface) Screenshot(ctx context.Context, el surface.Element) ([]byte, error) {
	n, err := asNode(el)
	if err != nil {
		return nil, err
	}
	var buf []byte
	if err := s.run(ctx, chromedp.Screenshot([]cdproto.NodeID{n.NodeID}, &buf, chromedp.ByNodeID)); err != nil {
		return nil, fmt.Errorf("screenshot %s: %w", describe(n), err)
	}
	return buf, nil
}

func (s *Surface) MovePointer(ctx context.Context, x, y float64) error {
	if err := s.run(ctx, chromedp.MouseEvent(input.MouseMoved, x, y)); err != nil {
		return fmt.Errorf("move pointer to %v,%v: %w", x, y, err)
	}
	return nil
}

func (s *Surface) PressEscape(ctx context.Context) error {
	if err := s.run(ctx, chromedp.KeyEvent(kb.Escape)); err != nil {
		return fmt.Errorf("press escape: %w", err)
	}
	return nil
}

func (s *Surface) Navigate(ctx context.Context, url string) error {
	slog.Info("navigating chart tab", "url", truncateURL(url))
	if err := s.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate to %s: %w", truncateURL(url), err)
	}
	return nil
}

// opCtx derives a chromedp context from the tab, bounded by timeout and
// cancelled together with the caller's ctx.
func (s *Surface) opCtx(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	var (
		c      context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		c, cancel = context.WithTimeout(s.tabCtx, timeout)
	} else {
		c, cancel = context.WithCancel(s.tabCtx)
	}
	stop := context.AfterFunc(ctx, cancel)
	return c, func() {
		stop()
		cancel()
	}
}

// waitErr classifies a failed wait. Expiry of the per-wait bound or of the
// caller's deadline is a surface timeout; cancellation is reported as such.
func (s *Surface) waitErr(ctx, waitCtx context.Context, sel surface.Selector, timeout time.Duration, err error) error {
	if timeoutErr := deadlineErr(ctx, waitCtx, sel, timeout, err); timeoutErr != nil {
		return timeoutErr
	}
	return fmt.Errorf("wait for %s: %w", sel, err)
}

// run executes actions on the tab under OpTimeout.
func (s *Surface) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := s.opCtx(ctx, s.opts.OpTimeout)
	defer cancel()

	err := chromedp.Run(runCtx, actions...)
	if err == nil {
		return nil
	}
	if classified := deadlineErr(ctx, runCtx, "", s.opts.OpTimeout, err); classified != nil {
		return classified
	}
	return err
}

// deadlineErr returns the caller's cancellation, a surface timeout, or nil
// when neither context has ended.
func deadlineErr(ctx, opCtx context.Context, sel surface.Selector, timeout time.Duration, err error) error {
	ctxErr := ctx.Err()
	switch {
	case errors.Is(ctxErr, context.DeadlineExceeded):
		return surface.NewTimeoutError(sel, timeout, ctxErr)
	case ctxErr != nil:
		return ctxErr
	case errors.Is(opCtx.Err(), context.DeadlineExceeded):
		return surface.NewTimeoutError(sel, timeout, err)
	}
	return nil
}

func selectValue(n *cdproto.Node) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		obj, err := dom.ResolveNode().WithNodeID(n.NodeID).Do(ctx)
		if err != nil {
			return err
		}
		_, exc, err := runtime.CallFunctionOn(`function() { this.focus(); this.select(); }`).
			WithObjectID(obj.ObjectID).
			Do(ctx)
		if err != nil {
			return err
		}
		if exc != nil {
			return fmt.Errorf("select value: %s", exc.Text)
		}
		return nil
	}
}

func asNode(el surface.Element) (*cdproto.Node, error) {
	n, ok := el.(*cdproto.Node)
	if !ok || n == nil {
		return nil, fmt.Errorf("cdp: element %T was not returned by this surface", el)
	}
	return n, nil
}

func describe(n *cdproto.Node) string {
	if n.FullXPath() != "" {
		return n.FullXPath()
	}
	return strings.ToLower(n.NodeName)
}

func (s *Surface) matchesTabURL(url string) bool {
	if s.opts.TabURLFilter == "" {
		return true
	}
	return strings.Contains(strings.ToLower(url), strings.ToLower(s.opts.TabURLFilter))
}

func truncateURL(url string) string {
	if len(url) > 120 {
		return url[:120] + "..."
	}
	return url
}
