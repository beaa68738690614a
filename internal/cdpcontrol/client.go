// Package cdpcontrol implements the chart surface over a raw CDP websocket,
// for attaching to an already open chart tab without chromedp's session setup.
package cdpcontrol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgnsrekt/chartshot/internal/surface"
)

var chartURLPattern = regexp.MustCompile(`/chart/([^/?#]+)/?`)

const defaultPollInterval = 100 * time.Millisecond

// transientHints are substrings in error causes that indicate a transient
// failure worth retrying (e.g. broken connection, closed session).
var transientHints = []string{
	"context canceled",
	"target closed",
	"session closed",
	"websocket",
	"connection reset",
	"broken pipe",
	"eof",
	"connection refused",
	"connection closed",
}

type tabSession struct {
	info      ChartInfo
	sessionID string // CDP session ID from Target.attachToTarget
}

// Client is a surface bound to the first page target whose URL contains the
// tab filter. Operations are serialised; the surface belongs to one run.
type Client struct {
	cdpURL       string
	tabFilter    string
	evalTimeout  time.Duration
	pollInterval time.Duration

	mu  sync.Mutex
	cdp *rawCDP
	tab *tabSession

	probeSeq atomic.Int64
}

var _ surface.Surface = (*Client)(nil)

type evalEnvelope struct {
	OK           bool            `json:"ok"`
	Data         json.RawMessage `json:"data,omitempty"`
	ErrorCode    string          `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// NewClient returns an unconnected client. evalTimeout bounds each single
// evaluation round trip, not a whole WaitFor.
func NewClient(cdpURL, tabFilter string, evalTimeout time.Duration) *Client {
	return &Client{
		cdpURL:       cdpURL,
		tabFilter:    strings.ToLower(strings.TrimSpace(tabFilter)),
		evalTimeout:  evalTimeout,
		pollInterval: defaultPollInterval,
	}
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.cdpURL == "" {
		return newError(CodeCDPUnavailable, "missing CDP URL", nil)
	}

	slog.Info("cdpcontrol connect start", "cdp_url", c.cdpURL)
	c.cleanupLocked()

	c.cdp = newRawCDP(c.cdpURL)
	if err := c.cdp.connect(ctx); err != nil {
		c.cdp = nil
		return newError(CodeCDPUnavailable, "connect to CDP failed", err)
	}

	if err := c.syncTabLocked(ctx); err != nil {
		slog.Error("cdpcontrol initial tab sync failed", "error", err)
		c.cleanupLocked()
		return err
	}

	slog.Info("cdpcontrol connect ok", "cdp_url", c.cdpURL, "chart_id", c.tab.info.ChartID, "target_id", c.tab.info.TargetID)
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupLocked()
	return nil
}

// Chart reports the tab the client is bound to.
func (c *Client) Chart() (ChartInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tab == nil {
		return ChartInfo{}, false
	}
	return c.tab.info, true
}

func (c *Client) cleanupLocked() {
	// Detach from the active session without closing the target.
	if c.cdp != nil {
		if c.tab != nil && c.tab.sessionID != "" {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			if err := c.cdp.detachFromTarget(ctx, c.tab.sessionID); err != nil {
				slog.Debug("cdpcontrol detach cleanup failed", "session_id", c.tab.sessionID, "error", err)
			}
			cancel()
			c.tab.sessionID = ""
		}
		c.cdp.close()
		c.cdp = nil
	}
	c.tab = nil
}

// syncTabLocked binds to the first matching page target, keeping the current
// session when that target is still present.
func (c *Client) syncTabLocked(ctx context.Context) error {
	if c.cdp == nil {
		return newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}

	targets, err := c.cdp.listTargets(ctx)
	if err != nil {
		return newError(CodeCDPUnavailable, "failed to list targets", err)
	}

	for _, t := range targets {
		if t.Type != "page" {
			continue
		}
		if c.tabFilter != "" && !strings.Contains(strings.ToLower(t.URL), c.tabFilter) {
			continue
		}
		info := ChartInfo{
			ChartID:  chartIDFromURL(t.URL),
			TargetID: string(t.TargetID),
			URL:      t.URL,
			Title:    t.Title,
		}
		if c.tab != nil && c.tab.info.TargetID == info.TargetID {
			c.tab.info = info
		} else {
			c.tab = &tabSession{info: info}
		}
		slog.Debug("cdpcontrol tab sync", "targets", len(targets), "target_id", info.TargetID)
		return nil
	}

	c.tab = nil
	return newError(CodeChartNotFound, fmt.Sprintf("no page target matches tab filter %q", c.tabFilter), nil)
}

// session returns the transport and a session attached to the chart tab,
// connecting and attaching on demand.
func (c *Client) session(ctx context.Context) (*rawCDP, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cdp == nil {
		if err := c.connectLocked(ctx); err != nil {
			return nil, "", err
		}
	}
	if c.tab == nil {
		if err := c.syncTabLocked(ctx); err != nil {
			return nil, "", err
		}
	}
	if c.tab.sessionID != "" {
		return c.cdp, c.tab.sessionID, nil
	}

	sid, err := c.cdp.attachToTarget(ctx, c.tab.info.TargetID)
	if err != nil {
		return nil, "", newError(CodeCDPUnavailable, "attach to target failed", err)
	}
	c.tab.sessionID = sid
	slog.Debug("cdpcontrol session attached", "target_id", c.tab.info.TargetID, "session_id", sid)
	return c.cdp, sid, nil
}

func (c *Client) resetSession() {
	c.mu.Lock()
	if c.tab != nil {
		c.tab.sessionID = ""
	}
	c.mu.Unlock()
}

func (c *Client) reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

// eval runs js on the chart tab and decodes the envelope's data into out.
// Evaluations are idempotent, so one transient failure is retried after
// reattaching or reconnecting.
func (c *Client) eval(ctx context.Context, js string, out any) error {
	err := c.evalOnce(ctx, js, out)
	if err == nil || !c.shouldRetry(err) || ctx.Err() != nil {
		return err
	}

	slog.Warn("cdpcontrol eval retry after transient failure", "error", err)
	if c.asCode(err, CodeCDPUnavailable) {
		if recErr := c.reconnect(ctx); recErr != nil {
			slog.Error("cdpcontrol reconnect failed during retry", "error", recErr)
			return recErr
		}
	}
	return c.evalOnce(ctx, js, out)
}

func (c *Client) evalOnce(ctx context.Context, js string, out any) error {
	cdp, sessionID, err := c.session(ctx)
	if err != nil {
		return err
	}

	evalCtx, evalCancel := context.WithTimeout(ctx, c.evalTimeout)
	defer evalCancel()

	raw, err := cdp.evaluate(evalCtx, sessionID, js)
	if err != nil {
		slog.Warn("cdpcontrol eval failed", "session_id", sessionID, "error", err)
		// Reset session so a fresh attach happens on retry.
		c.resetSession()

		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(evalCtx.Err(), context.DeadlineExceeded) {
			return newError(CodeEvalTimeout, "evaluation timed out", err)
		}
		return newError(CodeEvalFailure, "evaluation failed", err)
	}

	var env evalEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return newError(CodeEvalFailure, "invalid evaluation envelope", err)
	}
	if !env.OK {
		code := env.ErrorCode
		if code == "" {
			code = CodeEvalFailure
		}
		return newError(code, env.ErrorMessage, nil)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return newError(CodeEvalFailure, "invalid evaluation data", err)
	}
	return nil
}

// input runs one trusted input dispatch under the evaluation timeout. Input is
// not idempotent, so it is never retried.
func (c *Client) input(ctx context.Context, desc string, fn func(context.Context, *rawCDP, string) error) error {
	inputCtx := ctx
	if c.evalTimeout > 0 {
		var cancel context.CancelFunc
		inputCtx, cancel = context.WithTimeout(ctx, c.evalTimeout)
		defer cancel()
	}

	cdp, sessionID, err := c.session(inputCtx)
	if err != nil {
		return err
	}
	if err := fn(inputCtx, cdp, sessionID); err != nil {
		ctxErr := ctx.Err()
		switch {
		case errors.Is(ctxErr, context.DeadlineExceeded):
			return surface.NewTimeoutError("", c.evalTimeout, ctxErr)
		case ctxErr != nil:
			return ctxErr
		case errors.Is(inputCtx.Err(), context.DeadlineExceeded):
			return surface.NewTimeoutError("", c.evalTimeout, err)
		}
		return newError(CodeEvalFailure, desc, err)
	}
	return nil
}

// WaitFor polls the selector until a candidate satisfies opts or the timeout
// expires. Candidates are tagged by the probe; the returned Element refers to
// the tag, so a re-rendered node surfaces as CodeStaleElement later.
func (c *Client) WaitFor(ctx context.Context, sel surface.Selector, opts surface.WaitOptions) (surface.Element, error) {
	waitCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	var lastErr error
	for {
		prefix := "p" + strconv.FormatInt(c.probeSeq.Add(1), 10)
		var probe probeResult
		err := c.eval(waitCtx, jsProbe(string(sel), prefix, opts.Visible), &probe)
		switch {
		case err == nil:
			if el, ok := pick(sel, probe, opts.Text); ok {
				return el, nil
			}
		case c.asCode(err, CodeEvalFailure) && !c.shouldRetry(err):
			// The expression itself is broken; polling will not fix it.
			return nil, fmt.Errorf("wait for %s: %w", sel, err)
		default:
			lastErr = err
		}

		select {
		case <-waitCtx.Done():
			ctxErr := ctx.Err()
			switch {
			case errors.Is(ctxErr, context.DeadlineExceeded):
				return nil, surface.NewTimeoutError(sel, opts.Timeout, ctxErr)
			case ctxErr != nil:
				return nil, ctxErr
			}
			return nil, surface.NewTimeoutError(sel, opts.Timeout, lastErr)
		case <-ticker.C:
		}
	}
}

func pick(sel surface.Selector, probe probeResult, text string) (*Element, bool) {
	if len(probe.Refs) == 0 || len(probe.Texts) != len(probe.Refs) {
		return nil, false
	}
	idx := 0
	if text != "" {
		idx = surface.FirstExact(probe.Texts, text)
		if idx < 0 {
			return nil, false
		}
	}
	return &Element{Ref: probe.Refs[idx], Selector: string(sel), Text: probe.Texts[idx]}, true
}

func (c *Client) Click(ctx context.Context, el surface.Element) error {
	e, err := asElement(el)
	if err != nil {
		return err
	}
	var box elementBox
	if err := c.eval(ctx, jsElementBox(e.Ref), &box); err != nil {
		return err
	}
	return c.input(ctx, "failed to dispatch trusted mouse click", func(ctx context.Context, cdp *rawCDP, sid string) error {
		return cdp.dispatchMouseClick(ctx, sid, box.CenterX, box.CenterY)
	})
}

func (c *Client) FocusAndType(ctx context.Context, el surface.Element, text string) error {
	return c.focusAndType(ctx, el, text, false)
}

func (c *Client) ClearAndType(ctx context.Context, el surface.Element, text string) error {
	return c.focusAndType(ctx, el, text, true)
}

func (c *Client) focusAndType(ctx context.Context, el surface.Element, text string, replace bool) error {
	e, err := asElement(el)
	if err != nil {
		return err
	}
	if err := c.eval(ctx, jsFocus(e.Ref, replace), nil); err != nil {
		return err
	}
	if replace {
		err := c.input(ctx, "failed to dispatch trusted key event", func(ctx context.Context, cdp *rawCDP, sid string) error {
			return cdp.dispatchKeyEvent(ctx, sid, "Backspace", "Backspace", 8, 0)
		})
		if err != nil {
			return err
		}
	}
	return c.input(ctx, "failed to dispatch trusted character input", func(ctx context.Context, cdp *rawCDP, sid string) error {
		for _, r := range text {
			if err := cdp.dispatchCharInput(ctx, sid, string(r)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *Client) ReadText(ctx context.Context, el surface.Element) (string, error) {
	e, err := asElement(el)
	if err != nil {
		return "", err
	}
	var out struct {
		Text string `json:"text"`
	}
	if err := c.eval(ctx, jsElementText(e.Ref), &out); err != nil {
		return "", err
	}
	return out.Text, nil
}

func (c *Client) Screenshot(ctx context.Context, el surface.Element) ([]byte, error) {
	e, err := asElement(el)
	if err != nil {
		return nil, err
	}
	var box elementBox
	if err := c.eval(ctx, jsElementBox(e.Ref), &box); err != nil {
		return nil, err
	}
	if box.Width <= 0 || box.Height <= 0 {
		return nil, newError(CodeValidation, fmt.Sprintf("element %s has an empty box", e.Ref), nil)
	}

	var img []byte
	err = c.input(ctx, "failed to capture screenshot", func(ctx context.Context, cdp *rawCDP, sid string) error {
		var err error
		img, err = cdp.captureScreenshot(ctx, sid, clipRect{X: box.X, Y: box.Y, Width: box.Width, Height: box.Height, Scale: 1})
		return err
	})
	return img, err
}

func (c *Client) MovePointer(ctx context.Context, x, y float64) error {
	return c.input(ctx, "failed to dispatch trusted mouse move", func(ctx context.Context, cdp *rawCDP, sid string) error {
		return cdp.dispatchMouseMove(ctx, sid, x, y)
	})
}

func (c *Client) PressEscape(ctx context.Context) error {
	return c.input(ctx, "failed to dispatch trusted key event", func(ctx context.Context, cdp *rawCDP, sid string) error {
		return cdp.dispatchKeyEvent(ctx, sid, "Escape", "Escape", 27, 0)
	})
}

func (c *Client) Navigate(ctx context.Context, url string) error {
	slog.Info("cdpcontrol navigate", "url", url)
	return c.input(ctx, "failed to navigate", func(ctx context.Context, cdp *rawCDP, sid string) error {
		return cdp.navigate(ctx, sid, url)
	})
}

func asElement(el surface.Element) (*Element, error) {
	e, ok := el.(*Element)
	if !ok || e == nil {
		return nil, newError(CodeValidation, fmt.Sprintf("element %T was not returned by this surface", el), nil)
	}
	return e, nil
}

func (c *Client) shouldRetry(err error) bool {
	var coded *CodedError
	if !errors.As(err, &coded) {
		return false
	}

	switch coded.Code {
	case CodeCDPUnavailable:
		return true
	case CodeEvalFailure:
		if coded.Cause == nil {
			return false
		}
		cause := strings.ToLower(coded.Cause.Error())
		for _, hint := range transientHints {
			if strings.Contains(cause, hint) {
				return true
			}
		}
	}
	return false
}

func (c *Client) asCode(err error, code string) bool {
	var coded *CodedError
	if !errors.As(err, &coded) {
		return false
	}
	return coded.Code == code
}

func chartIDFromURL(url string) string {
	m := chartURLPattern.FindStringSubmatch(url)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}
