package cdpcontrol

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgnsrekt/chartshot/internal/surface"
)

func connectFake(t *testing.T, fb *fakeBrowser) *Client {
	t.Helper()
	c := NewClient(fb.srv.URL, "tradingview.com", time.Second)
	c.pollInterval = 10 * time.Millisecond
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestConnectBindsFirstMatchingPage(t *testing.T) {
	fb := newFakeBrowser(t, nil)
	c := connectFake(t, fb)

	info, ok := c.Chart()
	if !ok {
		t.Fatal("Chart() ok = false; want true")
	}
	if info.TargetID != "target-1" || info.ChartID != "AbCd1234" {
		t.Fatalf("Chart() = %+v; want target-1 / AbCd1234", info)
	}
}

func TestConnectFailsWithoutMatchingTab(t *testing.T) {
	fb := newFakeBrowser(t, nil)
	c := NewClient(fb.srv.URL, "example.org", time.Second)

	err := c.Connect(context.Background())
	var coded *CodedError
	if !errors.As(err, &coded) || coded.Code != CodeChartNotFound {
		t.Fatalf("Connect() = %v; want %s", err, CodeChartNotFound)
	}
}

func TestWaitForPicksFirstExactText(t *testing.T) {
	fb := newFakeBrowser(t, func(call cdpCall) (any, error) {
		if isProbe(call) {
			return okEnvelope(map[string]any{
				"refs":  []string{"p-0", "p-1", "p-2"},
				"texts": []string{"AAPL2", " AAPL ", "AAPL"},
			}), nil
		}
		return nil, errUnhandled
	})
	c := connectFake(t, fb)

	el, err := c.WaitFor(context.Background(), "//em", surface.WaitOptions{Text: "AAPL", Timeout: time.Second})
	if err != nil {
		t.Fatalf("WaitFor() = %v", err)
	}
	if got := el.(*Element).Ref; got != "p-1" {
		t.Fatalf("WaitFor() ref = %q; want p-1", got)
	}

	calls := fb.callsFor("Runtime.evaluate")
	if len(calls) == 0 || calls[0].SessionID != "session-1" {
		t.Fatalf("evaluate calls = %+v; want on session-1", calls)
	}
	if !strings.Contains(expression(calls[0]), `"//em"`) {
		t.Fatalf("probe expression does not carry the selector: %s", expression(calls[0]))
	}
}

func TestWaitForPollsUntilPresent(t *testing.T) {
	var probes atomic.Int32
	fb := newFakeBrowser(t, func(call cdpCall) (any, error) {
		if probes.Add(1) < 3 {
			return okEnvelope(map[string]any{"refs": []string{}, "texts": []string{}}), nil
		}
		return okEnvelope(map[string]any{"refs": []string{"p-0"}, "texts": []string{""}}), nil
	})
	c := connectFake(t, fb)

	el, err := c.WaitFor(context.Background(), "//table", surface.WaitOptions{Timeout: time.Second})
	if err != nil {
		t.Fatalf("WaitFor() = %v", err)
	}
	if el.(*Element).Ref != "p-0" || probes.Load() != 3 {
		t.Fatalf("WaitFor() = %+v after %d probes; want p-0 after 3", el, probes.Load())
	}
}

func TestWaitForTimesOut(t *testing.T) {
	fb := newFakeBrowser(t, func(call cdpCall) (any, error) {
		return okEnvelope(map[string]any{"refs": []string{"p-0"}, "texts": []string{"AAPL2"}}), nil
	})
	c := connectFake(t, fb)

	_, err := c.WaitFor(context.Background(), "//em", surface.WaitOptions{Text: "AAPL", Timeout: 80 * time.Millisecond})
	if !errors.Is(err, surface.ErrTimeout) {
		t.Fatalf("WaitFor() = %v; want ErrTimeout", err)
	}
}

func TestWaitForFailsFastOnBrokenExpression(t *testing.T) {
	fb := newFakeBrowser(t, func(call cdpCall) (any, error) {
		return evalReply(map[string]any{"ok": false, "error_code": CodeEvalFailure, "error_message": "not a valid XPath expression"}), nil
	})
	c := connectFake(t, fb)

	_, err := c.WaitFor(context.Background(), "//[", surface.WaitOptions{Timeout: 5 * time.Second})
	if err == nil || errors.Is(err, surface.ErrTimeout) {
		t.Fatalf("WaitFor() = %v; want immediate non-timeout error", err)
	}
	if len(fb.callsFor("Runtime.evaluate")) != 1 {
		t.Fatalf("evaluate calls = %d; want 1", len(fb.callsFor("Runtime.evaluate")))
	}
}

func TestClickDispatchesTrustedClickAtCentre(t *testing.T) {
	fb := newFakeBrowser(t, func(call cdpCall) (any, error) {
		if isBox(call) {
			return okEnvelope(elementBox{X: 10, Y: 500, Width: 80, Height: 40, CenterX: 50, CenterY: 20}), nil
		}
		return map[string]any{}, nil
	})
	c := connectFake(t, fb)

	if err := c.Click(context.Background(), &Element{Ref: "p-0"}); err != nil {
		t.Fatalf("Click() = %v", err)
	}

	events := fb.callsFor("Input.dispatchMouseEvent")
	if len(events) != 2 {
		t.Fatalf("mouse events = %d; want 2", len(events))
	}
	for i, want := range []string{"mousePressed", "mouseReleased"} {
		var ev mouseEvent
		if err := json.Unmarshal(events[i].Params, &ev); err != nil {
			t.Fatalf("decode mouse event: %v", err)
		}
		if ev.Type != want || ev.X != 50 || ev.Y != 20 || ev.Button != "left" {
			t.Fatalf("mouse event %d = %+v; want %s at 50,20", i, ev, want)
		}
	}
}

func TestClearAndTypeSelectsThenReplaces(t *testing.T) {
	fb := newFakeBrowser(t, func(call cdpCall) (any, error) {
		if call.Method == "Runtime.evaluate" {
			return okEnvelope(map[string]any{"focused": true}), nil
		}
		return map[string]any{}, nil
	})
	c := connectFake(t, fb)

	if err := c.ClearAndType(context.Background(), &Element{Ref: "p-0"}, "72"); err != nil {
		t.Fatalf("ClearAndType() = %v", err)
	}

	evals := fb.callsFor("Runtime.evaluate")
	if len(evals) != 1 || !strings.Contains(expression(evals[0]), "el.select()") {
		t.Fatalf("focus eval missing select: %+v", evals)
	}

	var got []string
	for _, call := range fb.callsFor("Input.dispatchKeyEvent") {
		var ev struct {
			Type string `json:"type"`
			Key  string `json:"key"`
		}
		_ = json.Unmarshal(call.Params, &ev)
		got = append(got, ev.Type+":"+ev.Key)
	}
	want := []string{
		"keyDown:Backspace", "keyUp:Backspace",
		"rawKeyDown:7", "char:7", "keyUp:7",
		"rawKeyDown:2", "char:2", "keyUp:2",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("key events = %q; want %q", got, want)
	}
}

func TestScreenshotClipsElementBox(t *testing.T) {
	png := []byte("\x89PNG fake")
	fb := newFakeBrowser(t, func(call cdpCall) (any, error) {
		switch {
		case isBox(call):
			return okEnvelope(elementBox{X: 10, Y: 300, Width: 800, Height: 400}), nil
		case call.Method == "Page.captureScreenshot":
			return map[string]string{"data": base64.StdEncoding.EncodeToString(png)}, nil
		}
		return nil, errUnhandled
	})
	c := connectFake(t, fb)

	img, err := c.Screenshot(context.Background(), &Element{Ref: "p-0"})
	if err != nil {
		t.Fatalf("Screenshot() = %v", err)
	}
	if string(img) != string(png) {
		t.Fatalf("Screenshot() = %q; want %q", img, png)
	}

	shots := fb.callsFor("Page.captureScreenshot")
	if len(shots) != 1 {
		t.Fatalf("captureScreenshot calls = %d; want 1", len(shots))
	}
	var params struct {
		Format string   `json:"format"`
		Clip   clipRect `json:"clip"`
	}
	if err := json.Unmarshal(shots[0].Params, &params); err != nil {
		t.Fatalf("decode screenshot params: %v", err)
	}
	want := clipRect{X: 10, Y: 300, Width: 800, Height: 400, Scale: 1}
	if params.Format != "png" || params.Clip != want {
		t.Fatalf("screenshot params = %+v; want png clip %+v", params, want)
	}
}

func TestReadTextReportsStaleElement(t *testing.T) {
	fb := newFakeBrowser(t, func(call cdpCall) (any, error) {
		return evalReply(map[string]any{"ok": false, "error_code": CodeStaleElement, "error_message": "element p-0 is no longer attached"}), nil
	})
	c := connectFake(t, fb)

	_, err := c.ReadText(context.Background(), &Element{Ref: "p-0"})
	var coded *CodedError
	if !errors.As(err, &coded) || coded.Code != CodeStaleElement {
		t.Fatalf("ReadText() = %v; want %s", err, CodeStaleElement)
	}
}

func TestMovePointerAndEscape(t *testing.T) {
	fb := newFakeBrowser(t, nil)
	c := connectFake(t, fb)

	if err := c.MovePointer(context.Background(), 0, 0); err != nil {
		t.Fatalf("MovePointer() = %v", err)
	}
	if err := c.PressEscape(context.Background()); err != nil {
		t.Fatalf("PressEscape() = %v", err)
	}

	moves := fb.callsFor("Input.dispatchMouseEvent")
	if len(moves) != 1 || !strings.Contains(string(moves[0].Params), `"mouseMoved"`) {
		t.Fatalf("mouse events = %+v; want one mouseMoved", moves)
	}
	keys := fb.callsFor("Input.dispatchKeyEvent")
	if len(keys) != 2 || !strings.Contains(string(keys[0].Params), `"Escape"`) {
		t.Fatalf("key events = %+v; want Escape down/up", keys)
	}
}

func TestNavigateReportsErrorText(t *testing.T) {
	fb := newFakeBrowser(t, func(call cdpCall) (any, error) {
		if call.Method == "Page.navigate" {
			return map[string]string{"frameId": "f", "errorText": "net::ERR_NAME_NOT_RESOLVED"}, nil
		}
		return nil, errUnhandled
	})
	c := connectFake(t, fb)

	err := c.Navigate(context.Background(), "https://nowhere.invalid/")
	if err == nil || !strings.Contains(err.Error(), "ERR_NAME_NOT_RESOLVED") {
		t.Fatalf("Navigate() = %v; want ERR_NAME_NOT_RESOLVED", err)
	}
}

func TestAsElementRejectsForeignElements(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "", time.Second)
	err := c.Click(context.Background(), "not an element")
	var coded *CodedError
	if !errors.As(err, &coded) || coded.Code != CodeValidation {
		t.Fatalf("Click(string) = %v; want %s", err, CodeValidation)
	}
}

func TestChartIDFromURL(t *testing.T) {
	tests := map[string]string{
		"https://br.tradingview.com/chart/AbCd1234/":        "AbCd1234",
		"https://br.tradingview.com/chart/AbCd1234?s=PETR4": "AbCd1234",
		"https://br.tradingview.com/chart/":                 "",
		"https://br.tradingview.com/":                       "",
	}
	for url, want := range tests {
		if got := chartIDFromURL(url); got != want {
			t.Fatalf("chartIDFromURL(%q) = %q; want %q", url, got, want)
		}
	}
}

func TestInputIsBoundedByTimeout(t *testing.T) {
	release := make(chan struct{})
	fb := newFakeBrowser(t, func(call cdpCall) (any, error) {
		if call.Method == "Input.dispatchMouseEvent" {
			<-release
		}
		return map[string]any{}, nil
	})
	c := NewClient(fb.srv.URL, "tradingview.com", 100*time.Millisecond)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	t.Cleanup(func() { close(release) })

	start := time.Now()
	err := c.MovePointer(context.Background(), 0, 0)
	if !errors.Is(err, surface.ErrTimeout) {
		t.Fatalf("MovePointer() = %v; want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("MovePointer() returned after %s; want about 100ms", elapsed)
	}
}

func TestWaitForTreatsCallerDeadlineAsTimeout(t *testing.T) {
	fb := newFakeBrowser(t, func(call cdpCall) (any, error) {
		return okEnvelope(map[string]any{"refs": []string{}, "texts": []string{}}), nil
	})
	c := connectFake(t, fb)

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	_, err := c.WaitFor(ctx, "//table", surface.WaitOptions{Timeout: 5 * time.Second})
	if !errors.Is(err, surface.ErrTimeout) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("WaitFor() = %v; want ErrTimeout wrapping DeadlineExceeded", err)
	}
}
