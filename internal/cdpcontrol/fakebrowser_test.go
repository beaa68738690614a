package cdpcontrol

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

type cdpCall struct {
	Method    string
	SessionID string
	Params    json.RawMessage
}

// fakeBrowser serves the DevTools HTTP discovery endpoints and a websocket
// that answers commands through handle.
type fakeBrowser struct {
	t       *testing.T
	srv     *httptest.Server
	targets []map[string]string
	handle  func(call cdpCall) (any, error)

	mu    sync.Mutex
	calls []cdpCall
}

func newFakeBrowser(t *testing.T, handle func(call cdpCall) (any, error)) *fakeBrowser {
	t.Helper()
	fb := &fakeBrowser{
		t: t,
		targets: []map[string]string{
			{"id": "worker-1", "type": "service_worker", "url": "https://br.tradingview.com/sw.js"},
			{"id": "target-1", "type": "page", "url": "https://br.tradingview.com/chart/AbCd1234/", "title": "chart"},
		},
		handle: handle,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/json/version", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"webSocketDebuggerUrl": "ws://" + r.Host + "/devtools/browser/fake",
		})
	})
	mux.HandleFunc("/json/list", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(fb.targets)
	})
	mux.HandleFunc("/devtools/browser/fake", fb.serveWS)
	fb.srv = httptest.NewServer(mux)
	t.Cleanup(fb.srv.Close)
	return fb
}

func (fb *fakeBrowser) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		fb.t.Errorf("UpgradeHTTP() = %v", err)
		return
	}
	defer conn.Close()

	for {
		data, err := wsutil.ReadClientText(conn)
		if err != nil {
			return
		}
		var req struct {
			ID        int64           `json:"id"`
			Method    string          `json:"method"`
			SessionID string          `json:"sessionId"`
			Params    json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(data, &req); err != nil {
			fb.t.Errorf("bad request %s: %v", data, err)
			return
		}
		call := cdpCall{Method: req.Method, SessionID: req.SessionID, Params: req.Params}
		fb.mu.Lock()
		fb.calls = append(fb.calls, call)
		fb.mu.Unlock()

		resp := map[string]any{"id": req.ID}
		result, herr := fb.dispatch(call)
		if herr != nil {
			resp["error"] = map[string]string{"message": herr.Error()}
		} else {
			resp["result"] = result
		}
		out, _ := json.Marshal(resp)
		if err := wsutil.WriteServerText(conn, out); err != nil {
			return
		}
	}
}

func (fb *fakeBrowser) dispatch(call cdpCall) (any, error) {
	switch call.Method {
	case "Target.attachToTarget":
		return map[string]string{"sessionId": "session-1"}, nil
	case "Target.detachFromTarget":
		return map[string]any{}, nil
	}
	if fb.handle != nil {
		return fb.handle(call)
	}
	return map[string]any{}, nil
}

func (fb *fakeBrowser) callsFor(method string) []cdpCall {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	var out []cdpCall
	for _, c := range fb.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// evalReply wraps an envelope the way Runtime.evaluate returns a string value.
func evalReply(envelope any) any {
	b, _ := json.Marshal(envelope)
	return map[string]any{"result": map[string]any{"type": "string", "value": string(b)}}
}

func okEnvelope(data any) any {
	return evalReply(map[string]any{"ok": true, "data": data})
}

func expression(call cdpCall) string {
	var p struct {
		Expression string `json:"expression"`
	}
	_ = json.Unmarshal(call.Params, &p)
	return p.Expression
}

func isProbe(call cdpCall) bool {
	return strings.Contains(expression(call), "document.evaluate")
}

func isBox(call cdpCall) bool {
	return strings.Contains(expression(call), "scrollIntoView")
}

var errUnhandled = errors.New("unhandled method")
