package cdp

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	cdproto "github.com/chromedp/cdproto/cdp"

	"github.com/dgnsrekt/chartshot/internal/surface"
)

func TestMatchesTabURL(t *testing.T) {
	tests := []struct {
		filter string
		url    string
		want   bool
	}{
		{filter: "", url: "about:blank", want: true},
		{filter: "tradingview.com", url: "https://br.tradingview.com/chart/", want: true},
		{filter: "TradingView.com", url: "https://br.tradingview.com/chart/", want: true},
		{filter: "tradingview.com", url: "https://example.com/", want: false},
	}
	for _, tt := range tests {
		s := &Surface{opts: Options{TabURLFilter: tt.filter}}
		if got := s.matchesTabURL(tt.url); got != tt.want {
			t.Fatalf("matchesTabURL(%q, filter %q) = %v; want %v", tt.url, tt.filter, got, tt.want)
		}
	}
}

func TestAsNodeRejectsForeignElements(t *testing.T) {
	if _, err := asNode("not a node"); err == nil {
		t.Fatal("asNode(string) error = nil; want error")
	}
	var nilNode *cdproto.Node
	if _, err := asNode(nilNode); err == nil {
		t.Fatal("asNode(nil node) error = nil; want error")
	}
	n := &cdproto.Node{NodeName: "DIV"}
	got, err := asNode(n)
	if err != nil || got != n {
		t.Fatalf("asNode(node) = %v, %v; want node, nil", got, err)
	}
}

func TestWaitErrClassification(t *testing.T) {
	s := &Surface{}
	sel := surface.Selector("//div")

	expired, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-expired.Done()
	err := s.waitErr(context.Background(), expired, sel, time.Second, context.DeadlineExceeded)
	if !errors.Is(err, surface.ErrTimeout) {
		t.Fatalf("waitErr(expired) = %v; want ErrTimeout", err)
	}

	caller, callerCancel := context.WithCancel(context.Background())
	callerCancel()
	err = s.waitErr(caller, expired, sel, time.Second, context.Canceled)
	if !errors.Is(err, context.Canceled) || errors.Is(err, surface.ErrTimeout) {
		t.Fatalf("waitErr(cancelled caller) = %v; want context.Canceled", err)
	}

	runBudget, budgetCancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer budgetCancel()
	<-runBudget.Done()
	err = s.waitErr(runBudget, context.Background(), sel, time.Second, context.Canceled)
	if !errors.Is(err, surface.ErrTimeout) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("waitErr(caller deadline) = %v; want ErrTimeout wrapping DeadlineExceeded", err)
	}

	err = s.waitErr(context.Background(), context.Background(), sel, time.Second, errors.New("invalid selector"))
	if errors.Is(err, surface.ErrTimeout) || !strings.Contains(err.Error(), "invalid selector") {
		t.Fatalf("waitErr(other) = %v; want wrapped non-timeout error", err)
	}
}

func TestTruncateURL(t *testing.T) {
	long := "https://br.tradingview.com/chart/" + strings.Repeat("x", 200)
	got := truncateURL(long)
	if len(got) != 123 || !strings.HasSuffix(got, "...") {
		t.Fatalf("truncateURL() = %q; want 120 chars plus ellipsis", got)
	}
	if got := truncateURL("https://a.b/"); got != "https://a.b/" {
		t.Fatalf("truncateURL(short) = %q", got)
	}
}
