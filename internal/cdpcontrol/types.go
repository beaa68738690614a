package cdpcontrol

import "fmt"

const (
	CodeValidation       = "VALIDATION"
	CodeChartNotFound    = "CHART_NOT_FOUND"
	CodeSnapshotNotFound = "SNAPSHOT_NOT_FOUND"
	CodeStaleElement     = "STALE_ELEMENT"
	CodeEvalFailure      = "EVAL_FAILURE"
	CodeEvalTimeout      = "EVAL_TIMEOUT"
	CodeCDPUnavailable   = "CDP_UNAVAILABLE"
	CodeBusy             = "BUSY"
)

// CodedError is a typed error used for stable API mapping.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

func newError(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}

// ChartInfo describes the chart tab the client is bound to.
type ChartInfo struct {
	ChartID  string `json:"chart_id"`
	TargetID string `json:"target_id"`
	URL      string `json:"url"`
	Title    string `json:"title,omitempty"`
}

// Element is a node matched by WaitFor. Ref is the value of the tag
// attribute the probe stamped on it.
type Element struct {
	Ref      string
	Selector string
	Text     string
}

// elementBox is an element's border box in page coordinates (CSS pixels).
type elementBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	// Viewport coordinates of the box centre, for input dispatch.
	CenterX float64 `json:"center_x"`
	CenterY float64 `json:"center_y"`
}

// probeResult lists the candidates for one selector in document order.
type probeResult struct {
	Refs  []string `json:"refs"`
	Texts []string `json:"texts"`
}
