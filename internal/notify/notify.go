// Package notify posts run summaries to an ntfy-style HTTP endpoint.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var ErrNoEndpoint = errors.New("notify: endpoint is required")

// Message is a plain-text notification. Title and Priority map to the ntfy
// headers of the same name and are omitted when empty.
type Message struct {
	Title    string
	Body     string
	Priority string
}

// Notifier sends messages to one endpoint.
type Notifier struct {
	client   *http.Client
	endpoint string
}

// New returns a Notifier, or nil when endpoint is empty. A nil Notifier
// drops every message.
func New(client *http.Client, endpoint string) *Notifier {
	if strings.TrimSpace(endpoint) == "" {
		return nil
	}
	return &Notifier{client: client, endpoint: endpoint}
}

func (n *Notifier) Notify(ctx context.Context, msg Message) error {
	if n == nil {
		return nil
	}
	return Send(ctx, n.client, n.endpoint, msg)
}

// Send sends a message to the requested endpoint using HTTP POST.
func Send(ctx context.Context, client *http.Client, endpoint string, msg Message) error {
	if endpoint == "" {
		return ErrNoEndpoint
	}
	c := client
	if c == nil {
		c = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(msg.Body))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "text/plain")
	if msg.Title != "" {
		req.Header.Set("Title", msg.Title)
	}
	if msg.Priority != "" {
		req.Header.Set("Priority", msg.Priority)
	}

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy notification failed: status=%d", resp.StatusCode)
	}
	return nil
}
