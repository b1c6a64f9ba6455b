// Package dispatch delivers ride messages to drivers and passengers over a
// websocket session when one is open and an HTTP push provider otherwise.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/ride-matching/internal/collab"
	"github.com/example/ride-matching/internal/observability"
)

// HTTPDispatcher posts messages to a push gateway webhook.
type HTTPDispatcher struct {
	Endpoint string
	Client   *http.Client
}

func NewHTTPDispatcher(endpoint string) *HTTPDispatcher {
	return &HTTPDispatcher{Endpoint: endpoint, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (d *HTTPDispatcher) Notify(ctx context.Context, recipient string, msg collab.Message) error {
	b, err := json.Marshal(map[string]any{"recipient": recipient, "message": msg})
	if err != nil {
		return err
	}
	return postJSON(ctx, d.Client, d.Endpoint, b, nil)
}

func postJSON(ctx context.Context, c *http.Client, endpoint string, body []byte, header http.Header) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("push endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// LogNotifier only logs; it stands in for a push provider in local runs.
type LogNotifier struct {
	Logger *zap.Logger
}

func (n LogNotifier) Notify(_ context.Context, recipient string, msg collab.Message) error {
	n.Logger.Info("notification", zap.String("recipient", recipient), zap.String("text", msg.Text), zap.Any("extra", msg.Extra))
	return nil
}

// Delivery is the outcome of one fan-out send.
type Delivery struct {
	DriverID string `json:"driver_id"`
	Err      error  `json:"-"`
}

func (d Delivery) Delivered() bool { return d.Err == nil }

// Fanout sends msg to every recipient concurrently, at most parallel at a
// time (unbounded when parallel <= 0). A failed send never stops the others;
// the result has one Delivery per recipient in input order.
func Fanout(ctx context.Context, n collab.Notifier, recipients []string, msg collab.Message, parallel int) []Delivery {
	out := make([]Delivery, len(recipients))
	var g errgroup.Group
	if parallel > 0 {
		g.SetLimit(parallel)
	}
	for i, id := range recipients {
		g.Go(func() error {
			err := n.Notify(ctx, id, msg)
			out[i] = Delivery{DriverID: id, Err: err}
			observability.NotificationsTotal.WithLabelValues("fanout", observability.Outcome(err)).Inc()
			return nil
		})
	}
	_ = g.Wait()
	return out
}
