// Package client is the HTTP client for the threatcore service API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/invisible-tech/threatcore/internal/types"
	"github.com/invisible-tech/threatcore/internal/version"
)

// ErrNoEndpoint is returned when the client has no service endpoint.
var ErrNoEndpoint = errors.New("service endpoint not configured")

// Config for the service client.
type Config struct {
	Endpoint string
	Timeout  time.Duration
}

// Client talks to a running threatcore service.
type Client struct {
	endpoint   string
	httpClient *http.Client
	log        *logrus.Logger

	eventsSent   atomic.Int64
	eventsFailed atomic.Int64
}

// New creates a client. Endpoints without a scheme get http://.
func New(cfg Config, log *logrus.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	endpoint := strings.TrimSuffix(cfg.Endpoint, "/")
	if endpoint != "" && !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}
	return &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log,
	}
}

// StatusError is returned for responses with an unexpected status code.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status code %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// SubmitEvent queues one event for asynchronous processing.
func (c *Client) SubmitEvent(ctx context.Context, ev *types.Event) error {
	err := c.do(ctx, http.MethodPost, "/api/v1/events", ev, http.StatusAccepted, nil)
	if err != nil {
		c.eventsFailed.Add(1)
		c.log.WithError(err).WithField("event_id", ev.ID).Debug("Failed to submit event")
		return err
	}
	c.eventsSent.Add(1)
	return nil
}

// Analyze runs the full per-event pipeline synchronously. ctxCounters may be
// nil to let the service compute the context.
func (c *Client) Analyze(ctx context.Context, ev *types.Event, ctxCounters *types.Context) (*types.Insight, error) {
	var insight types.Insight
	req := types.AnalyzeRequest{Event: *ev, Context: ctxCounters}
	if err := c.do(ctx, http.MethodPost, "/api/v1/analyze", req, http.StatusOK, &insight); err != nil {
		return nil, err
	}
	return &insight, nil
}

// Alerts returns up to limit of the most recent alerts.
func (c *Client) Alerts(ctx context.Context, limit int) ([]types.Alert, error) {
	var alerts []types.Alert
	path := fmt.Sprintf("/api/v1/alerts?limit=%d", limit)
	if err := c.do(ctx, http.MethodGet, path, nil, http.StatusOK, &alerts); err != nil {
		return nil, err
	}
	return alerts, nil
}

// MLStats returns the service's model and window statistics.
func (c *Client) MLStats(ctx context.Context) (map[string]interface{}, error) {
	stats := map[string]interface{}{}
	if err := c.do(ctx, http.MethodGet, "/api/v1/ml/stats", nil, http.StatusOK, &stats); err != nil {
		return nil, err
	}
	return stats, nil
}

// Health checks the service health endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, http.StatusOK, nil)
}

// Stats returns counts of submitted and failed events.
func (c *Client) Stats() (sent, failed int64) {
	return c.eventsSent.Load(), c.eventsFailed.Load()
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, want int, out interface{}) error {
	if c.endpoint == "" {
		return ErrNoEndpoint
	}
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, rdr)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", version.UserAgent("threatctl"))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
