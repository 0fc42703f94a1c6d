// Package connector forwards alerts and incidents to external SOAR platforms.
package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/invisible-tech/threatcore/internal/types"
	"github.com/invisible-tech/threatcore/internal/version"
)

// Kind selects a connector implementation.
type Kind string

const (
	KindWebhook Kind = "webhook"
	KindTheHive Kind = "thehive"
)

var (
	// ErrNotConfigured is returned when the connector has no endpoint.
	ErrNotConfigured = errors.New("connector not configured")
	// ErrUnknownKind is returned by New for an unsupported kind.
	ErrUnknownKind = errors.New("unknown connector kind")
)

// Connector is the capability every SOAR integration provides.
type Connector interface {
	Kind() Kind
	// Connect probes the remote status endpoint.
	Connect(ctx context.Context) error
	SendAlert(ctx context.Context, alert *types.Alert) error
	// CreateIncident opens a case remotely and returns its reference.
	CreateIncident(ctx context.Context, inc *types.Incident) (string, error)
	Status() Status
}

// Status describes the last known connection state.
type Status struct {
	Kind      Kind      `json:"type"`
	Endpoint  string    `json:"url"`
	Connected bool      `json:"connected"`
	CheckedAt time.Time `json:"checked_at,omitempty"`
}

// Config holds connector settings.
type Config struct {
	Kind     Kind
	Endpoint string
	APIKey   string
	Timeout  time.Duration

	// RateLimit is the maximum requests per second sent to the platform.
	// Zero or less disables limiting.
	RateLimit float64
	RateBurst int
}

// New builds the connector selected by cfg.Kind.
func New(cfg Config, log *logrus.Logger) (Connector, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if log == nil {
		log = logrus.New()
	}
	h := newHTTPClient(cfg, log)
	switch Kind(strings.ToLower(string(cfg.Kind))) {
	case KindWebhook:
		return &Webhook{httpClient: h}, nil
	case KindTheHive:
		return &TheHive{httpClient: h}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, cfg.Kind)
	}
}

// httpClient is the shared JSON-over-HTTP transport of the connectors.
type httpClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
	limiter  *rate.Limiter
	log      *logrus.Logger

	mu        sync.Mutex
	connected bool
	checkedAt time.Time
}

func newHTTPClient(cfg Config, log *logrus.Logger) *httpClient {
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return &httpClient{
		endpoint: strings.TrimSuffix(cfg.Endpoint, "/"),
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: cfg.Timeout},
		limiter:  limiter,
		log:      log,
	}
}

func (c *httpClient) configured() bool {
	return c.endpoint != ""
}

func (c *httpClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("User-Agent", version.UserAgent("threatcore"))
}

// sendJSON posts body to path and decodes a non-empty JSON response into
// out when out is non-nil.
func (c *httpClient) sendJSON(ctx context.Context, path string, body, out interface{}) error {
	if !c.configured() {
		return ErrNotConfigured
	}
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", http.MethodPost, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// probe issues a GET to path and records whether it answered 200.
func (c *httpClient) probe(ctx context.Context, path string) error {
	if !c.configured() {
		return ErrNotConfigured
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+path, nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		c.record(false)
		return fmt.Errorf("status probe: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.record(false)
		return fmt.Errorf("status probe returned %d", resp.StatusCode)
	}
	c.record(true)
	return nil
}

func (c *httpClient) record(connected bool) {
	c.mu.Lock()
	c.connected = connected
	c.checkedAt = time.Now().UTC()
	c.mu.Unlock()
}

func (c *httpClient) isConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *httpClient) status(kind Kind) Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{Kind: kind, Endpoint: c.endpoint, Connected: c.connected, CheckedAt: c.checkedAt}
}
