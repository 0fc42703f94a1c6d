package client

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/invisible-tech/threatcore/internal/types"
)

func canListen(t *testing.T) bool {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot bind for test: %v", err)
		return false
	}
	ln.Close()
	return true
}

func TestNew_AddsScheme(t *testing.T) {
	c := New(Config{Endpoint: "localhost:8080/"}, logrus.New())
	if c.endpoint != "http://localhost:8080" {
		t.Errorf("endpoint = %q", c.endpoint)
	}
	c = New(Config{Endpoint: "https://tc.example.com"}, logrus.New())
	if c.endpoint != "https://tc.example.com" {
		t.Errorf("endpoint = %q", c.endpoint)
	}
}

func TestClient_NoEndpoint(t *testing.T) {
	c := New(Config{}, logrus.New())
	if err := c.Health(context.Background()); !errors.Is(err, ErrNoEndpoint) {
		t.Errorf("expected ErrNoEndpoint, got %v", err)
	}
}

func TestClient_SubmitEvent(t *testing.T) {
	if !canListen(t) {
		return
	}
	var received types.Event
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/events" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if received.Type == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	c := New(Config{Endpoint: server.URL, Timeout: 5 * time.Second}, logrus.New())
	ctx := context.Background()
	ev := &types.Event{ID: "ev-1", Type: types.EventLoginFailure, SourceIP: "10.0.0.5", Severity: "6"}
	if err := c.SubmitEvent(ctx, ev); err != nil {
		t.Fatalf("SubmitEvent: %v", err)
	}
	if received.ID != "ev-1" || received.Severity != "6" {
		t.Errorf("received %+v", received)
	}

	err := c.SubmitEvent(ctx, &types.Event{ID: "ev-2"})
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusBadRequest {
		t.Errorf("expected 400 StatusError, got %v", err)
	}
	if sent, failed := c.Stats(); sent != 1 || failed != 1 {
		t.Errorf("Stats() = %d, %d; want 1, 1", sent, failed)
	}
}

func TestClient_Analyze(t *testing.T) {
	if !canListen(t) {
		return
	}
	var req types.AnalyzeRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/analyze" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(types.Insight{EventID: req.Event.ID, Priority: types.PriorityHigh, Score: 0.8})
	}))
	defer server.Close()

	c := New(Config{Endpoint: server.URL}, logrus.New())
	insight, err := c.Analyze(context.Background(), &types.Event{ID: "ev-9", Type: types.EventPhishing}, &types.Context{SourceIPCount: 4})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if insight.EventID != "ev-9" || insight.Priority != types.PriorityHigh {
		t.Errorf("insight = %+v", insight)
	}
	if req.Context == nil || req.Context.SourceIPCount != 4 {
		t.Errorf("context not forwarded: %+v", req.Context)
	}
}

func TestClient_AlertsAndStats(t *testing.T) {
	if !canListen(t) {
		return
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/v1/alerts":
			if r.URL.Query().Get("limit") != "2" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_, _ = w.Write([]byte(`[{"id":"a1","priority":"high"},{"id":"a2","priority":"low"}]`))
		case "/api/v1/ml/stats":
			_, _ = w.Write([]byte(`{"window_events":3,"classifier_trained":false}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	c := New(Config{Endpoint: server.URL}, logrus.New())
	alerts, err := c.Alerts(context.Background(), 2)
	if err != nil {
		t.Fatalf("Alerts: %v", err)
	}
	if len(alerts) != 2 || alerts[0].ID != "a1" {
		t.Errorf("alerts = %+v", alerts)
	}
	stats, err := c.MLStats(context.Background())
	if err != nil {
		t.Fatalf("MLStats: %v", err)
	}
	if stats["window_events"] != float64(3) {
		t.Errorf("stats = %v", stats)
	}
}
