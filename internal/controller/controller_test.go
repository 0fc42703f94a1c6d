package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/sirupsen/logrus"

	"github.com/invisible-tech/threatcore/internal/anomaly"
	"github.com/invisible-tech/threatcore/internal/classifier"
	"github.com/invisible-tech/threatcore/internal/config"
	"github.com/invisible-tech/threatcore/internal/correlate"
	"github.com/invisible-tech/threatcore/internal/types"
	"github.com/invisible-tech/threatcore/pkg/connector"
)

func testConfig(t *testing.T) config.ServiceConfig {
	t.Helper()
	cfg := config.DefaultServiceConfig()
	dir := t.TempDir()
	cfg.ClassifierModelPath = filepath.Join(dir, "classifier.tcm")
	cfg.AnomalyModelPath = filepath.Join(dir, "anomaly.tcm")
	cfg.Connector = config.ConnectorConfig{}
	return cfg
}

func newController(t *testing.T, cfg config.ServiceConfig) *Controller {
	t.Helper()
	c, err := New(cfg, logrus.New())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func ransomwareEvent() *types.Event {
	return &types.Event{
		ID:          "ev-1",
		Source:      types.SourceEndpoint,
		Type:        types.EventMalwareDetected,
		Timestamp:   "2024-03-12T14:30:00Z",
		SourceIP:    "198.51.100.23",
		Severity:    "9.5",
		Description: "Ransomware encrypted files on host",
	}
}

func failedLogin(i int, ip string) *types.Event {
	return &types.Event{
		ID:       fmt.Sprintf("fail-%d", i),
		Source:   types.SourceSplunk,
		Type:     types.EventLoginFailure,
		SourceIP: ip,
		User:     "admin",
		Severity: "4",
	}
}

func TestNew(t *testing.T) {
	c := newController(t, config.ServiceConfig{})
	if c == nil {
		t.Fatal("New() returned nil")
	}
	s := c.Stats()
	if s.WindowCapacity != 100 || s.PatternsLoaded != 6 || s.ClassifierTrained || s.AnomalyTrained {
		t.Errorf("unexpected initial stats %+v", s)
	}
	if s.Connector != nil {
		t.Error("no connector should be configured")
	}
}

func TestNew_UnknownConnector(t *testing.T) {
	cfg := testConfig(t)
	cfg.Connector = config.ConnectorConfig{Kind: "pagerduty", Endpoint: "https://example.com"}
	if _, err := New(cfg, logrus.New()); !errors.Is(err, connector.ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}
}

func TestNew_CorruptModelFallsBack(t *testing.T) {
	cfg := testConfig(t)
	if err := os.WriteFile(cfg.ClassifierModelPath, []byte("not a model"), 0o644); err != nil {
		t.Fatal(err)
	}
	c := newController(t, cfg)
	if c.Stats().ClassifierTrained {
		t.Error("corrupt bundle should leave the classifier untrained")
	}
	in, _ := c.Analyze(context.Background(), ransomwareEvent(), nil)
	if in.ScoringMethod != "intelligent" {
		t.Errorf("scoring method = %q, want intelligent", in.ScoringMethod)
	}
}

func TestAnalyze_RansomwareAlert(t *testing.T) {
	c := newController(t, testConfig(t))
	in, alert := c.Analyze(context.Background(), ransomwareEvent(), &types.Context{SourceIPCount: 15})

	if in.Classification.AttackType != "ransomware" || !in.IsAnomaly {
		t.Fatalf("insight = %+v", in)
	}
	if alert.Priority != types.PriorityCritical {
		t.Errorf("priority = %s", alert.Priority)
	}
	if alert.MLScore < 0.64-1e-9 || alert.MLScore > 0.64+1e-9 {
		t.Errorf("ml score = %v, want classification confidence 0.64", alert.MLScore)
	}
	wantTitle := "[Ransomware] Malware Detected detected from 198.51.100.23 (ENDPOINT)"
	if alert.Title != wantTitle {
		t.Errorf("title = %q, want %q", alert.Title, wantTitle)
	}
	for _, part := range []string{
		"Ransomware encrypted files on host",
		"[ML Classification] Attack Type: ransomware",
		"Confidence: 64.0%",
		"[Anomaly Detection] Anomaly Score: 50.0%",
		"Recommended Action: isolate_and_contain",
	} {
		if !strings.Contains(alert.Description, part) {
			t.Errorf("description missing %q:\n%s", part, alert.Description)
		}
	}
	if alert.ID == "" || alert.EventID != "ev-1" || alert.Source != "endpoint" {
		t.Errorf("alert = %+v", alert)
	}
}

func TestAlertTitle_Fallbacks(t *testing.T) {
	userEv := &types.Event{Type: types.EventLoginFailure, Source: types.SourceSplunk, User: "alice"}
	if got := alertTitle(userEv, types.Insight{}); got != "Login Failure detected for user alice (SPLUNK)" {
		t.Errorf("title = %q", got)
	}
	bare := &types.Event{Type: types.EventPhishing, Source: types.SourceCustom}
	if got := alertTitle(bare, types.Insight{}); got != "Phishing detected (CUSTOM)" {
		t.Errorf("title = %q", got)
	}
	if got := alertDescription(bare, types.Insight{}); got != "Security event detected: phishing" {
		t.Errorf("description = %q", got)
	}
}

func TestAnalyze_ScoredPriorityWithoutPattern(t *testing.T) {
	c := newController(t, testConfig(t))
	in, alert := c.Analyze(context.Background(), &types.Event{Type: types.EventLoginSuccess, Severity: "1", User: "bob"}, nil)
	if in.Classification.RecommendedPriority != "" {
		t.Fatalf("unexpected pattern match %+v", in.Classification)
	}
	if alert.Priority != in.Priority || alert.MLScore != in.Score {
		t.Errorf("alert %s/%v should carry scored %s/%v", alert.Priority, alert.MLScore, in.Priority, in.Score)
	}
}

func TestGetAlerts_LimitAndRetention(t *testing.T) {
	cfg := testConfig(t)
	cfg.AlertRetentionCount = 3
	c := newController(t, cfg)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		c.Analyze(ctx, &types.Event{ID: fmt.Sprintf("ev-%d", i), Type: types.EventOther}, nil)
	}
	all := c.GetAlerts(0)
	if len(all) != 3 {
		t.Fatalf("retained %d alerts, want 3", len(all))
	}
	if all[0].EventID != "ev-2" || all[2].EventID != "ev-4" {
		t.Errorf("retained %s..%s, want ev-2..ev-4", all[0].EventID, all[2].EventID)
	}
	last := c.GetAlerts(1)
	if len(last) != 1 || last[0].EventID != "ev-4" {
		t.Errorf("GetAlerts(1) = %+v", last)
	}
}

func TestIngestEvent_BufferFull(t *testing.T) {
	cfg := testConfig(t)
	cfg.EventBufferSize = 1
	c := newController(t, cfg)
	if err := c.IngestEvent(&types.Event{Type: types.EventOther}); err != nil {
		t.Fatalf("IngestEvent: %v", err)
	}
	if err := c.IngestEvent(&types.Event{Type: types.EventOther}); !errors.Is(err, ErrBufferFull) {
		t.Errorf("expected ErrBufferFull, got %v", err)
	}
}

func TestStart_ProcessesIngestedEvents(t *testing.T) {
	c := newController(t, testConfig(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	for i := 0; i < 3; i++ {
		if err := c.IngestEvent(failedLogin(i, "203.0.113.7")); err != nil {
			t.Fatalf("IngestEvent: %v", err)
		}
	}
	deadline := time.Now().Add(5 * time.Second)
	for len(c.GetAlerts(0)) < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("processed %d of 3 events", len(c.GetAlerts(0)))
		}
		time.Sleep(10 * time.Millisecond)
	}
	if s := c.Stats(); s.WindowEvents != 3 || s.StoredEvents != 3 {
		t.Errorf("stats = %+v", s)
	}
}

func TestRunCorrelation_PromotesOnce(t *testing.T) {
	c := newController(t, testConfig(t))
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		c.Analyze(ctx, failedLogin(i, "203.0.113.7"), nil)
	}

	corrs := c.RunCorrelation(ctx)
	var brute *types.Correlation
	for i := range corrs {
		if corrs[i].Type == correlate.TypeBruteForce {
			brute = &corrs[i]
		}
	}
	if brute == nil {
		t.Fatalf("no brute force correlation in %+v", corrs)
	}
	incidents := c.GetIncidents()
	if len(incidents) != 1 {
		t.Fatalf("incidents = %d, want 1", len(incidents))
	}
	inc := incidents[0]
	if inc.Title != "Correlated Incident: brute_force_attempt" ||
		inc.Description != "Detected pattern: brute_force_attempt with 5 events" ||
		inc.Status != IncidentOpen || inc.Severity != "high" || inc.CorrelationID != brute.ID {
		t.Errorf("incident = %+v", inc)
	}

	c.RunCorrelation(ctx)
	if n := len(c.GetIncidents()); n != 1 {
		t.Errorf("same correlation promoted again: %d incidents", n)
	}
	if n := len(c.GetCorrelations()); n == 0 {
		t.Error("last correlation pass not recorded")
	}

	c.Analyze(ctx, failedLogin(5, "203.0.113.7"), nil)
	c.RunCorrelation(ctx)
	if n := len(c.GetIncidents()); n != 2 {
		t.Errorf("grown correlation should promote a new incident, got %d", n)
	}
}

func TestPromotionKey_OrderIndependent(t *testing.T) {
	a := &types.Correlation{Type: "t", Key: "k", EventIDs: []string{"b", "a"}}
	b := &types.Correlation{Type: "t", Key: "k", EventIDs: []string{"a", "b"}}
	if promotionKey(a) != promotionKey(b) {
		t.Error("member order should not change the key")
	}
	if a.EventIDs[0] != "b" {
		t.Error("promotionKey must not reorder the correlation")
	}
}

func labeledSamples(n int) []types.LabeledSample {
	var out []types.LabeledSample
	for i := 0; i < n; i++ {
		out = append(out,
			types.LabeledSample{
				Event:    types.Event{Type: types.EventMalwareDetected, Severity: "9.5", Description: "trojan dropped"},
				Context:  types.Context{SourceIPCount: 12},
				Priority: types.PriorityCritical,
			},
			types.LabeledSample{
				Event:    types.Event{Type: types.EventLoginSuccess, Severity: "1", Description: "user signed in"},
				Priority: types.PriorityInfo,
			},
		)
	}
	return out
}

func TestTrainClassifier_PersistsAndReloads(t *testing.T) {
	cfg := testConfig(t)
	c := newController(t, cfg)

	if _, err := c.TrainClassifier(labeledSamples(2)); !errors.Is(err, classifier.ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
	res, err := c.TrainClassifier(labeledSamples(10))
	if err != nil {
		t.Fatalf("TrainClassifier: %v", err)
	}
	if res.Samples != 20 {
		t.Errorf("samples = %d", res.Samples)
	}
	if _, err := os.Stat(cfg.ClassifierModelPath); err != nil {
		t.Fatalf("bundle not saved: %v", err)
	}
	if !c.Stats().ClassifierTrained {
		t.Error("classifier should be trained")
	}
	in, _ := c.Analyze(context.Background(), &types.Event{Type: types.EventLoginSuccess, Severity: "1", Description: "user signed in"}, nil)
	if in.ScoringMethod != "model" {
		t.Errorf("scoring method = %q, want model", in.ScoringMethod)
	}

	reloaded := newController(t, cfg)
	if !reloaded.Stats().ClassifierTrained {
		t.Error("saved classifier not loaded at startup")
	}
}

func TestRetrainAnomaly(t *testing.T) {
	cfg := testConfig(t)
	c := newController(t, cfg)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		c.Analyze(ctx, failedLogin(i, "10.0.0.1"), nil)
	}
	if _, err := c.RetrainAnomaly(); !errors.Is(err, anomaly.ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}

	for i := 3; i < 12; i++ {
		c.Analyze(ctx, failedLogin(i, fmt.Sprintf("10.0.0.%d", i)), nil)
	}
	n, err := c.RetrainAnomaly()
	if err != nil {
		t.Fatalf("RetrainAnomaly: %v", err)
	}
	if n != 12 {
		t.Errorf("trained on %d, want 12", n)
	}
	if !c.Stats().AnomalyTrained {
		t.Error("anomaly model should be trained")
	}
	if _, err := os.Stat(cfg.AnomalyModelPath); err != nil {
		t.Errorf("anomaly bundle not saved: %v", err)
	}
	in, _ := c.Analyze(ctx, failedLogin(99, "10.0.0.99"), nil)
	if in.AnomalyMethod != anomaly.MethodModel {
		t.Errorf("anomaly method = %q", in.AnomalyMethod)
	}
}

func TestResetWindow(t *testing.T) {
	c := newController(t, testConfig(t))
	c.Analyze(context.Background(), &types.Event{Type: types.EventOther}, nil)
	if c.Stats().WindowEvents != 1 {
		t.Fatal("window should hold one event")
	}
	c.ResetWindow()
	if s := c.Stats(); s.WindowEvents != 0 || s.StoredEvents != 1 {
		t.Errorf("after reset stats = %+v", s)
	}
}

func canListen(t *testing.T) bool {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot bind for test: %v", err)
		return false
	}
	ln.Close()
	return true
}

func TestConnector_ReceivesAlertsAndIncidents(t *testing.T) {
	if !canListen(t) {
		return
	}
	var alerts, incidents int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/alerts":
			atomic.AddInt32(&alerts, 1)
			w.WriteHeader(http.StatusAccepted)
		case "/incidents":
			atomic.AddInt32(&incidents, 1)
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "case-7"})
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer server.Close()

	cfg := testConfig(t)
	cfg.Connector = config.ConnectorConfig{Kind: "webhook", Endpoint: server.URL, Timeout: 5 * time.Second}
	c := newController(t, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	for i := 0; i < 5; i++ {
		c.Analyze(ctx, failedLogin(i, "203.0.113.9"), nil)
	}
	c.RunCorrelation(ctx)

	deadline := time.Now().Add(5 * time.Second)
	for {
		incs := c.GetIncidents()
		if atomic.LoadInt32(&alerts) == 5 && len(incs) == 1 && incs[0].ExternalRef == "webhook://incident/case-7" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("alerts=%d incidents=%d refs=%+v", atomic.LoadInt32(&alerts), atomic.LoadInt32(&incidents), incs)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if st := c.Stats().Connector; st == nil || st.Kind != connector.KindWebhook {
		t.Errorf("connector status = %+v", st)
	}
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestConnector_FullQueueDropsAndCounts(t *testing.T) {
	cfg := testConfig(t)
	cfg.Connector = config.ConnectorConfig{Kind: "webhook", Endpoint: "http://127.0.0.1:1", QueueSize: 3}
	c := newController(t, cfg)

	dropped := connectorDropped.WithLabelValues("alert")
	before := counterValue(t, dropped)

	// No worker is running, so the queue fills after three alerts.
	for i := 0; i < 5; i++ {
		c.Analyze(context.Background(), failedLogin(i, "203.0.113.11"), nil)
	}
	if got := len(c.outbound); got != 3 {
		t.Errorf("queued = %d, want 3", got)
	}
	if got := counterValue(t, dropped) - before; got != 2 {
		t.Errorf("dropped = %v, want 2", got)
	}
	if got := len(c.GetAlerts(0)); got != 5 {
		t.Errorf("alerts = %d, want 5 regardless of forwarding", got)
	}
}

func TestConnector_SlowConnectorKeepsGoroutinesBounded(t *testing.T) {
	if !canListen(t) {
		return
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	cfg := testConfig(t)
	cfg.Connector = config.ConnectorConfig{
		Kind: "webhook", Endpoint: server.URL, Timeout: 5 * time.Second,
		RateLimit: 1, RateBurst: 1, QueueSize: 10,
	}
	c := newController(t, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	dropped := connectorDropped.WithLabelValues("alert")
	before := counterValue(t, dropped)
	baseline := runtime.NumGoroutine()

	for i := 0; i < 500; i++ {
		c.Analyze(ctx, failedLogin(i, "203.0.113.12"), nil)
	}
	if got := runtime.NumGoroutine(); got > baseline+20 {
		t.Errorf("goroutines grew from %d to %d", baseline, got)
	}
	if got := counterValue(t, dropped) - before; got < 400 {
		t.Errorf("dropped = %v, want most of 500 alerts dropped", got)
	}
}
