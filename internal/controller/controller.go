// Package controller runs the threatcore service pipeline: event ingest,
// per-event insight and alerting, periodic correlation with incident
// promotion, and model training.
package controller

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/invisible-tech/threatcore/internal/anomaly"
	"github.com/invisible-tech/threatcore/internal/classifier"
	"github.com/invisible-tech/threatcore/internal/config"
	"github.com/invisible-tech/threatcore/internal/correlate"
	"github.com/invisible-tech/threatcore/internal/detection"
	"github.com/invisible-tech/threatcore/internal/prioritizer"
	"github.com/invisible-tech/threatcore/internal/realtime"
	"github.com/invisible-tech/threatcore/internal/store"
	"github.com/invisible-tech/threatcore/internal/types"
	"github.com/invisible-tech/threatcore/pkg/connector"
)

// Prometheus metrics (registered once).
var (
	eventsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threatcore_events_processed_total",
			Help: "Total security events processed",
		},
		[]string{"event_type", "priority"},
	)
	anomaliesDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threatcore_anomalies_total",
			Help: "Total events flagged as anomalous",
		},
		[]string{"method"},
	)
	scoringTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threatcore_scoring_total",
			Help: "Total priority decisions by scoring method",
		},
		[]string{"method"},
	)
	patternMatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threatcore_pattern_matches_total",
			Help: "Total attack pattern matches",
		},
		[]string{"attack_type"},
	)
	correlationsFound = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threatcore_correlations_total",
			Help: "Total correlations found",
		},
		[]string{"type", "severity"},
	)
	incidentsPromoted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "threatcore_incidents_promoted_total",
			Help: "Total correlations promoted to incidents",
		},
	)
	windowEvents = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "threatcore_window_events",
			Help: "Events held in the rolling window",
		},
	)
	modelTrainings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threatcore_model_trainings_total",
			Help: "Model training attempts by model and result",
		},
		[]string{"model", "result"},
	)
	connectorDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threatcore_connector_dropped_total",
			Help: "Alerts and incidents dropped because the connector queue was full",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(eventsProcessed)
	prometheus.MustRegister(anomaliesDetected)
	prometheus.MustRegister(scoringTotal)
	prometheus.MustRegister(patternMatches)
	prometheus.MustRegister(correlationsFound)
	prometheus.MustRegister(incidentsPromoted)
	prometheus.MustRegister(windowEvents)
	prometheus.MustRegister(modelTrainings)
	prometheus.MustRegister(connectorDropped)
}

// Model names used in the training metric.
const (
	modelClassifier = "classifier"
	modelAnomaly    = "anomaly"
)

// ErrBufferFull is returned by IngestEvent when the ingest buffer is full.
var ErrBufferFull = errors.New("event buffer full")

// outboundItem is one alert or incident waiting for the connector.
type outboundItem struct {
	alert    *types.Alert
	incident *types.Incident
}

func (o outboundItem) kind() string {
	if o.incident != nil {
		return "incident"
	}
	return "alert"
}

// Controller wires the analytics core to the service surface.
type Controller struct {
	cfg config.ServiceConfig
	log *logrus.Logger

	store       *store.Store
	classifier  *classifier.Classifier
	detector    *anomaly.Detector
	engine      *detection.Engine
	coordinator *realtime.Coordinator
	correlator  *correlate.Correlator
	connector   connector.Connector

	eventBuffer chan *types.Event
	outbound    chan outboundItem

	alerts   []*types.Alert
	alertsMu sync.RWMutex

	correlations []types.Correlation
	incidents    []*types.Incident
	promoted     *lru.Cache[string, string]
	incidentsMu  sync.RWMutex
}

// New creates a Controller. Saved models are loaded when present; a missing
// or unreadable model leaves the scoring fallback in place.
func New(cfg config.ServiceConfig, log *logrus.Logger) (*Controller, error) {
	if cfg.EventBufferSize <= 0 {
		cfg.EventBufferSize = 10000
	}
	if cfg.AlertRetentionCount <= 0 {
		cfg.AlertRetentionCount = 10000
	}
	if cfg.IncidentRetentionCount <= 0 {
		cfg.IncidentRetentionCount = 1000
	}
	if cfg.WindowCapacity <= 0 {
		cfg.WindowCapacity = 100
	}
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = time.Hour
	}
	if cfg.Connector.QueueSize <= 0 {
		cfg.Connector.QueueSize = 1000
	}

	promoted, err := lru.New[string, string](cfg.IncidentRetentionCount)
	if err != nil {
		return nil, fmt.Errorf("promotion cache: %w", err)
	}

	cls := classifier.New(log)
	detCfg := anomaly.DefaultConfig()
	detCfg.Contamination = cfg.AnomalyContamination
	detCfg.HistoryCapacity = cfg.AnomalyHistoryCapacity
	det := anomaly.New(detCfg, log)
	engine := detection.NewEngine(nil)

	c := &Controller{
		cfg:         cfg,
		log:         log,
		store:       store.New(cfg.EventRetention, cfg.ContextWindow),
		classifier:  cls,
		detector:    det,
		engine:      engine,
		coordinator: realtime.New(cfg.WindowCapacity, det, engine, prioritizer.NewWithClassifier(cls, log), log),
		correlator:  correlate.New(thresholdsFrom(cfg.Correlation), log),
		eventBuffer: make(chan *types.Event, cfg.EventBufferSize),
		promoted:    promoted,
	}

	if cfg.Connector.Enabled() {
		conn, err := connector.New(connector.Config{
			Kind:     connector.Kind(cfg.Connector.Kind),
			Endpoint: cfg.Connector.Endpoint,
			APIKey:   cfg.Connector.APIKey,
			Timeout:  cfg.Connector.Timeout,

			RateLimit: cfg.Connector.RateLimit,
			RateBurst: cfg.Connector.RateBurst,
		}, log)
		if err != nil {
			return nil, err
		}
		c.connector = conn
		c.outbound = make(chan outboundItem, cfg.Connector.QueueSize)
	}

	c.loadModels()
	return c, nil
}

func thresholdsFrom(cc config.CorrelationConfig) correlate.Thresholds {
	th := correlate.DefaultThresholds()
	if cc.Window > 0 {
		th.Window = cc.Window
	}
	if cc.SourceIPMinEvents > 0 {
		th.SourceIPMinEvents = cc.SourceIPMinEvents
	}
	if cc.BruteForceMinFailures > 0 {
		th.BruteForceMinFailures = cc.BruteForceMinFailures
	}
	if cc.SuspiciousMinTypes > 0 {
		th.SuspiciousMinTypes = cc.SuspiciousMinTypes
	}
	if cc.UserMinEvents > 0 {
		th.UserMinEvents = cc.UserMinEvents
	}
	if cc.UserMinSourceIPs > 0 {
		th.UserMinSourceIPs = cc.UserMinSourceIPs
	}
	if cc.FloodMinEvents > 0 {
		th.FloodMinEvents = cc.FloodMinEvents
	}
	return th
}

func (c *Controller) loadModels() {
	if path := c.cfg.ClassifierModelPath; path != "" {
		if err := c.classifier.Load(path); err != nil {
			c.logLoadError(err, modelClassifier, path)
		}
	}
	if path := c.cfg.AnomalyModelPath; path != "" {
		if err := c.detector.Load(path); err != nil {
			c.logLoadError(err, modelAnomaly, path)
		}
	}
}

func (c *Controller) logLoadError(err error, model, path string) {
	entry := c.log.WithError(err).WithFields(logrus.Fields{"model": model, "path": path})
	if errors.Is(err, os.ErrNotExist) {
		entry.Info("No saved model, using fallback")
		return
	}
	entry.Warn("Failed to load saved model, using fallback")
}

// Engine returns the pattern engine so the catalog can be swapped at runtime.
func (c *Controller) Engine() *detection.Engine {
	return c.engine
}

// Start begins event processing and the correlation loop.
// Caller must run the HTTP server separately.
func (c *Controller) Start(ctx context.Context) {
	go c.processEvents(ctx)
	interval := c.cfg.Correlation.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go wait.UntilWithContext(ctx, func(ctx context.Context) { c.RunCorrelation(ctx) }, interval)
	if c.connector != nil {
		go c.probeConnector(ctx)
		go c.processOutbound(ctx)
	}
}

func (c *Controller) probeConnector(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	fields := logrus.Fields{"kind": c.connector.Kind()}
	if err := c.connector.Connect(ctx); err != nil {
		c.log.WithError(err).WithFields(fields).Warn("Connector status check failed, will retry on first send")
		return
	}
	c.log.WithFields(fields).Info("Connector connection verified")
}

// IngestEvent queues an event for asynchronous processing.
func (c *Controller) IngestEvent(ev *types.Event) error {
	select {
	case c.eventBuffer <- ev:
		return nil
	default:
		return ErrBufferFull
	}
}

func (c *Controller) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.eventBuffer:
			c.handleEvent(ev, nil)
		}
	}
}

// Analyze processes one event synchronously and returns its insight and
// alert. A nil evCtx is computed from recent events.
func (c *Controller) Analyze(ctx context.Context, ev *types.Event, evCtx *types.Context) (types.Insight, *types.Alert) {
	alert := c.handleEvent(ev, evCtx)
	return alert.Insight, alert
}

func (c *Controller) handleEvent(ev *types.Event, override *types.Context) *types.Alert {
	stored := c.store.Add(*ev)
	evCtx := c.store.Context(&stored)
	if override != nil {
		evCtx = override.Normalized()
	}

	insight := c.coordinator.ProcessEvent(&stored, evCtx)
	alert := NewAlert(&stored, insight)

	eventsProcessed.WithLabelValues(string(stored.Type), string(alert.Priority)).Inc()
	scoringTotal.WithLabelValues(insight.ScoringMethod).Inc()
	if insight.IsAnomaly {
		anomaliesDetected.WithLabelValues(insight.AnomalyMethod).Inc()
	}
	if insight.Classification.AttackType != "" {
		patternMatches.WithLabelValues(insight.Classification.AttackType).Inc()
	}
	windowEvents.Set(float64(c.coordinator.WindowLen()))

	c.alertsMu.Lock()
	c.alerts = append(c.alerts, alert)
	if len(c.alerts) > c.cfg.AlertRetentionCount {
		c.alerts = c.alerts[len(c.alerts)-c.cfg.AlertRetentionCount:]
	}
	c.alertsMu.Unlock()

	c.log.WithFields(logrus.Fields{
		"alert_id": alert.ID, "event_id": alert.EventID, "priority": alert.Priority,
		"score": alert.MLScore, "attack_type": insight.Classification.AttackType,
		"is_anomaly": insight.IsAnomaly, "action": insight.RecommendedAction,
		"risk": insight.RiskLevel, "source_ip": alert.SourceIP,
	}).Warn("SECURITY ALERT")

	c.enqueue(outboundItem{alert: alert})
	return alert
}

// enqueue hands an item to the connector worker. It never blocks; when the
// queue is full the item is dropped and counted.
func (c *Controller) enqueue(item outboundItem) {
	if c.connector == nil {
		return
	}
	select {
	case c.outbound <- item:
	default:
		connectorDropped.WithLabelValues(item.kind()).Inc()
		c.log.WithFields(logrus.Fields{
			"kind":      item.kind(),
			"connector": c.connector.Kind(),
		}).Warn("Connector queue full, dropping")
	}
}

// processOutbound forwards queued items one at a time until ctx is done.
func (c *Controller) processOutbound(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-c.outbound:
			if item.incident != nil {
				c.forwardIncident(ctx, item.incident)
			} else {
				c.sendAlert(ctx, item.alert)
			}
		}
	}
}

func (c *Controller) sendAlert(ctx context.Context, alert *types.Alert) {
	if err := c.connector.SendAlert(ctx, alert); err != nil {
		c.log.WithError(err).WithFields(logrus.Fields{"alert_id": alert.ID, "kind": c.connector.Kind()}).Error("Failed to send alert to connector")
	}
}

// GetAlerts returns the most recent alerts, up to limit.
func (c *Controller) GetAlerts(limit int) []*types.Alert {
	c.alertsMu.RLock()
	defer c.alertsMu.RUnlock()
	n := len(c.alerts)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]*types.Alert, limit)
	copy(out, c.alerts[n-limit:])
	return out
}

// RunCorrelation correlates the events inside the correlation window,
// promotes high and critical correlations to incidents, and returns the
// correlations found.
func (c *Controller) RunCorrelation(ctx context.Context) []types.Correlation {
	th := c.correlator.Thresholds()
	events := c.store.Since(time.Now().Add(-th.Window))
	corrs := c.correlator.Correlate(events)

	promotedNow := 0
	for i := range corrs {
		corr := &corrs[i]
		correlationsFound.WithLabelValues(corr.Type, corr.Severity).Inc()
		if corr.Promotable() && c.promote(corr) != nil {
			promotedNow++
		}
	}

	c.incidentsMu.Lock()
	c.correlations = corrs
	c.incidentsMu.Unlock()

	c.log.WithFields(logrus.Fields{
		"events":       len(events),
		"correlations": len(corrs),
		"promoted":     promotedNow,
	}).Debug("Correlation pass complete")
	return corrs
}

// promotionKey identifies a correlation by its type, key and member events.
func promotionKey(corr *types.Correlation) string {
	ids := append([]string(nil), corr.EventIDs...)
	sort.Strings(ids)
	return corr.Type + "|" + corr.Key + "|" + strings.Join(ids, ",")
}

// promote creates an incident for corr unless the same correlation was
// already promoted. It returns the new incident or nil.
func (c *Controller) promote(corr *types.Correlation) *types.Incident {
	key := promotionKey(corr)

	c.incidentsMu.Lock()
	if c.promoted.Contains(key) {
		c.incidentsMu.Unlock()
		return nil
	}
	inc := NewIncident(corr)
	c.promoted.Add(key, inc.ID)
	c.incidents = append(c.incidents, inc)
	if len(c.incidents) > c.cfg.IncidentRetentionCount {
		c.incidents = c.incidents[len(c.incidents)-c.cfg.IncidentRetentionCount:]
	}
	c.incidentsMu.Unlock()

	incidentsPromoted.Inc()
	c.log.WithFields(logrus.Fields{
		"incident_id": inc.ID, "correlation_id": corr.ID, "type": corr.Type,
		"key": corr.Key, "severity": corr.Severity, "events": corr.EventCount,
	}).Warn("Correlation promoted to incident")

	c.enqueue(outboundItem{incident: inc})
	return inc
}

func (c *Controller) forwardIncident(ctx context.Context, inc *types.Incident) {
	c.incidentsMu.RLock()
	snapshot := *inc
	c.incidentsMu.RUnlock()

	ref, err := c.connector.CreateIncident(ctx, &snapshot)
	if err != nil {
		c.log.WithError(err).WithFields(logrus.Fields{"incident_id": inc.ID, "kind": c.connector.Kind()}).Error("Failed to create incident in connector")
		return
	}
	c.incidentsMu.Lock()
	inc.ExternalRef = ref
	c.incidentsMu.Unlock()
}

// GetCorrelations returns the correlations of the last pass.
func (c *Controller) GetCorrelations() []types.Correlation {
	c.incidentsMu.RLock()
	defer c.incidentsMu.RUnlock()
	return append([]types.Correlation{}, c.correlations...)
}

// GetIncidents returns copies of the retained incidents, oldest first.
func (c *Controller) GetIncidents() []types.Incident {
	c.incidentsMu.RLock()
	defer c.incidentsMu.RUnlock()
	out := make([]types.Incident, len(c.incidents))
	for i, inc := range c.incidents {
		out[i] = *inc
	}
	return out
}

// TrainClassifier fits the priority classifier on labeled samples and
// persists the bundle. A failed save keeps the trained model active.
func (c *Controller) TrainClassifier(samples []types.LabeledSample) (classifier.Result, error) {
	res, err := c.classifier.Train(samples)
	if err != nil {
		modelTrainings.WithLabelValues(modelClassifier, trainingResult(err)).Inc()
		return res, err
	}
	modelTrainings.WithLabelValues(modelClassifier, "success").Inc()
	if path := c.cfg.ClassifierModelPath; path != "" {
		if err := c.classifier.Save(path); err != nil {
			c.log.WithError(err).WithField("path", path).Warn("Failed to persist classifier")
		}
	}
	return res, nil
}

// RetrainAnomaly refits the anomaly model on the detector's feature history,
// which holds every event seen by the window and earlier ones up to its cap.
func (c *Controller) RetrainAnomaly() (int, error) {
	n, err := c.detector.RetrainFromHistory()
	if err != nil {
		modelTrainings.WithLabelValues(modelAnomaly, trainingResult(err)).Inc()
		return 0, err
	}
	modelTrainings.WithLabelValues(modelAnomaly, "success").Inc()
	if path := c.cfg.AnomalyModelPath; path != "" {
		if err := c.detector.Save(path); err != nil {
			c.log.WithError(err).WithField("path", path).Warn("Failed to persist anomaly model")
		}
	}
	return n, nil
}

func trainingResult(err error) string {
	if errors.Is(err, classifier.ErrInsufficientData) || errors.Is(err, anomaly.ErrInsufficientData) {
		return "insufficient_data"
	}
	return "error"
}

// ResetWindow empties the rolling window.
func (c *Controller) ResetWindow() {
	c.coordinator.ResetWindow()
	windowEvents.Set(0)
}

// MLStats extends the coordinator stats with classifier and connector state.
type MLStats struct {
	realtime.Stats
	ClassifierTrained  bool              `json:"classifier_trained"`
	ClassifierAccuracy float64           `json:"classifier_accuracy,omitempty"`
	StoredEvents       int               `json:"stored_events"`
	Connector          *connector.Status `json:"connector,omitempty"`
}

// Stats reports model, window and connector state.
func (c *Controller) Stats() MLStats {
	s := MLStats{
		Stats:             c.coordinator.Stats(),
		ClassifierTrained: c.classifier.Trained(),
		StoredEvents:      c.store.Len(),
	}
	if m := c.classifier.Model(); m != nil {
		s.ClassifierAccuracy = m.Accuracy
	}
	if c.connector != nil {
		st := c.connector.Status()
		s.Connector = &st
	}
	return s
}
