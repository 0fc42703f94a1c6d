// Package realtime composes anomaly detection, pattern classification and
// prioritization into one insight per event, and keeps the rolling window of
// recently processed events.
package realtime

import (
	"github.com/sirupsen/logrus"

	"github.com/invisible-tech/threatcore/internal/anomaly"
	"github.com/invisible-tech/threatcore/internal/detection"
	"github.com/invisible-tech/threatcore/internal/prioritizer"
	"github.com/invisible-tech/threatcore/internal/types"
	"github.com/invisible-tech/threatcore/internal/window"
)

// Recommended actions.
const (
	ActionIsolate     = "isolate_and_contain"
	ActionBlockInvest = "block_and_investigate"
	ActionBlockIP     = "block_ip"
	ActionRateLimit   = "rate_limit"
	ActionInvestigate = "investigate"
	ActionReview      = "review"
	ActionMonitor     = "monitor"
)

// Risk levels.
const (
	RiskCritical = "critical"
	RiskHigh     = "high"
	RiskMedium   = "medium"
	RiskLow      = "low"
)

var attackActions = map[string]string{
	"ransomware":        ActionIsolate,
	"data_exfiltration": ActionBlockInvest,
	"brute_force":       ActionBlockIP,
	"ddos":              ActionRateLimit,
}

// Coordinator is constructed once per service and shared by every
// event-processing call.
type Coordinator struct {
	window      *window.Window[types.Observation]
	detector    *anomaly.Detector
	engine      *detection.Engine
	prioritizer *prioritizer.Prioritizer
	log         *logrus.Logger
}

// New wires a coordinator from its collaborators. windowCapacity bounds the
// rolling window.
func New(windowCapacity int, detector *anomaly.Detector, engine *detection.Engine, p *prioritizer.Prioritizer, log *logrus.Logger) *Coordinator {
	return &Coordinator{
		window:      window.New[types.Observation](windowCapacity),
		detector:    detector,
		engine:      engine,
		prioritizer: p,
		log:         log,
	}
}

// ProcessEvent records the event in the rolling window and returns its
// complete insight. It never fails.
func (c *Coordinator) ProcessEvent(ev *types.Event, ctx types.Context) types.Insight {
	c.window.Push(types.Observation{Event: *ev, Context: ctx})

	// Neither stage reads the window or the other's state.
	anomalyResult := c.detector.Detect(ev, ctx)
	classification := c.engine.Classify(ev, ctx)

	verdict := c.prioritizer.Prioritize(ev, ctx)

	return types.Insight{
		EventID:           ev.ID,
		Priority:          verdict.Priority,
		Score:             verdict.Score,
		ScoringMethod:     verdict.Method,
		IsAnomaly:         anomalyResult.IsAnomaly,
		AnomalyScore:      anomalyResult.Score,
		AnomalyMethod:     anomalyResult.Method,
		Classification:    classification,
		MLConfidence:      max(anomalyResult.Score, classification.Confidence),
		RecommendedAction: RecommendAction(anomalyResult.IsAnomaly, classification),
		RiskLevel:         RiskLevel(anomalyResult.IsAnomaly, anomalyResult.Score, classification),
	}
}

// RecommendAction maps a detection result to a response action.
func RecommendAction(isAnomaly bool, c types.Classification) string {
	if !isAnomaly && c.Category == detection.CategoryUnknown {
		return ActionMonitor
	}
	if action, ok := attackActions[c.AttackType]; ok {
		return action
	}
	if isAnomaly {
		return ActionInvestigate
	}
	return ActionReview
}

// RiskLevel combines the pattern's recommended priority with the anomaly
// verdict. A strongly anomalous event is high risk even without a pattern.
func RiskLevel(isAnomaly bool, anomalyScore float64, c types.Classification) string {
	switch {
	case c.RecommendedPriority == types.PriorityCritical:
		return RiskCritical
	case c.RecommendedPriority == types.PriorityHigh:
		return RiskHigh
	case isAnomaly && anomalyScore < 0.3:
		return RiskHigh
	case isAnomaly, c.Category == detection.CategoryAttack:
		return RiskMedium
	default:
		return RiskLow
	}
}

// Stats is a point-in-time summary of the coordinator's state.
type Stats struct {
	WindowEvents    int                     `json:"window_events"`
	WindowCapacity  int                     `json:"window_capacity"`
	AnomalyTrained  bool                    `json:"anomaly_model_trained"`
	AnomalyHistory  int                     `json:"anomaly_history"`
	PatternsLoaded  int                     `json:"patterns_loaded"`
	EventTypeCounts map[types.EventType]int `json:"event_type_counts"`
}

// Stats reports window and model state.
func (c *Coordinator) Stats() Stats {
	snapshot := c.window.Snapshot()
	counts := make(map[types.EventType]int)
	for _, o := range snapshot {
		counts[o.Event.Type]++
	}
	return Stats{
		WindowEvents:    len(snapshot),
		WindowCapacity:  c.window.Cap(),
		AnomalyTrained:  c.detector.Trained(),
		AnomalyHistory:  c.detector.HistoryLen(),
		PatternsLoaded:  len(c.engine.Catalog().Patterns),
		EventTypeCounts: counts,
	}
}

// Window returns the rolling window contents, oldest first.
func (c *Coordinator) Window() []types.Observation {
	return c.window.Snapshot()
}

// WindowLen returns the number of observations in the rolling window.
func (c *Coordinator) WindowLen() int {
	return c.window.Len()
}

// ResetWindow empties the rolling window. It is an operator action.
func (c *Coordinator) ResetWindow() {
	c.window.Reset()
	c.log.Info("Rolling event window reset")
}
