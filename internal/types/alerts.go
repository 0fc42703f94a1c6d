package types

import "time"

// Priority is the five-level alert priority.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
	PriorityInfo     Priority = "info"
)

// Priorities lists every priority from most to least severe.
var Priorities = []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow, PriorityInfo}

// Valid reports whether p is one of the five known levels.
func (p Priority) Valid() bool {
	for _, known := range Priorities {
		if p == known {
			return true
		}
	}
	return false
}

// IOC is an indicator of compromise extracted from event content.
type IOC struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Classification is the pattern classifier's verdict for one event.
type Classification struct {
	Category            string   `json:"category"`
	AttackType          string   `json:"attack_type,omitempty"`
	Confidence          float64  `json:"confidence"`
	Tags                []string `json:"tags"`
	RecommendedPriority Priority `json:"recommended_priority,omitempty"`
	IOCs                []IOC    `json:"ioc"`
}

// Insight is the complete per-event result. Priority and Score come from the
// prioritizer; the remaining fields from the real-time coordinator.
type Insight struct {
	EventID           string         `json:"event_id,omitempty"`
	Priority          Priority       `json:"priority"`
	Score             float64        `json:"score"`
	ScoringMethod     string         `json:"scoring_method"`
	IsAnomaly         bool           `json:"is_anomaly"`
	AnomalyScore      float64        `json:"anomaly_score"`
	AnomalyMethod     string         `json:"anomaly_method"`
	Classification    Classification `json:"classification"`
	MLConfidence      float64        `json:"ml_confidence"`
	RecommendedAction string         `json:"recommended_action"`
	RiskLevel         string         `json:"risk_level"`
}

// AlertPriority returns the priority an alert should carry: the pattern's
// recommended priority when one matched, otherwise the scored priority.
func (i Insight) AlertPriority() (Priority, float64) {
	if i.Classification.RecommendedPriority != "" {
		return i.Classification.RecommendedPriority, i.MLConfidence
	}
	return i.Priority, i.Score
}

// Correlation is a group of related events surfaced by a correlation pass.
type Correlation struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	GroupBy    string    `json:"group_by"`
	Key        string    `json:"key"`
	EventIDs   []string  `json:"events"`
	EventCount int       `json:"event_count"`
	EventTypes []string  `json:"event_types,omitempty"`
	SourceIPs  []string  `json:"source_ips,omitempty"`
	Severity   string    `json:"severity"`
	DetectedAt time.Time `json:"detected_at"`
}

// Promotable reports whether the correlation qualifies for automatic
// incident creation.
func (c *Correlation) Promotable() bool {
	return c.Severity == "high" || c.Severity == "critical"
}

// Alert is a prioritized alert built from one event and its insight.
type Alert struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Priority    Priority  `json:"priority"`
	MLScore     float64   `json:"ml_score"`
	Source      string    `json:"source"`
	EventID     string    `json:"event_id"`
	SourceIP    string    `json:"source_ip,omitempty"`
	DestIP      string    `json:"destination_ip,omitempty"`
	Insight     Insight   `json:"insight"`
}

// Incident is created from a promotable correlation.
type Incident struct {
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	Status        string    `json:"status"`
	Severity      string    `json:"severity"`
	Tags          []string  `json:"tags"`
	CorrelationID string    `json:"correlation_id"`
	EventIDs      []string  `json:"event_ids"`
	ExternalRef   string    `json:"external_ref,omitempty"`
}

// AnalyzeRequest is the body of a synchronous analysis call. When Context is
// nil the service computes it from recent events.
type AnalyzeRequest struct {
	Event   Event    `json:"event"`
	Context *Context `json:"context,omitempty"`
}

// TrainRequest is the body of a classifier training call.
type TrainRequest struct {
	Samples []LabeledSample `json:"samples"`
}
