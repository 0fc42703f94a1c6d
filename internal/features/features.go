// Package features turns an event and its context into the fixed numeric
// vectors consumed by the scorer, the priority classifier and the anomaly
// detector. Extraction never fails: every missing or malformed input
// resolves to a documented default.
package features

import (
	"math"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/invisible-tech/threatcore/internal/types"
)

// Scoring feature indices.
const (
	EventTypeSeverity = iota
	SeverityNumeric
	SourceIPFrequency
	DestinationIPFrequency
	UserFrequency
	HasMalwareKeywords
	HasSuspiciousPatterns
	HasExploitKeywords
	HasPrivilegeEscalation
	NetworkAnomaly
	TimeOfDay
	SourceReliability

	ScoringCount
)

// Anomaly feature indices.
const (
	AnomalyEventWeight = iota
	AnomalySeverity
	AnomalySourceIPCount
	AnomalyDestinationIPCount
	AnomalyUserCount
	AnomalySimilarEvents
	AnomalyHour
	AnomalyDayOfWeek
	AnomalySourceIPHash
	AnomalyDestinationIPHash
	AnomalyDescriptionLength

	AnomalyCount
)

// ScoringNames lists the scoring feature names in vector order.
var ScoringNames = [ScoringCount]string{
	"event_type_severity",
	"severity_score_numeric",
	"source_ip_frequency",
	"destination_ip_frequency",
	"user_frequency",
	"has_malware_keywords",
	"has_suspicious_patterns",
	"has_exploit_keywords",
	"has_privilege_escalation",
	"network_anomaly_score",
	"time_based_score",
	"source_reliability",
}

// AnomalyNames lists the anomaly feature names in vector order.
var AnomalyNames = [AnomalyCount]string{
	"event_type_weight",
	"severity",
	"source_ip_count",
	"destination_ip_count",
	"user_count",
	"similar_events",
	"hour",
	"day_of_week",
	"source_ip_hash",
	"destination_ip_hash",
	"description_length",
}

// ScoringVector is the 12-value vector used for priority scoring.
type ScoringVector [ScoringCount]float64

// AnomalyVector is the 11-value vector used for anomaly detection.
type AnomalyVector [AnomalyCount]float64

var eventTypeSeverity = map[types.EventType]float64{
	types.EventMalwareDetected:    0.95,
	types.EventUnauthorizedAccess: 0.90,
	types.EventDataExfiltration:   0.95,
	types.EventBruteForce:         0.75,
	types.EventDDoS:               0.85,
	types.EventSuspiciousActivity: 0.70,
	types.EventPhishing:           0.65,
	types.EventLoginFailure:       0.40,
	types.EventLoginSuccess:       0.10,
	types.EventOther:              0.50,
}

var eventTypeWeight = map[types.EventType]float64{
	types.EventMalwareDetected:    1.0,
	types.EventUnauthorizedAccess: 0.9,
	types.EventDataExfiltration:   0.95,
	types.EventBruteForce:         0.7,
	types.EventDDoS:               0.8,
	types.EventSuspiciousActivity: 0.6,
	types.EventPhishing:           0.5,
	types.EventLoginFailure:       0.3,
	types.EventLoginSuccess:       0.1,
	types.EventOther:              0.4,
}

var sourceReliability = map[string]float64{
	"splunk":   0.8,
	"elastic":  0.8,
	"ids_ips":  0.85,
	"firewall": 0.75,
	"endpoint": 0.70,
	"network":  0.65,
	"custom":   0.50,
}

var (
	malwareKeywords    = []string{"malware", "virus", "trojan", "ransomware", "rootkit", "backdoor", "spyware"}
	suspiciousKeywords = []string{"unauthorized", "breach", "exploit", "attack", "intrusion", "compromise"}
	exploitKeywords    = []string{"exploit", "cve-", "vulnerability", "zero-day", "rce", "sql injection"}
	privilegeKeywords  = []string{"privilege", "escalation", "sudo", "admin", "root", "administrator"}
)

// EventTypeSeverityOf returns the base severity of an event type, 0.5 for
// unknown types.
func EventTypeSeverityOf(t types.EventType) float64 {
	if v, ok := eventTypeSeverity[t]; ok {
		return v
	}
	return 0.5
}

// EventTypeWeightOf returns the anomaly encoding of an event type, 0.4 for
// unknown types.
func EventTypeWeightOf(t types.EventType) float64 {
	if v, ok := eventTypeWeight[t]; ok {
		return v
	}
	return 0.4
}

// SourceReliabilityOf returns the reliability of a sensor source,
// case-insensitively, 0.5 for unknown sources.
func SourceReliabilityOf(source types.EventSource) float64 {
	if v, ok := sourceReliability[strings.ToLower(strings.TrimSpace(string(source)))]; ok {
		return v
	}
	return 0.5
}

// Scoring extracts the scoring vector.
func Scoring(ev *types.Event, ctx types.Context) ScoringVector {
	ctx = ctx.Normalized()
	var v ScoringVector

	typeSeverity := EventTypeSeverityOf(ev.Type)
	v[EventTypeSeverity] = typeSeverity
	// SeverityNumeric is on the 0-10 scale; the type severity is 0-1.
	v[SeverityNumeric] = normalizedSeverity(ev.Severity, typeSeverity*10)

	v[SourceIPFrequency] = math.Log1p(float64(ctx.SourceIPCount))
	v[DestinationIPFrequency] = math.Log1p(float64(ctx.DestinationIPCount))
	v[UserFrequency] = math.Log1p(float64(ctx.UserCount))

	text := ev.Text()
	v[HasMalwareKeywords] = flag(containsAny(text, malwareKeywords))
	v[HasSuspiciousPatterns] = flag(containsAny(text, suspiciousKeywords))
	v[HasExploitKeywords] = flag(containsAny(text, exploitKeywords))
	v[HasPrivilegeEscalation] = flag(containsAny(text, privilegeKeywords))

	v[NetworkAnomaly] = NetworkAnomalyScore(ctx)
	v[TimeOfDay] = timeOfDayScore(ev.Timestamp)
	v[SourceReliability] = SourceReliabilityOf(ev.Source)
	return v
}

// Anomaly extracts the anomaly vector.
func Anomaly(ev *types.Event, ctx types.Context) AnomalyVector {
	ctx = ctx.Normalized()
	var v AnomalyVector

	weight := EventTypeWeightOf(ev.Type)
	v[AnomalyEventWeight] = weight
	v[AnomalySeverity] = normalizedSeverity(ev.Severity, weight)

	v[AnomalySourceIPCount] = math.Log1p(float64(ctx.SourceIPCount))
	v[AnomalyDestinationIPCount] = math.Log1p(float64(ctx.DestinationIPCount))
	v[AnomalyUserCount] = math.Log1p(float64(ctx.UserCount))
	v[AnomalySimilarEvents] = math.Log1p(float64(ctx.SimilarEventsCount))

	v[AnomalyHour], v[AnomalyDayOfWeek] = 0.5, 0.5
	if ts, ok := ParseTimestamp(ev.Timestamp); ok {
		v[AnomalyHour] = float64(ts.Hour()) / 24.0
		// Monday is 0.
		v[AnomalyDayOfWeek] = float64((int(ts.Weekday())+6)%7) / 7.0
	}

	v[AnomalySourceIPHash] = hashUnit(ev.SourceIP)
	v[AnomalyDestinationIPHash] = hashUnit(ev.DestinationIP)
	v[AnomalyDescriptionLength] = float64(len(ev.Description)) / 500.0
	return v
}

// NetworkAnomalyScore is the frequency heuristic: 0.3 baseline, stepped up by
// the source-IP, destination-IP and user counters. The result is the largest
// of the three contributions, so it never decreases when a counter grows.
func NetworkAnomalyScore(ctx types.Context) float64 {
	ctx = ctx.Normalized()
	score := 0.3

	src := ctx.SourceIPCount
	switch {
	case src > 10:
		score = math.Max(score, math.Min(0.9, 0.6+float64(src-10)*0.05))
	case src > 5:
		score = math.Max(score, 0.6)
	case src > 2:
		score = math.Max(score, 0.4)
	}
	if dst := ctx.DestinationIPCount; dst > 5 {
		score = math.Max(score, math.Min(0.85, 0.5+float64(dst-5)*0.05))
	}
	if users := ctx.UserCount; users > 3 {
		score = math.Max(score, math.Min(0.8, 0.5+float64(users-3)*0.05))
	}
	return score
}

// normalizedSeverity parses the raw indicator; values above 10 are taken to
// be on a 0-100 scale and divided by 10. Missing or malformed values fall
// back to the event-type value.
func normalizedSeverity(raw types.RawSeverity, fallback float64) float64 {
	v, ok := raw.Float()
	if !ok {
		return fallback
	}
	if v > 10 {
		v /= 10.0
	}
	return v
}

func timeOfDayScore(timestamp string) float64 {
	ts, ok := ParseTimestamp(timestamp)
	if !ok {
		return 0.4
	}
	hour := ts.Hour()
	switch {
	case hour < 6 || hour > 22:
		return 0.7
	case hour < 8 || hour > 20:
		return 0.5
	default:
		return 0.3
	}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTimestamp parses ISO-8601 style timestamps. Offsets are preserved so
// hour-of-day reflects the sensor's local clock.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// hashUnit folds a stable 64-bit hash of the value into [0, 1).
func hashUnit(value string) float64 {
	if value == "" {
		value = "unknown"
	}
	return float64(xxhash.Sum64String(value)%1000) / 1000.0
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func flag(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
