package controller

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/invisible-tech/threatcore/internal/types"
)

// Incident statuses.
const (
	IncidentOpen = "open"
)

// NewAlert builds the alert for a processed event. The matched pattern's
// priority wins over the scored priority.
func NewAlert(ev *types.Event, in types.Insight) *types.Alert {
	priority, score := in.AlertPriority()
	return &types.Alert{
		ID:          uuid.NewString(),
		Timestamp:   time.Now().UTC(),
		Title:       alertTitle(ev, in),
		Description: alertDescription(ev, in),
		Priority:    priority,
		MLScore:     score,
		Source:      string(ev.Source),
		EventID:     ev.ID,
		SourceIP:    ev.SourceIP,
		DestIP:      ev.DestinationIP,
		Insight:     in,
	}
}

func alertTitle(ev *types.Event, in types.Insight) string {
	eventType := string(ev.Type)
	if eventType == "" {
		eventType = string(types.EventOther)
	}
	source := strings.ToUpper(string(ev.Source))
	if source == "" {
		source = "UNKNOWN"
	}
	prefix := ""
	if at := in.Classification.AttackType; at != "" {
		prefix = "[" + humanize(at) + "] "
	}
	switch {
	case ev.SourceIP != "":
		return fmt.Sprintf("%s%s detected from %s (%s)", prefix, humanize(eventType), ev.SourceIP, source)
	case ev.User != "":
		return fmt.Sprintf("%s%s detected for user %s (%s)", prefix, humanize(eventType), ev.User, source)
	default:
		return fmt.Sprintf("%s%s detected (%s)", prefix, humanize(eventType), source)
	}
}

func alertDescription(ev *types.Event, in types.Insight) string {
	var b strings.Builder
	if ev.Description != "" {
		b.WriteString(ev.Description)
	} else {
		fmt.Fprintf(&b, "Security event detected: %s", ev.Type)
	}
	if at := in.Classification.AttackType; at != "" {
		fmt.Fprintf(&b, "\n\n[ML Classification] Attack Type: %s", at)
		fmt.Fprintf(&b, "\nConfidence: %.1f%%", in.Classification.Confidence*100)
	}
	if in.IsAnomaly {
		fmt.Fprintf(&b, "\n[Anomaly Detection] Anomaly Score: %.1f%%", in.AnomalyScore*100)
	}
	if in.RecommendedAction != "" {
		fmt.Fprintf(&b, "\nRecommended Action: %s", in.RecommendedAction)
	}
	return b.String()
}

// humanize turns snake_case into Title Case words.
func humanize(s string) string {
	words := strings.Fields(strings.ReplaceAll(s, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}

// NewIncident builds an open incident from a promotable correlation.
func NewIncident(corr *types.Correlation) *types.Incident {
	return &types.Incident{
		ID:            uuid.NewString(),
		CreatedAt:     time.Now().UTC(),
		Title:         "Correlated Incident: " + corr.Type,
		Description:   fmt.Sprintf("Detected pattern: %s with %d events", corr.Type, corr.EventCount),
		Status:        IncidentOpen,
		Severity:      corr.Severity,
		Tags:          []string{corr.Type},
		CorrelationID: corr.ID,
		EventIDs:      append([]string(nil), corr.EventIDs...),
	}
}
