// Package types defines the shared domain types for events, insights,
// correlations and alerts used across the analytics core and the service API.
package types

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// EventSource identifies the sensor family that produced an event.
type EventSource string

const (
	SourceSplunk   EventSource = "splunk"
	SourceElastic  EventSource = "elastic"
	SourceEndpoint EventSource = "endpoint"
	SourceNetwork  EventSource = "network"
	SourceFirewall EventSource = "firewall"
	SourceIDSIPS   EventSource = "ids_ips"
	SourceCustom   EventSource = "custom"
)

// EventType is the normalized classification of a security event.
type EventType string

const (
	EventLoginFailure       EventType = "login_failure"
	EventLoginSuccess       EventType = "login_success"
	EventMalwareDetected    EventType = "malware_detected"
	EventSuspiciousActivity EventType = "suspicious_activity"
	EventUnauthorizedAccess EventType = "unauthorized_access"
	EventDataExfiltration   EventType = "data_exfiltration"
	EventBruteForce         EventType = "brute_force"
	EventDDoS               EventType = "ddos"
	EventPhishing           EventType = "phishing"
	EventOther              EventType = "other"
)

// RawSeverity is the sensor-supplied severity indicator. Sensors send it as a
// JSON number or string; an empty value means it was not supplied.
type RawSeverity string

// UnmarshalJSON accepts numbers, strings and null.
func (s *RawSeverity) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = RawSeverity(str)
		return nil
	}
	*s = RawSeverity(data)
	return nil
}

// Float parses the severity. ok is false when it is missing or malformed.
func (s RawSeverity) Float() (v float64, ok bool) {
	str := strings.TrimSpace(string(s))
	if str == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(str, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Event is a normalized security occurrence. The core treats it as read-only.
type Event struct {
	ID            string                 `json:"id"`
	Source        EventSource            `json:"source"`
	Type          EventType              `json:"event_type"`
	Timestamp     string                 `json:"timestamp"`
	SourceIP      string                 `json:"source_ip,omitempty"`
	DestinationIP string                 `json:"destination_ip,omitempty"`
	User          string                 `json:"user,omitempty"`
	Hostname      string                 `json:"hostname,omitempty"`
	Title         string                 `json:"title,omitempty"`
	Description   string                 `json:"description,omitempty"`
	Severity      RawSeverity            `json:"severity_score,omitempty"`
	RawData       map[string]interface{} `json:"raw_data,omitempty"`
	// CreatedAt is the ingestion time assigned by the storage layer.
	CreatedAt time.Time `json:"created_at"`
}

// Text returns the lower-cased title and description used for keyword search.
func (e *Event) Text() string {
	return strings.ToLower(e.Title + " " + e.Description)
}

// Context carries short-window frequency counters computed by the caller.
type Context struct {
	SourceIPCount      int `json:"source_ip_count"`
	DestinationIPCount int `json:"destination_ip_count"`
	UserCount          int `json:"user_count"`
	SimilarEventsCount int `json:"similar_events_count"`
}

// Normalized resolves missing counters to their defaults: the three
// frequency counters default to 1 and the similar-event count to 0.
func (c Context) Normalized() Context {
	if c.SourceIPCount < 1 {
		c.SourceIPCount = 1
	}
	if c.DestinationIPCount < 1 {
		c.DestinationIPCount = 1
	}
	if c.UserCount < 1 {
		c.UserCount = 1
	}
	if c.SimilarEventsCount < 0 {
		c.SimilarEventsCount = 0
	}
	return c
}

// Observation is one (event, context) pair held in the rolling window.
type Observation struct {
	Event   Event   `json:"event"`
	Context Context `json:"context"`
}

// LabeledSample is a historical event with its analyst-assigned priority,
// used to train the priority classifier.
type LabeledSample struct {
	Event    Event    `json:"event"`
	Context  Context  `json:"context"`
	Priority Priority `json:"priority"`
}
