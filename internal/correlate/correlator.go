// Package correlate groups events inside a time window into candidate
// incidents: repeated activity from one source IP, one user seen from many
// addresses, and floods of a single event type.
package correlate

import (
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/invisible-tech/threatcore/internal/types"
)

// Correlation types.
const (
	TypeBruteForce         = "brute_force_attempt"
	TypeSuspiciousActivity = "suspicious_activity"
	TypeAccountCompromise  = "account_compromise"
	TypeEventFlood         = "event_flood"
)

// Grouping keys.
const (
	GroupSourceIP  = "source_ip"
	GroupUser      = "user"
	GroupEventType = "event_type"
)

// Correlation severities.
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
)

// Thresholds configure the correlation pass.
type Thresholds struct {
	Window                time.Duration
	SourceIPMinEvents     int
	BruteForceMinFailures int
	SuspiciousMinTypes    int
	UserMinEvents         int
	UserMinSourceIPs      int
	FloodMinEvents        int
}

// DefaultThresholds returns the standard correlation thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Window:                60 * time.Minute,
		SourceIPMinEvents:     5,
		BruteForceMinFailures: 3,
		SuspiciousMinTypes:    3,
		UserMinEvents:         10,
		UserMinSourceIPs:      3,
		FloodMinEvents:        20,
	}
}

// Correlator runs batch correlation passes. It only reads the events it is
// given.
type Correlator struct {
	th  Thresholds
	now func() time.Time
	log *logrus.Logger
}

// New creates a correlator.
func New(th Thresholds, log *logrus.Logger) *Correlator {
	return &Correlator{th: th, now: time.Now, log: log}
}

// Thresholds returns the active thresholds.
func (c *Correlator) Thresholds() Thresholds {
	return c.th
}

// Correlate runs every strategy over the events created within the window.
// Events without a creation time are always included. The result is empty,
// never nil, when nothing qualifies.
func (c *Correlator) Correlate(events []types.Event) []types.Correlation {
	detectedAt := c.now().UTC()
	inWindow := c.filterWindow(events, detectedAt)

	out := []types.Correlation{}
	out = append(out, c.bySourceIP(inWindow, detectedAt)...)
	out = append(out, c.byUser(inWindow, detectedAt)...)
	out = append(out, c.byEventType(inWindow, detectedAt)...)

	c.log.WithFields(logrus.Fields{
		"events":       len(inWindow),
		"correlations": len(out),
		"window":       c.th.Window.String(),
	}).Debug("Correlation pass complete")
	return out
}

func (c *Correlator) filterWindow(events []types.Event, now time.Time) []*types.Event {
	start := now.Add(-c.th.Window)
	out := make([]*types.Event, 0, len(events))
	for i := range events {
		ev := &events[i]
		if c.th.Window > 0 && !ev.CreatedAt.IsZero() && ev.CreatedAt.Before(start) {
			continue
		}
		out = append(out, ev)
	}
	return out
}

func (c *Correlator) bySourceIP(events []*types.Event, at time.Time) []types.Correlation {
	var out []types.Correlation
	groups := groupBy(events, func(e *types.Event) string { return e.SourceIP })
	for _, g := range groups {
		if len(g.events) < c.th.SourceIPMinEvents {
			continue
		}
		var failures []*types.Event
		eventTypes := sets.New[string]()
		for _, e := range g.events {
			if e.Type == types.EventLoginFailure {
				failures = append(failures, e)
			}
			eventTypes.Insert(string(e.Type))
		}
		if len(failures) >= c.th.BruteForceMinFailures {
			out = append(out, newCorrelation(TypeBruteForce, GroupSourceIP, g.key, SeverityHigh, failures, at))
		}
		if eventTypes.Len() >= c.th.SuspiciousMinTypes {
			corr := newCorrelation(TypeSuspiciousActivity, GroupSourceIP, g.key, SeverityMedium, g.events, at)
			corr.EventTypes = sets.List(eventTypes)
			out = append(out, corr)
		}
	}
	return out
}

func (c *Correlator) byUser(events []*types.Event, at time.Time) []types.Correlation {
	var out []types.Correlation
	groups := groupBy(events, func(e *types.Event) string { return e.User })
	for _, g := range groups {
		if len(g.events) < c.th.UserMinEvents {
			continue
		}
		sourceIPs := sets.New[string]()
		for _, e := range g.events {
			if e.SourceIP != "" {
				sourceIPs.Insert(e.SourceIP)
			}
		}
		if sourceIPs.Len() >= c.th.UserMinSourceIPs {
			corr := newCorrelation(TypeAccountCompromise, GroupUser, g.key, SeverityHigh, g.events, at)
			corr.SourceIPs = sets.List(sourceIPs)
			out = append(out, corr)
		}
	}
	return out
}

func (c *Correlator) byEventType(events []*types.Event, at time.Time) []types.Correlation {
	var out []types.Correlation
	groups := groupBy(events, func(e *types.Event) string { return string(e.Type) })
	for _, g := range groups {
		if len(g.events) >= c.th.FloodMinEvents {
			out = append(out, newCorrelation(TypeEventFlood, GroupEventType, g.key, SeverityMedium, g.events, at))
		}
	}
	return out
}

type group struct {
	key    string
	events []*types.Event
}

// groupBy buckets events by a non-empty key, keeping first-seen order.
func groupBy(events []*types.Event, key func(*types.Event) string) []*group {
	index := map[string]*group{}
	var out []*group
	for _, e := range events {
		k := key(e)
		if k == "" {
			continue
		}
		g, ok := index[k]
		if !ok {
			g = &group{key: k}
			index[k] = g
			out = append(out, g)
		}
		g.events = append(g.events, e)
	}
	return out
}

func newCorrelation(kind, groupBy, key, severity string, members []*types.Event, at time.Time) types.Correlation {
	ids := make([]string, len(members))
	for i, e := range members {
		ids[i] = e.ID
	}
	return types.Correlation{
		ID:         uuid.NewString(),
		Type:       kind,
		GroupBy:    groupBy,
		Key:        key,
		EventIDs:   ids,
		EventCount: len(ids),
		Severity:   severity,
		DetectedAt: at,
	}
}
