// Package store keeps recently ingested events in memory. It assigns
// ingestion metadata, computes the short-window Context counters for new
// events and hands snapshots to the correlation pass.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/invisible-tech/threatcore/internal/types"
)

// Store is safe for concurrent use. Events are kept in ingestion order.
type Store struct {
	mu            sync.RWMutex
	events        []types.Event
	retention     time.Duration
	contextWindow time.Duration
	now           func() time.Time
}

// New creates a store that drops events older than retention and counts
// Context over contextWindow.
func New(retention, contextWindow time.Duration) *Store {
	return &Store{
		retention:     retention,
		contextWindow: contextWindow,
		now:           time.Now,
	}
}

// Add stores ev, stamping its ingestion time and assigning an ID when
// missing, and returns the stored copy.
func (s *Store) Add(ev types.Event) types.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	ev.CreatedAt = now
	s.events = append(s.events, ev)
	s.pruneLocked(now)
	return ev
}

// pruneLocked drops events older than the retention period.
func (s *Store) pruneLocked(now time.Time) {
	if s.retention <= 0 {
		return
	}
	cutoff := now.Add(-s.retention)
	i := sort.Search(len(s.events), func(i int) bool {
		return !s.events[i].CreatedAt.Before(cutoff)
	})
	if i > 0 {
		s.events = append(s.events[:0:0], s.events[i:]...)
	}
}

// Context counts stored events within the context window that share the
// event's source IP, destination IP and user (the event itself included),
// and events of the same type (the event itself excluded). A missing key
// field yields the default count of 1.
func (s *Store) Context(ev *types.Event) types.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()

	since := s.now().UTC().Add(-s.contextWindow)
	start := sort.Search(len(s.events), func(i int) bool {
		return !s.events[i].CreatedAt.Before(since)
	})
	var ctx types.Context
	for i := start; i < len(s.events); i++ {
		other := &s.events[i]
		if ev.SourceIP != "" && other.SourceIP == ev.SourceIP {
			ctx.SourceIPCount++
		}
		if ev.DestinationIP != "" && other.DestinationIP == ev.DestinationIP {
			ctx.DestinationIPCount++
		}
		if ev.User != "" && other.User == ev.User {
			ctx.UserCount++
		}
		if ev.Type != "" && other.Type == ev.Type && other.ID != ev.ID {
			ctx.SimilarEventsCount++
		}
	}
	return ctx.Normalized()
}

// Since returns a copy of the events created at or after since.
func (s *Store) Since(since time.Time) []types.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := sort.Search(len(s.events), func(i int) bool {
		return !s.events[i].CreatedAt.Before(since)
	})
	out := make([]types.Event, len(s.events)-i)
	copy(out, s.events[i:])
	return out
}

// Len returns the number of stored events.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}
