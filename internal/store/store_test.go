package store

import (
	"testing"
	"time"

	"github.com/invisible-tech/threatcore/internal/types"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestStore(retention, window time.Duration) (*Store, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 3, 12, 12, 0, 0, 0, time.UTC)}
	s := New(retention, window)
	s.now = clock.now
	return s, clock
}

func TestStore_AddAssignsMetadata(t *testing.T) {
	s, clock := newTestStore(24*time.Hour, time.Hour)
	stored := s.Add(types.Event{Type: types.EventOther, CreatedAt: time.Unix(0, 0)})
	if stored.ID == "" {
		t.Error("ID not assigned")
	}
	if !stored.CreatedAt.Equal(clock.t) {
		t.Errorf("CreatedAt = %v, want %v", stored.CreatedAt, clock.t)
	}
	kept := s.Add(types.Event{ID: "given"})
	if kept.ID != "given" {
		t.Errorf("ID overwritten: %q", kept.ID)
	}
}

func TestStore_Context(t *testing.T) {
	s, clock := newTestStore(24*time.Hour, time.Hour)

	old := types.Event{SourceIP: "10.0.0.1", User: "alice", Type: types.EventLoginFailure}
	s.Add(old)
	clock.t = clock.t.Add(2 * time.Hour)

	for i := 0; i < 3; i++ {
		s.Add(types.Event{SourceIP: "10.0.0.1", DestinationIP: "10.9.9.9", User: "alice", Type: types.EventLoginFailure})
	}
	s.Add(types.Event{SourceIP: "10.0.0.2", User: "bob", Type: types.EventLoginSuccess})
	ev := s.Add(types.Event{SourceIP: "10.0.0.1", User: "alice", Type: types.EventLoginFailure})

	ctx := s.Context(&ev)
	want := types.Context{SourceIPCount: 4, DestinationIPCount: 1, UserCount: 4, SimilarEventsCount: 3}
	if ctx != want {
		t.Errorf("Context = %+v, want %+v", ctx, want)
	}
}

func TestStore_ContextDefaults(t *testing.T) {
	s, _ := newTestStore(time.Hour, time.Hour)
	ctx := s.Context(&types.Event{ID: "x", Type: types.EventDDoS})
	want := types.Context{SourceIPCount: 1, DestinationIPCount: 1, UserCount: 1}
	if ctx != want {
		t.Errorf("Context = %+v, want %+v", ctx, want)
	}
}

func TestStore_RetentionAndSince(t *testing.T) {
	s, clock := newTestStore(time.Hour, time.Hour)
	start := clock.t
	s.Add(types.Event{ID: "a"})
	clock.t = start.Add(30 * time.Minute)
	s.Add(types.Event{ID: "b"})
	clock.t = start.Add(90 * time.Minute)
	s.Add(types.Event{ID: "c"})

	if s.Len() != 2 {
		t.Fatalf("Len = %d, want 2 after pruning", s.Len())
	}
	got := s.Since(start.Add(45 * time.Minute))
	if len(got) != 1 || got[0].ID != "c" {
		t.Errorf("Since = %+v", got)
	}
	all := s.Since(time.Time{})
	if len(all) != 2 || all[0].ID != "b" {
		t.Errorf("Since(zero) = %+v", all)
	}
}

func TestStore_ContextIgnoresRetainedEventsOutsideWindow(t *testing.T) {
	s, clock := newTestStore(24*time.Hour, time.Minute)
	start := clock.t
	for i := 0; i < 500; i++ {
		clock.t = start.Add(time.Duration(i) * time.Second)
		s.Add(types.Event{SourceIP: "10.0.0.1", User: "alice", Type: types.EventBruteForce})
	}
	// Exactly on the window edge counts.
	clock.t = start.Add(10 * time.Minute)
	s.Add(types.Event{SourceIP: "10.0.0.1", User: "alice", Type: types.EventBruteForce})
	clock.t = clock.t.Add(time.Minute)
	ev := s.Add(types.Event{SourceIP: "10.0.0.1", User: "alice", Type: types.EventBruteForce})

	if s.Len() != 502 {
		t.Fatalf("Len = %d, want 502 retained", s.Len())
	}
	ctx := s.Context(&ev)
	want := types.Context{SourceIPCount: 2, DestinationIPCount: 1, UserCount: 2, SimilarEventsCount: 1}
	if ctx != want {
		t.Errorf("Context = %+v, want %+v", ctx, want)
	}
}
