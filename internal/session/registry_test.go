package session

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestNewRegistry(t *testing.T) {
	r := NewRegistry(0)
	if r.Timeout() != DefaultTimeout {
		t.Errorf("Timeout() = %v, want %v", r.Timeout(), DefaultTimeout)
	}
	if got := len(r.Snapshot()); got != 0 {
		t.Errorf("new registry has %d sessions, want 0", got)
	}
}

func TestUpsertCreatesSession(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistryWithClock(3*time.Second, clock.Now)

	if err := r.Upsert("a", Backward); err != nil {
		t.Fatalf("Upsert error: %v", err)
	}

	s, ok := r.Get("a")
	if !ok {
		t.Fatal("Get returned ok=false after Upsert")
	}
	if s.Direction != Backward {
		t.Errorf("Direction = %v, want %v", s.Direction, Backward)
	}
	if !s.LastSeen.Equal(clock.Now()) || !s.FirstSeen.Equal(clock.Now()) {
		t.Errorf("timestamps = %v/%v, want %v", s.FirstSeen, s.LastSeen, clock.Now())
	}
}

func TestUpsertRefreshesExisting(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistryWithClock(3*time.Second, clock.Now)
	start := clock.Now()

	r.Upsert("a", Backward)
	clock.Advance(time.Second)
	r.Upsert("a", TurnLeft)

	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 (one session per id)", r.Len())
	}
	s, _ := r.Get("a")
	if s.Direction != TurnLeft {
		t.Errorf("Direction = %v, want %v", s.Direction, TurnLeft)
	}
	if !s.FirstSeen.Equal(start) {
		t.Errorf("FirstSeen changed to %v", s.FirstSeen)
	}
	if !s.LastSeen.Equal(start.Add(time.Second)) {
		t.Errorf("LastSeen = %v, want %v", s.LastSeen, start.Add(time.Second))
	}
}

func TestUpsertLastSeenNeverDecreases(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistryWithClock(3*time.Second, clock.Now)
	start := clock.Now()

	r.Upsert("a", Forward)
	clock.Set(start.Add(-500 * time.Millisecond))
	r.Upsert("a", Backward)
	r.Touch("a")

	s, _ := r.Get("a")
	if s.LastSeen.Before(start) {
		t.Errorf("LastSeen went backwards: %v < %v", s.LastSeen, start)
	}
	if s.Direction != Backward {
		t.Errorf("Direction = %v, want %v", s.Direction, Backward)
	}
}

func TestUpsertRejectsInvalidInput(t *testing.T) {
	r := NewRegistry(time.Second)
	r.Upsert("a", Forward)

	if err := r.Upsert("a", Direction(9)); !errors.Is(err, ErrInvalidDirection) {
		t.Errorf("Upsert(9) error = %v, want ErrInvalidDirection", err)
	}
	if err := r.Upsert("b", Direction(200)); !errors.Is(err, ErrInvalidDirection) {
		t.Errorf("Upsert(200) error = %v, want ErrInvalidDirection", err)
	}
	if err := r.Upsert("", Forward); !errors.Is(err, ErrEmptyID) {
		t.Errorf("Upsert(\"\") error = %v, want ErrEmptyID", err)
	}

	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1; rejected input created a session", r.Len())
	}
	s, _ := r.Get("a")
	if s.Direction != Forward {
		t.Errorf("rejected input modified session: %v", s.Direction)
	}
}

func TestUpsertAndNotifySkipsNotifyOnError(t *testing.T) {
	r := NewRegistry(time.Second)
	called := false
	r.UpsertAndNotify("a", Direction(10), func([]Session) { called = true })
	if called {
		t.Error("notify called for rejected upsert")
	}
}

func TestUpsertAndNotifyPrunesStale(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistryWithClock(3*time.Second, clock.Now)

	r.Upsert("old", Forward)
	clock.Advance(3*time.Second + time.Millisecond)

	var snap []Session
	r.UpsertAndNotify("new", Backward, func(s []Session) { snap = s })

	if len(snap) != 1 || snap[0].ID != "new" {
		t.Errorf("snapshot = %+v, want only 'new'", snap)
	}
	if _, ok := r.Get("old"); ok {
		t.Error("stale session survived upsert")
	}
}

func TestUpsertOwnedReportsEvicted(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistryWithClock(3*time.Second, clock.Now)

	r.Upsert("old-b", Forward)
	r.Upsert("old-a", Forward)
	clock.Advance(3*time.Second + time.Millisecond)

	evicted, err := r.UpsertOwned("new", "conn-1", Backward, nil)
	if err != nil {
		t.Fatal(err)
	}
	if fmt.Sprint(evicted) != "[old-a old-b]" {
		t.Errorf("evicted = %v, want [old-a old-b]", evicted)
	}
	s, _ := r.Get("new")
	if s.Owner != "conn-1" {
		t.Errorf("owner = %q, want conn-1", s.Owner)
	}

	if _, err := r.UpsertOwned("", "conn-1", Forward, nil); !errors.Is(err, ErrEmptyID) {
		t.Errorf("empty id err = %v", err)
	}
}

func TestRemoveOwnedAndNotify(t *testing.T) {
	r := NewRegistry(time.Minute)
	r.UpsertOwned("alice", "conn-1", Forward, nil)
	r.UpsertOwned("bob", "conn-1", Forward, nil)
	// alice reconnected on a new socket.
	r.UpsertOwned("alice", "conn-2", Backward, nil)
	r.Touch("bob")

	var snap []Session
	if n := r.RemoveOwnedAndNotify("conn-1", []string{"alice", "bob"}, func(s []Session) { snap = s }); n != 1 {
		t.Errorf("removed %d, want 1", n)
	}
	if len(snap) != 1 || snap[0].ID != "alice" || snap[0].Direction != Backward {
		t.Errorf("snapshot = %+v, want alice kept with her new vote", snap)
	}

	calls := 0
	if n := r.RemoveOwnedAndNotify("conn-3", []string{"alice"}, func([]Session) { calls++ }); n != 0 || calls != 0 {
		t.Errorf("stranger removed %d and notified %d times", n, calls)
	}
	if n := r.RemoveOwnedAndNotify("conn-2", []string{"alice"}, nil); n != 1 {
		t.Errorf("owner removed %d, want 1", n)
	}
}

func TestTouch(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistryWithClock(3*time.Second, clock.Now)

	if r.Touch("missing") {
		t.Error("Touch on unknown id returned true")
	}
	if r.Len() != 0 {
		t.Error("Touch created a session")
	}

	r.Upsert("a", TurnRight)
	clock.Advance(2 * time.Second)
	if !r.Touch("a") {
		t.Fatal("Touch on known id returned false")
	}

	s, _ := r.Get("a")
	if !s.LastSeen.Equal(clock.Now()) {
		t.Errorf("LastSeen = %v, want %v", s.LastSeen, clock.Now())
	}
	if s.Direction != TurnRight {
		t.Errorf("Touch changed direction to %v", s.Direction)
	}
}

func TestRemove(t *testing.T) {
	r := NewRegistry(time.Second)
	r.Upsert("a", Forward)
	r.Upsert("b", Forward)

	if !r.Remove("a") {
		t.Error("Remove(a) returned false")
	}
	if r.Remove("a") {
		t.Error("second Remove(a) returned true")
	}
	if _, ok := r.Get("b"); !ok {
		t.Error("Remove of 'a' also removed 'b'")
	}
}

func TestRemoveAndNotify(t *testing.T) {
	r := NewRegistry(time.Second)
	r.Upsert("a", Forward)
	r.Upsert("b", Forward)

	calls := 0
	if n := r.RemoveAndNotify([]string{"x", "y"}, func([]Session) { calls++ }); n != 0 {
		t.Errorf("removed %d unknown ids", n)
	}
	if calls != 0 {
		t.Error("notify called when nothing was removed")
	}

	var snap []Session
	if n := r.RemoveAndNotify([]string{"a", "x"}, func(s []Session) { snap = s }); n != 1 {
		t.Errorf("RemoveAndNotify removed %d, want 1", n)
	}
	if len(snap) != 1 || snap[0].ID != "b" {
		t.Errorf("snapshot = %+v, want only b", snap)
	}
}

func TestEvict(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistryWithClock(3*time.Second, clock.Now)

	r.Upsert("a", Forward)
	r.Upsert("b", Backward)
	clock.Advance(2 * time.Second)
	r.Upsert("c", TurnLeft)

	// Exactly at the timeout boundary is still live.
	clock.Advance(time.Second)
	if evicted := r.Evict(clock.Now()); len(evicted) != 0 {
		t.Errorf("evicted %v at the boundary", evicted)
	}

	clock.Advance(time.Millisecond)
	evicted := r.Evict(clock.Now())
	if len(evicted) != 2 || evicted[0] != "a" || evicted[1] != "b" {
		t.Errorf("evicted = %v, want [a b]", evicted)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestEvictAndNotify(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistryWithClock(time.Second, clock.Now)
	r.Upsert("a", Forward)

	calls := 0
	r.EvictAndNotify(clock.Now(), func([]Session) { calls++ })
	if calls != 0 {
		t.Error("notify called without evictions")
	}

	clock.Advance(2 * time.Second)
	var snap []Session
	r.EvictAndNotify(clock.Now(), func(s []Session) {
		calls++
		snap = s
	})
	if calls != 1 {
		t.Errorf("notify calls = %d, want 1", calls)
	}
	if len(snap) != 0 {
		t.Errorf("snapshot after eviction = %+v, want empty", snap)
	}
}

func TestSnapshotSortedAndCopied(t *testing.T) {
	r := NewRegistry(time.Second)
	r.Upsert("c", Forward)
	r.Upsert("a", Forward)
	r.Upsert("b", Forward)

	snap := r.Snapshot()
	for i, want := range []string{"a", "b", "c"} {
		if snap[i].ID != want {
			t.Errorf("snap[%d] = %s, want %s", i, snap[i].ID, want)
		}
	}

	snap[0].Direction = Backward
	s, _ := r.Get("a")
	if s.Direction != Forward {
		t.Error("Snapshot did not return copies; mutation leaked into registry")
	}
}

func TestConcurrentUpserts(t *testing.T) {
	r := NewRegistry(time.Minute)
	var wg sync.WaitGroup
	const goroutines = 50

	for i := 0; i < goroutines; i++ {
		wg.Add(2)
		go func(id string, dir Direction) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				r.Upsert(id, dir)
				r.Touch(id)
			}
		}(fmt.Sprintf("s%d", i), Direction(i%8+1))

		go func() {
			defer wg.Done()
			r.Snapshot()
			r.Len()
		}()
	}
	wg.Wait()

	if r.Len() != goroutines {
		t.Fatalf("Len() = %d, want %d", r.Len(), goroutines)
	}
	for i := 0; i < goroutines; i++ {
		s, _ := r.Get(fmt.Sprintf("s%d", i))
		if s.Direction != Direction(i%8+1) {
			t.Errorf("session s%d direction = %v, want %v", i, s.Direction, Direction(i%8+1))
		}
	}
}
