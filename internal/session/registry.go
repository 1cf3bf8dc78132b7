package session

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrEmptyID is returned when a session id is blank.
var ErrEmptyID = errors.New("empty session id")

// DefaultTimeout is how long a session stays live without a refresh. Clients
// re-send every 1.5s, so one missed refresh is tolerated.
const DefaultTimeout = 3 * time.Second

// Session is one client's vote. Values returned by the registry are copies.
type Session struct {
	ID        string    `json:"id"`
	Direction Direction `json:"direction"`
	FirstSeen time.Time `json:"firstSeen"`
	LastSeen  time.Time `json:"lastSeen"`
	// Owner names the connection that last voted for this id, if any.
	Owner string `json:"-"`
}

// Live reports whether the session has been refreshed within timeout of now.
func (s Session) Live(now time.Time, timeout time.Duration) bool {
	return now.Sub(s.LastSeen) <= timeout
}

// Registry owns every session record. All mutation goes through its
// methods; the *AndNotify variants run notify with the post-mutation
// snapshot while the write lock is still held, so observers see changes in
// the order they were applied.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	timeout  time.Duration
	now      func() time.Time
}

func NewRegistry(timeout time.Duration) *Registry {
	return NewRegistryWithClock(timeout, time.Now)
}

func NewRegistryWithClock(timeout time.Duration, now func() time.Time) *Registry {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Registry{
		sessions: make(map[string]*Session),
		timeout:  timeout,
		now:      now,
	}
}

func (r *Registry) Timeout() time.Duration {
	return r.timeout
}

func (r *Registry) Get(id string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Snapshot returns copies of all sessions sorted by id.
func (r *Registry) Snapshot() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Upsert creates or refreshes a session with the given direction.
func (r *Registry) Upsert(id string, dir Direction) error {
	return r.UpsertAndNotify(id, dir, nil)
}

// UpsertAndNotify records the vote, drops any sessions that have gone
// stale, and calls notify with the resulting snapshot. Invalid input leaves
// the registry untouched and notify is not called.
func (r *Registry) UpsertAndNotify(id string, dir Direction, notify func([]Session)) error {
	_, err := r.UpsertOwned(id, "", dir, notify)
	return err
}

// UpsertOwned is UpsertAndNotify that also stamps owner on the session and
// returns the ids evicted as stale along the way.
func (r *Registry) UpsertOwned(id, owner string, dir Direction, notify func([]Session)) ([]string, error) {
	if id == "" {
		return nil, ErrEmptyID
	}
	if !dir.Valid() {
		return nil, ErrInvalidDirection
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if s, ok := r.sessions[id]; ok {
		s.Direction = dir
		s.Owner = owner
		if now.After(s.LastSeen) {
			s.LastSeen = now
		}
	} else {
		r.sessions[id] = &Session{
			ID:        id,
			Direction: dir,
			FirstSeen: now,
			LastSeen:  now,
			Owner:     owner,
		}
	}
	evicted := r.evictLocked(now)

	if notify != nil {
		notify(r.snapshotLocked())
	}
	return evicted, nil
}

// Touch refreshes last-seen without changing the vote. It reports false for
// an unknown id; a heartbeat never creates a session.
func (r *Registry) Touch(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	if now := r.now(); now.After(s.LastSeen) {
		s.LastSeen = now
	}
	return true
}

func (r *Registry) Remove(id string) bool {
	return r.RemoveAndNotify([]string{id}, nil) == 1
}

// RemoveAndNotify deletes the given ids and returns how many existed.
// notify runs only if something was removed.
func (r *Registry) RemoveAndNotify(ids []string, notify func([]Session)) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for _, id := range ids {
		if _, ok := r.sessions[id]; ok {
			delete(r.sessions, id)
			removed++
		}
	}
	if removed > 0 && notify != nil {
		notify(r.snapshotLocked())
	}
	return removed
}

// RemoveOwnedAndNotify deletes those of ids still owned by owner, leaving
// sessions another connection has since voted for. notify runs only if
// something was removed.
func (r *Registry) RemoveOwnedAndNotify(owner string, ids []string, notify func([]Session)) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for _, id := range ids {
		if s, ok := r.sessions[id]; ok && s.Owner == owner {
			delete(r.sessions, id)
			removed++
		}
	}
	if removed > 0 && notify != nil {
		notify(r.snapshotLocked())
	}
	return removed
}

// Evict removes every session whose last refresh is older than the timeout
// relative to now and returns the evicted ids.
func (r *Registry) Evict(now time.Time) []string {
	return r.EvictAndNotify(now, nil)
}

// EvictAndNotify is Evict with a notify callback that runs only when at
// least one session was evicted.
func (r *Registry) EvictAndNotify(now time.Time, notify func([]Session)) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := r.evictLocked(now)
	if len(evicted) > 0 && notify != nil {
		notify(r.snapshotLocked())
	}
	return evicted
}

// evictLocked requires r.mu held for writing.
func (r *Registry) evictLocked(now time.Time) []string {
	var evicted []string
	for id, s := range r.sessions {
		if !s.Live(now, r.timeout) {
			delete(r.sessions, id)
			evicted = append(evicted, id)
		}
	}
	sort.Strings(evicted)
	return evicted
}

func (r *Registry) snapshotLocked() []Session {
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
