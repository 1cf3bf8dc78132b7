package consensus

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/kropbot/kropbot/internal/session"
	"github.com/kropbot/kropbot/internal/telemetry"
)

// Publisher receives every recomputed state, in recompute order. Publish
// is called while the registry lock is held and must not block.
type Publisher interface {
	Publish(State)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(State)

func (f PublisherFunc) Publish(s State) { f(s) }

// Engine is the serialization point between incoming votes, evictions and
// the broadcast. Every mutation goes through the registry's *AndNotify
// methods, so recompute and publish happen under the same lock that
// applied the change.
type Engine struct {
	registry *session.Registry
	pub      Publisher
	now      func() time.Time
	metrics  *telemetry.Metrics

	seq     uint64 // guarded by the registry lock
	current atomic.Pointer[State]
}

func NewEngine(registry *session.Registry, pub Publisher) *Engine {
	return NewEngineWithClock(registry, pub, time.Now)
}

func NewEngineWithClock(registry *session.Registry, pub Publisher, now func() time.Time) *Engine {
	e := &Engine{
		registry: registry,
		pub:      pub,
		now:      now,
	}
	empty := Empty()
	empty.UpdatedAt = now()
	e.current.Store(&empty)
	return e
}

// SetMetrics attaches instrumentation. Must be called before use.
func (e *Engine) SetMetrics(m *telemetry.Metrics) {
	e.metrics = m
}

func (e *Engine) Registry() *session.Registry {
	return e.registry
}

// Current returns the most recently published state.
func (e *Engine) Current() State {
	return *e.current.Load()
}

// Submit records a vote for id and publishes the new aggregate. Invalid
// input is rejected without touching the registry or publishing.
func (e *Engine) Submit(id string, dir session.Direction) (State, error) {
	return e.SubmitFrom("", id, dir)
}

// SubmitFrom is Submit on behalf of a connection; see DisconnectFrom.
func (e *Engine) SubmitFrom(owner, id string, dir session.Direction) (State, error) {
	ctx := context.Background()
	var out State
	evicted, err := e.registry.UpsertOwned(id, owner, dir, func(snap []session.Session) {
		out = e.publishLocked(snap)
	})
	if err != nil {
		e.metrics.InstructionRejected(ctx, err)
		return e.Current(), err
	}
	e.metrics.InstructionAccepted(ctx)
	if len(evicted) > 0 {
		e.metrics.SessionsEvicted(ctx, len(evicted))
		log.Printf("engine: evicted %d stale session(s) %v", len(evicted), session.MaskIDs(evicted))
	}
	return out, nil
}

// Ping refreshes liveness for id without changing its vote. Nothing is
// published: the aggregate cannot change from a heartbeat alone.
func (e *Engine) Ping(id string) bool {
	return e.registry.Touch(id)
}

// Disconnect evicts ids immediately and publishes if any of them were live.
func (e *Engine) Disconnect(ids ...string) int {
	if len(ids) == 0 {
		return 0
	}
	return e.registry.RemoveAndNotify(ids, func(snap []session.Session) {
		e.publishLocked(snap)
	})
}

// DisconnectFrom evicts the ids owner last voted for. Ids another
// connection has voted for since are left alone.
func (e *Engine) DisconnectFrom(owner string, ids ...string) int {
	if len(ids) == 0 {
		return 0
	}
	return e.registry.RemoveOwnedAndNotify(owner, ids, func(snap []session.Session) {
		e.publishLocked(snap)
	})
}

// Sweep evicts sessions that have not refreshed within the registry
// timeout and publishes if any were evicted.
func (e *Engine) Sweep(now time.Time) []string {
	evicted := e.registry.EvictAndNotify(now, func(snap []session.Session) {
		e.publishLocked(snap)
	})
	if len(evicted) > 0 {
		e.metrics.SessionsEvicted(context.Background(), len(evicted))
	}
	return evicted
}

// publishLocked runs with the registry write lock held.
func (e *Engine) publishLocked(snap []session.Session) State {
	st := Recompute(snap)
	e.seq++
	st.Seq = e.seq
	st.UpdatedAt = e.now()
	e.current.Store(&st)
	if e.pub != nil {
		e.pub.Publish(st)
	}
	return st
}
