package consensus

import (
	"context"
	"testing"
	"time"

	"github.com/kropbot/kropbot/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepOnceEvictsStale(t *testing.T) {
	e, rec, clock := newTestEngine(3 * time.Second)
	e.Submit("a", session.Forward)
	e.Submit("b", session.Forward)

	s := NewSweeper(e, 0)
	assert.Equal(t, DefaultSweepInterval, s.interval)
	s.now = clock.Now

	evicted, err := s.SweepOnce()
	require.NoError(t, err)
	assert.Empty(t, evicted)

	clock.Advance(2 * time.Second)
	e.Ping("b")
	clock.Advance(2 * time.Second)

	evicted, err = s.SweepOnce()
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, evicted)
	assert.Equal(t, 1, rec.last().NControllers)
}

func TestSweepOnceRecoversPanic(t *testing.T) {
	clock := newTestClock()
	reg := session.NewRegistryWithClock(time.Second, clock.Now)
	armed := false
	e := NewEngineWithClock(reg, PublisherFunc(func(State) {
		if armed {
			panic("publisher exploded")
		}
	}), clock.Now)
	e.Submit("a", session.Forward)

	s := NewSweeper(e, time.Millisecond)
	s.now = clock.Now
	armed = true
	clock.Advance(2 * time.Second)

	var err error
	assert.NotPanics(t, func() { _, err = s.SweepOnce() })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publisher exploded")
	assert.Equal(t, 1, s.panics)

	// The registry lock was released and the session is gone.
	assert.Equal(t, 0, reg.Len())
	armed = false
	_, err = e.Submit("b", session.Backward)
	require.NoError(t, err)
}

func TestSweeperRunStopsOnCancel(t *testing.T) {
	e, rec, _ := newTestEngine(50 * time.Millisecond)
	e.Submit("a", session.Forward)

	s := NewSweeper(e, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
	assert.Len(t, rec.all(), 1)
}

func TestSweeperRunEvictsWithRealClock(t *testing.T) {
	reg := session.NewRegistry(30 * time.Millisecond)
	rec := &recorder{}
	e := NewEngine(reg, rec)
	e.Submit("a", session.Forward)

	s := NewSweeper(e, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	assert.Eventually(t, func() bool {
		return e.Current().NControllers == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, session.None, rec.last().Direction)
}
