// Package mock simulates a robot and a handful of controllers so the
// server and its clients can be exercised without hardware.
package mock

import (
	"context"
	"log"
	"math/rand"
	"time"

	"github.com/kropbot/kropbot/internal/camera"
	"github.com/kropbot/kropbot/internal/consensus"
	"github.com/kropbot/kropbot/internal/monitor"
	"github.com/kropbot/kropbot/internal/session"
)

const tickInterval = 500 * time.Millisecond

type mockVoter struct {
	id      string
	pattern string
	dir     session.Direction
	gone    bool
}

// FrameSink receives synthetic camera frames, normally the broadcaster.
type FrameSink interface {
	RelayFrame(frame []byte)
}

type Generator struct {
	engine *consensus.Engine
	sink   FrameSink
	feed   *monitor.FeedHealth
	source camera.Source
	fps    int
	rng    *rand.Rand
	voters []*mockVoter
}

func NewGenerator(engine *consensus.Engine, sink FrameSink, feed *monitor.FeedHealth) *Generator {
	return &Generator{
		engine: engine,
		sink:   sink,
		feed:   feed,
		source: camera.NewSynthetic(0, 0, 0),
		fps:    camera.DefaultFPS,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		voters: []*mockVoter{
			{id: "mock-steady", pattern: "steady", dir: session.Forward},
			{id: "mock-wander", pattern: "wander", dir: session.TurnLeft},
			{id: "mock-stall", pattern: "stall", dir: session.Forward},
			{id: "mock-leave", pattern: "leave", dir: session.ForwardRight},
		},
	}
}

// Start submits the initial votes synchronously, then runs the voters and
// the camera feed until ctx is cancelled.
func (g *Generator) Start(ctx context.Context) {
	for _, v := range g.voters {
		g.vote(v)
	}
	go g.run(ctx)
	go g.stream(ctx)
}

func (g *Generator) run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick++
			g.step(tick)
		}
	}
}

func (g *Generator) step(tick int) {
	for _, v := range g.voters {
		switch v.pattern {
		case "steady":
			g.advanceSteady(v, tick)
		case "wander":
			g.advanceWander(v, tick)
		case "stall":
			g.advanceStall(v, tick)
		case "leave":
			g.advanceLeave(v, tick)
		}
	}
}

func (g *Generator) vote(v *mockVoter) {
	if _, err := g.engine.Submit(v.id, v.dir); err != nil {
		log.Printf("mock: submit %s: %v", v.id, err)
	}
}

// advanceSteady holds one direction, refreshing like a held key.
func (g *Generator) advanceSteady(v *mockVoter, tick int) {
	if tick%3 == 0 {
		g.vote(v)
	} else {
		g.engine.Ping(v.id)
	}
}

// advanceWander changes its mind every few ticks.
func (g *Generator) advanceWander(v *mockVoter, tick int) {
	if tick%4 == 0 {
		v.dir = session.Direction(1 + g.rng.Intn(session.NumDirections-1))
		g.vote(v)
		return
	}
	g.engine.Ping(v.id)
}

// advanceStall goes silent long enough to be evicted by the sweeper, then
// comes back.
func (g *Generator) advanceStall(v *mockVoter, tick int) {
	const cyclePeriod = 40
	phase := tick % cyclePeriod
	if phase >= 10 && phase < 25 {
		return
	}
	if phase == 25 {
		g.vote(v)
		return
	}
	g.engine.Ping(v.id)
}

// advanceLeave releases its key, disconnects and rejoins later.
func (g *Generator) advanceLeave(v *mockVoter, tick int) {
	const cyclePeriod = 60
	switch phase := tick % cyclePeriod; {
	case phase == 20:
		v.dir = session.None
		g.vote(v)
	case phase == 24:
		g.engine.Disconnect(v.id)
		v.gone = true
	case phase == 40:
		v.gone = false
		v.dir = session.ForwardRight
		g.vote(v)
	case !v.gone:
		g.engine.Ping(v.id)
	}
}

// stream plays the part of a connected robot.
func (g *Generator) stream(ctx context.Context) {
	if g.sink == nil {
		return
	}
	if g.feed != nil {
		g.feed.RecordConnect()
	}
	err := camera.Stream(ctx, g.source, g.fps, func(frame []byte) error {
		if g.feed != nil {
			g.feed.RecordFrame()
		}
		g.sink.RelayFrame(frame)
		return nil
	})
	if g.feed != nil {
		if ctx.Err() != nil {
			err = nil
		}
		g.feed.RecordDisconnect(err)
	}
}
