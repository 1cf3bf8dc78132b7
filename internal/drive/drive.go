// Package drive turns the consensus into differential motor commands for
// a two-wheeled robot.
package drive

import (
	"log"
	"strconv"
	"sync"

	"github.com/kropbot/kropbot/internal/consensus"
	"github.com/kropbot/kropbot/internal/session"
)

const (
	// SpeedMultiplier scales a 0..1 magnitude to motor speed units.
	SpeedMultiplier = 200
	// MaxSpeed is the motor controller's limit.
	MaxSpeed = 255
)

// Motor is one wheel's command.
type Motor struct {
	Forward bool `json:"forward"`
	Speed   int  `json:"speed"`
}

// Command drives both wheels. The zero value is all-stop.
type Command struct {
	Left  Motor `json:"left"`
	Right Motor `json:"right"`
}

func (c Command) Stopped() bool {
	return c.Left.Speed == 0 && c.Right.Speed == 0
}

type wheel struct {
	forward    bool
	multiplier float64
}

// Per-direction wheel settings. Straight lines run both wheels; turns run
// them in opposition; diagonals favour the outer wheel.
var table = map[session.Direction][2]wheel{
	session.ForwardRight:  {{true, 0.75}, {true, 0.5}},
	session.TurnRight:     {{true, 0.5}, {false, 0.5}},
	session.BackwardRight: {{false, 0.75}, {false, 0.5}},
	session.Backward:      {{false, 1}, {false, 1}},
	session.BackwardLeft:  {{false, 0.5}, {false, 0.75}},
	session.TurnLeft:      {{false, 0.5}, {true, 0.5}},
	session.ForwardLeft:   {{true, 0.5}, {true, 0.75}},
	session.Forward:       {{true, 1.5}, {true, 1.5}},
}

// Mix converts a consensus state to a motor command. No direction, or a
// direction outside the table, stops both wheels.
func Mix(st consensus.State) Command {
	w, ok := table[st.Direction]
	if !ok || st.Magnitude <= 0 {
		return Command{}
	}
	return Command{
		Left:  motor(w[0], st.Magnitude),
		Right: motor(w[1], st.Magnitude),
	}
}

func motor(w wheel, magnitude float64) Motor {
	speed := int(w.multiplier * magnitude * SpeedMultiplier)
	if speed > MaxSpeed {
		speed = MaxSpeed
	}
	return Motor{Forward: w.forward, Speed: speed}
}

// Motors is the hardware boundary.
type Motors interface {
	Apply(Command) error
	// Release lets both wheels spin freely. Called on shutdown and when
	// contact with the server is lost.
	Release() error
}

// LogMotors stands in for real hardware and logs every change.
type LogMotors struct {
	mu       sync.Mutex
	last     Command
	released bool
}

func NewLogMotors() *LogMotors {
	return &LogMotors{released: true}
}

func (m *LogMotors) Apply(c Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c == m.last && !m.released {
		return nil
	}
	m.last = c
	m.released = false
	log.Printf("motors: left %s right %s", c.Left, c.Right)
	return nil
}

func (m *LogMotors) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.released {
		return nil
	}
	m.last = Command{}
	m.released = true
	log.Printf("motors: released")
	return nil
}

// Last returns the most recent command and whether the motors are
// currently released.
func (m *LogMotors) Last() (Command, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, m.released
}

func (m Motor) String() string {
	if m.Speed == 0 {
		return "stop"
	}
	dir := "fwd"
	if !m.Forward {
		dir = "rev"
	}
	return dir + "@" + strconv.Itoa(m.Speed)
}
