// Package consensus turns the live session set into one steering decision
// and keeps that decision current as votes arrive and sessions expire.
package consensus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kropbot/kropbot/internal/session"
)

// Counts holds the number of live sessions per direction, indexed by
// direction code. It is a value type so a State can be copied and compared
// without aliasing.
type Counts [session.NumDirections]int

// Total returns the sum over all directions.
func (c Counts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}

func (c Counts) Get(d session.Direction) int {
	if !d.Valid() {
		return 0
	}
	return c[d]
}

// MarshalJSON encodes every direction, zero entries included, keyed by the
// direction's text form ("none", "1".."8").
func (c Counts) MarshalJSON() ([]byte, error) {
	m := make(map[session.Direction]int, len(c))
	for i, v := range c {
		m[session.Direction(i)] = v
	}
	return json.Marshal(m)
}

func (c *Counts) UnmarshalJSON(data []byte) error {
	var m map[session.Direction]int
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("total_counts: %w", err)
	}
	*c = Counts{}
	for d, v := range m {
		c[d] = v
	}
	return nil
}

// State is the aggregate view broadcast to clients. A State is never
// mutated after it is published; each recompute produces a new one.
type State struct {
	Direction    session.Direction `json:"direction"`
	Magnitude    float64           `json:"magnitude"`
	NControllers int               `json:"n_controllers"`
	TotalCounts  Counts            `json:"total_counts"`
	Seq          uint64            `json:"seq"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Empty is the state with no live sessions.
func Empty() State {
	return Recompute(nil)
}

// SameDecision reports whether two states agree on everything except the
// recompute metadata (Seq, UpdatedAt).
func (s State) SameDecision(o State) bool {
	return s.Direction == o.Direction &&
		s.Magnitude == o.Magnitude &&
		s.NControllers == o.NControllers &&
		s.TotalCounts == o.TotalCounts
}
