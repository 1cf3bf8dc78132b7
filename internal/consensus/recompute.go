package consensus

import "github.com/kropbot/kropbot/internal/session"

// Recompute derives the aggregate state from a snapshot of live sessions.
// It is a pure function: the same snapshot always yields the same State,
// and Seq/UpdatedAt are left zero for the caller to stamp.
//
// The consensus direction is the one with the most votes. Ties go to the
// lowest direction code, so a tie involving None resolves to stop.
// Magnitude is the share of live sessions that voted for the winner.
func Recompute(sessions []session.Session) State {
	var st State
	for _, s := range sessions {
		if !s.Direction.Valid() {
			continue
		}
		st.TotalCounts[s.Direction]++
		st.NControllers++
	}

	if st.NControllers == 0 {
		st.Direction = session.None
		st.Magnitude = 0
		return st
	}

	best := session.None
	for i := 1; i < session.NumDirections; i++ {
		if st.TotalCounts[i] > st.TotalCounts[best] {
			best = session.Direction(i)
		}
	}
	st.Direction = best
	st.Magnitude = float64(st.TotalCounts[best]) / float64(st.NControllers)
	return st
}
