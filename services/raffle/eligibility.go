package raffle

import (
	"time"

	"github.com/holiman/uint256"
)

// DrawCondition is the input to the draw-due predicate.
type DrawCondition struct {
	State    State
	Entrants int
	Pot      *uint256.Int
	Elapsed  time.Duration
	Interval time.Duration
	// Starting is set while a randomness request is in flight.
	Starting bool
}

// Due reports whether a draw may start.
func (c DrawCondition) Due() bool {
	return c.Reason() == ""
}

// Reason names the first clause that blocks a draw, or "" when due.
func (c DrawCondition) Reason() string {
	switch {
	case c.State != StateOpen:
		return "raffle not open"
	case c.Starting:
		return "draw starting"
	case c.Entrants == 0:
		return "no entrants"
	case c.Pot == nil || c.Pot.IsZero():
		return "empty pot"
	case c.Elapsed < c.Interval:
		return "interval not elapsed"
	default:
		return ""
	}
}
