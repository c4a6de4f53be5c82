package raffle

import (
	"encoding/json"
	"fmt"
	"strings"
)

// State is the raffle lifecycle state.
type State int32

const (
	// StateOpen accepts entries.
	StateOpen State = iota

	// StateCalculating waits for randomness and the payout; entries are refused.
	StateCalculating
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateCalculating:
		return "CALCULATING"
	default:
		return fmt.Sprintf("STATE(%d)", s)
	}
}

// MarshalJSON implements json.Marshaler.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *State) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	parsed, err := ParseState(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseState converts a string to State.
func ParseState(s string) (State, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "OPEN", "0":
		return StateOpen, nil
	case "CALCULATING", "1":
		return StateCalculating, nil
	default:
		return 0, fmt.Errorf("unknown raffle state %q", s)
	}
}
