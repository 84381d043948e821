package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// OperatingState is the single live mode of the desktop application.
type OperatingState int

const (
	StateIdle OperatingState = iota
	StateCoder
	StateReviewer
	StateArchitect
	StateAirlock
)

var stateNames = [...]string{
	StateIdle:      "Idle",
	StateCoder:     "Coder",
	StateReviewer:  "Reviewer",
	StateArchitect: "Architect",
	StateAirlock:   "Airlock",
}

// AllStates lists every operating state in declaration order.
func AllStates() []OperatingState {
	return []OperatingState{StateIdle, StateCoder, StateReviewer, StateArchitect, StateAirlock}
}

func (s OperatingState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("OperatingState(%d)", int(s))
	}
	return stateNames[s]
}

// Valid reports whether s is a member of the closed enumeration.
func (s OperatingState) Valid() bool {
	return s >= 0 && int(s) < len(stateNames)
}

// ParseOperatingState matches a state name case-insensitively.
func ParseOperatingState(name string) (OperatingState, error) {
	n := strings.TrimSpace(name)
	for i, candidate := range stateNames {
		if strings.EqualFold(candidate, n) {
			return OperatingState(i), nil
		}
	}
	return StateIdle, NewDomainError("ParseOperatingState", ErrInvalidState, fmt.Sprintf("unknown state %q", name))
}

func (s OperatingState) MarshalJSON() ([]byte, error) {
	if !s.Valid() {
		return nil, NewDomainError("OperatingState.MarshalJSON", ErrInvalidState, s.String())
	}
	return json.Marshal(s.String())
}

func (s *OperatingState) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("operating state must be a string: %w", err)
	}
	parsed, err := ParseOperatingState(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// IdentityChange is the params body of a notifications/identityChange message.
type IdentityChange struct {
	Role string `json:"role"`
}
