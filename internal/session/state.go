package session

import "fmt"

// State is the controller lifecycle state
type State int

const (
	StateIdle State = iota
	StateStarting
	StateListening
	StateStopping
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateListening:
		return "listening"
	case StateStopping:
		return "stopping"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText lets State appear as its name in JSON
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// StateListener is told about state transitions in order, outside the controller's lock.
// A transition overtaken by a later one before delivery is skipped.
type StateListener func(state State, err error)
