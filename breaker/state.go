package breaker

import "fmt"

/* State represents the circuit breaker state for a protected name
 * Follows the transitions: Closed -> Open -> HalfOpen -> Closed/Open
 */
type State int

const (
	Closed State = iota + 1
	Open
	HalfOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// NewState creates a State from a string
func NewState(str string) State {
	switch str {
	case "closed":
		return Closed
	case "open":
		return Open
	case "half_open":
		return HalfOpen
	default:
		return Closed
	}
}

// Validate checks if the state is valid
func (s State) Validate() error {
	if s < Closed || s > HalfOpen {
		return fmt.Errorf("invalid circuit state: %d", s)
	}
	return nil
}
