package health

import "fmt"

/* State classifies a target (service instance or webhook subscription)
 * from its recent probe or call outcomes
 */
type State int

const (
	Healthy State = iota + 1
	Degraded
	Unhealthy
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case Unhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// NewState creates a State from a string
func NewState(str string) State {
	switch str {
	case "healthy":
		return Healthy
	case "degraded":
		return Degraded
	case "unhealthy":
		return Unhealthy
	default:
		return Unhealthy
	}
}

// Validate checks if the state is valid
func (s State) Validate() error {
	if s < Healthy || s > Unhealthy {
		return fmt.Errorf("invalid health state: %d", s)
	}
	return nil
}

// Routable returns true if a target in this state may receive traffic
func (s State) Routable() bool {
	return s == Healthy || s == Degraded
}
