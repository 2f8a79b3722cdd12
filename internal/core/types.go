package core

// State is the lifecycle state of a subscription worker.
type State int

const (
	// StateActive accepts new messages and delivers them in order.
	StateActive State = iota
	// StateDraining accepts nothing new and finishes what is queued.
	StateDraining
	// StateStopped is terminal.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}
