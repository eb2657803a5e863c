package provider

// State is the scheduler phase.
type State int32

const (
	Idle State = iota
	Fetching
	Reconciling
	Storing
	// Done is terminal and only reached in one-shot mode.
	Done
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Fetching:
		return "fetching"
	case Reconciling:
		return "reconciling"
	case Storing:
		return "storing"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}
