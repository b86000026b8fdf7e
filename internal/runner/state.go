package runner

// State of a simulation run.
type State int

const (
	Idle State = iota
	Running
	Complete
	// Errored means a non-zero exit whose output mentions an exception.
	Errored
	// Failed means a non-zero exit without an exception in the output.
	Failed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Complete:
		return "complete"
	case Errored:
		return "errored"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether s ends a run.
func (s State) Terminal() bool {
	return s == Complete || s == Errored || s == Failed || s == Cancelled
}
