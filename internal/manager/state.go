package manager

// State is the externally observable lifecycle of one download job.
type State int32

const (
	Idle State = iota
	Probing
	Planning
	Running
	Paused
	Completed
	Failed
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Probing:
		return "probing"
	case Planning:
		return "planning"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// Terminal reports whether the state is one of the three final states.
func (s State) Terminal() bool {
	return s == Completed || s == Failed || s == Stopped
}
