package capture

// State is the recorder lifecycle: Idle -> Starting -> Recording -> Stopping -> Idle.
type State int32

const (
	Idle State = iota
	Starting
	Recording
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Recording:
		return "recording"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Active reports whether a capture session is (or is being) held.
func (s State) Active() bool { return s != Idle }

// Lit reports whether the torch must be on in this state.
func (s State) Lit() bool { return s == Starting || s == Recording }
