package conversation

// State is a step of the exchange state machine:
// Idle -> Sending -> Streaming -> Finalizing|RollingBack -> Idle.
type State int

const (
	Idle State = iota
	Sending
	Streaming
	Finalizing
	RollingBack
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Sending:
		return "sending"
	case Streaming:
		return "streaming"
	case Finalizing:
		return "finalizing"
	case RollingBack:
		return "rolling_back"
	default:
		return "unknown"
	}
}
