package ingestion

// State is the lifecycle state of the upstream log subscription.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
	StateClosed
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}
