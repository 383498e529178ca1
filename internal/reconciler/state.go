package reconciler

type State int

const (
	StateIdle State = iota
	StateFetchingHistory
	StateBufferingLive
	StateFlushing
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateFetchingHistory:
		return "FETCHING_HISTORY"
	case StateBufferingLive:
		return "BUFFERING_LIVE"
	case StateFlushing:
		return "FLUSHING"
	case StateStreaming:
		return "STREAMING"
	default:
		return "UNKNOWN"
	}
}

// buffering reports whether live trades are held back in this state.
func (s State) buffering() bool {
	return s == StateFetchingHistory || s == StateBufferingLive || s == StateFlushing
}
