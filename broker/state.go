package broker

// State is the progress of one broker request.
//
//	Received → Parsed → Registered | Resolved | Rejected
type State int

const (
	StateReceived State = iota
	StateParsed
	StateRegistered
	StateResolved
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateParsed:
		return "parsed"
	case StateRegistered:
		return "registered"
	case StateResolved:
		return "resolved"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Final reports whether s ends a request.
func (s State) Final() bool {
	return s >= StateRegistered
}
