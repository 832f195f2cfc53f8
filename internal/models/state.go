package models

// State is the polling coordinator's lifecycle state.
type State int

const (
	LoggedOut State = iota
	Polling
	Refreshing
	Degraded
)

func (s State) String() string {
	switch s {
	case LoggedOut:
		return "logged_out"
	case Polling:
		return "polling"
	case Refreshing:
		return "refreshing"
	case Degraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// MarshalText lets the state appear by name in JSON responses and log fields.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
