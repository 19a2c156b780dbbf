package agent

// TurnState is where a session is in the turn-taking cycle.
type TurnState int

const (
	StateIdle TurnState = iota
	StateListening
	StateDebouncing
	StateGenerating
	StateSpeaking
)

func (s TurnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateDebouncing:
		return "debouncing"
	case StateGenerating:
		return "generating"
	case StateSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}
