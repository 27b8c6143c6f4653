package chat

// State is the phase of the current turn
type State string

const (
	StateIdle      State = "idle"
	StateSubmitted State = "submitted"
	StateStreaming State = "streaming"
	StateReady     State = "ready"
	StateErrored   State = "errored"
)

// Busy reports whether a turn is in flight
func (s State) Busy() bool {
	return s == StateSubmitted || s == StateStreaming
}

// EventKind classifies conversation events
type EventKind string

const (
	EventState    EventKind = "state"
	EventFragment EventKind = "fragment"
	EventMessage  EventKind = "message"
	EventError    EventKind = "error"
)

// Event is published to subscribers as a turn progresses
type Event struct {
	Kind      EventKind `json:"kind"`
	State     State     `json:"state,omitempty"`
	MessageID string    `json:"message_id,omitempty"`
	Fragment  string    `json:"fragment,omitempty"`
	Content   string    `json:"content,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// TurnResult describes how a turn ended
type TurnResult struct {
	State     State
	MessageID string
	Content   string
	Cancelled bool
	Err       error
}
