package realtime

import "encoding/json"

// State is the channel connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

var allStates = []string{
	string(StateDisconnected),
	string(StateConnecting),
	string(StateConnected),
	string(StateReconnecting),
}

// Status is a point-in-time view of the manager.
type Status struct {
	State    State
	Attempts int
	LastErr  error
}

// Message is one inbound JSON frame. Type is empty when the frame is not
// an object with a string "type" field.
type Message struct {
	Type string
	Data json.RawMessage
}

// Decode unmarshals the frame into v.
func (m Message) Decode(v any) error { return json.Unmarshal(m.Data, v) }

// EventKind discriminates Event.
type EventKind int

const (
	EventState EventKind = iota + 1
	EventMessage
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventState:
		return "state"
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is published to subscribers. Only the field matching Kind is set.
type Event struct {
	Kind    EventKind
	State   State
	Message Message
	Err     error
}
