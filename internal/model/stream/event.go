package stream

// Kind classifies a transport event.
type Kind string

const (
	KindFragment Kind = "fragment"
	KindEnd      Kind = "end"
	KindError    Kind = "error"
)

// Request asks the backend to run one agent on one user message.
type Request struct {
	AgentID string
	Message string
}

// Event is one item of an agent response stream, already decoded from the wire.
type Event struct {
	Kind   Kind
	Text   string
	Reason string
}

// Fragment builds a fragment event.
func Fragment(text string) Event { return Event{Kind: KindFragment, Text: text} }

// End builds the end-of-stream event.
func End() Event { return Event{Kind: KindEnd} }

// Failure builds a backend-reported error event.
func Failure(reason string) Event { return Event{Kind: KindError, Reason: reason} }
