package stream

import "time"

// Run event names shared by the playground server and its clients.
const (
	EventRunStarted   = "RunStarted"
	EventRunResponse  = "RunResponse"
	EventRunCompleted = "RunCompleted"
	EventRunError     = "RunError"
)

// RunEvent is the JSON payload carried by each SSE frame or websocket message.
type RunEvent struct {
	Event     string `json:"event"`
	Content   string `json:"content,omitempty"`
	AgentID   string `json:"agent_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	RunID     string `json:"run_id,omitempty"`
	CreatedAt int64  `json:"created_at,omitempty"`
}

// NewRunEvent stamps a run event with the current time.
func NewRunEvent(name, content string) RunEvent {
	return RunEvent{Event: name, Content: content, CreatedAt: time.Now().Unix()}
}

// Decode maps a wire event onto the core event model. Events that carry no
// transcript meaning (RunStarted, tool call notices) report ok=false.
func (e RunEvent) Decode() (Event, bool) {
	switch e.Event {
	case EventRunResponse:
		return Fragment(e.Content), true
	case EventRunCompleted:
		return End(), true
	case EventRunError:
		reason := e.Content
		if reason == "" {
			reason = "agent run failed"
		}
		return Failure(reason), true
	default:
		return Event{}, false
	}
}
