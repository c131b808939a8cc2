package chat

import "time"

// Sender values used in server-side history.
const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
)

// Message is one stored exchange entry, fed back to the model as history.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	RunID     string    `json:"run_id,omitempty"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
