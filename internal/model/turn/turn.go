package turn

import (
	"time"

	"github.com/google/uuid"
)

// ID identifies a turn inside one chat session.
type ID string

// NewID returns a fresh random turn identifier.
func NewID() ID {
	return ID(uuid.NewString())
}

// Role names who produced a turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Status tracks the lifecycle of an agent turn. User turns are always complete.
type Status string

const (
	StatusPending   Status = "pending"
	StatusStreaming Status = "streaming"
	StatusComplete  Status = "complete"
	StatusFailed    Status = "failed"
)

// Active reports whether a stream still owns the turn.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusStreaming
}

// Terminal reports whether the turn is frozen.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// Turn is one message in the chat transcript.
type Turn struct {
	ID            ID        `json:"id"`
	Role          Role      `json:"role"`
	Content       string    `json:"content"`
	Status        Status    `json:"status"`
	FailureReason string    `json:"failureReason,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}
