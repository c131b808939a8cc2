package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/zhouzirui/agent-playground/internal/service/session"
)

// Sender is satisfied by *tea.Program.
type Sender interface {
	Send(msg tea.Msg)
}

type (
	changeMsg     session.Change
	notifyMsg     string
	clearInputMsg struct{}
	focusMsg      struct{}
)

// Bridge turns callbacks from the submission pipeline into program messages.
// It implements submit.InputBuffer, submit.Notifier, session.FocusHandle and a
// session.Observer. All of them run off the event loop, so forwarding through
// Program.Send is safe. Messages sent before Attach are dropped.
type Bridge struct {
	mu     sync.RWMutex
	sender Sender
}

// NewBridge returns a bridge with no program attached.
func NewBridge() *Bridge {
	return &Bridge{}
}

// Attach points the bridge at a running program.
func (b *Bridge) Attach(s Sender) {
	b.mu.Lock()
	b.sender = s
	b.mu.Unlock()
}

func (b *Bridge) send(msg tea.Msg) {
	b.mu.RLock()
	s := b.sender
	b.mu.RUnlock()
	if s != nil {
		s.Send(msg)
	}
}

// Clear empties the input box.
func (b *Bridge) Clear() { b.send(clearInputMsg{}) }

// Notify shows message on the toast line.
func (b *Bridge) Notify(message string) { b.send(notifyMsg(message)) }

// Focus gives the input box keyboard focus.
func (b *Bridge) Focus() { b.send(focusMsg{}) }

// Observe forwards a store change so the transcript is redrawn.
func (b *Bridge) Observe(c session.Change) { b.send(changeMsg(c)) }
