package submit

import "sync"

// Selection holds the currently selected agent id. The zero value has no agent.
type Selection struct {
	mu      sync.RWMutex
	agentID string
}

// NewSelection returns a selection preset to agentID (which may be empty).
func NewSelection(agentID string) *Selection {
	return &Selection{agentID: agentID}
}

// Select switches to agentID.
func (s *Selection) Select(agentID string) {
	s.mu.Lock()
	s.agentID = agentID
	s.mu.Unlock()
}

// Clear removes the selection, which disables submission.
func (s *Selection) Clear() {
	s.Select("")
}

// SelectedAgent implements AgentSelector.
func (s *Selection) SelectedAgent() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.agentID, s.agentID != ""
}
