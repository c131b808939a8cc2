package chat

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/zhouzirui/agent-playground/internal/model/chat"
)

var (
	ErrAgentRequired   = errors.New("agent id is required")
	ErrSessionNotFound = errors.New("session not found")
	ErrAgentMismatch   = errors.New("session belongs to another agent")
)

const defaultHistoryCap = 200

// Service keeps per-session run history in memory so follow-up runs see context.
type Service struct {
	mu         sync.RWMutex
	sessions   map[string]chat.Session
	messages   map[string][]chat.Message
	historyCap int
}

// NewService bootstraps the in-memory chat service.
func NewService() *Service {
	return &Service{
		sessions:   make(map[string]chat.Session),
		messages:   make(map[string][]chat.Message),
		historyCap: defaultHistoryCap,
	}
}

// CreateSession provisions an anonymous session bound to an agent.
func (s *Service) CreateSession(_ context.Context, agentID string) (chat.Session, error) {
	if agentID == "" {
		return chat.Session{}, ErrAgentRequired
	}

	session := chat.Session{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.messages[session.ID] = make([]chat.Message, 0, 16)
	s.mu.Unlock()

	return session, nil
}

// ResolveSession returns the session named by sessionID, or a new one when the id
// is empty or unknown (e.g. the server restarted since the client last ran).
func (s *Service) ResolveSession(ctx context.Context, sessionID, agentID string) (chat.Session, error) {
	if sessionID != "" {
		session, err := s.GetSession(ctx, sessionID)
		if err == nil {
			if session.AgentID != agentID {
				return chat.Session{}, errors.Wrapf(ErrAgentMismatch, "session %s", sessionID)
			}
			return session, nil
		}
		if !errors.Is(err, ErrSessionNotFound) {
			return chat.Session{}, err
		}
	}
	return s.CreateSession(ctx, agentID)
}

// SaveMessage appends a message to the session history.
func (s *Service) SaveMessage(_ context.Context, message chat.Message) error {
	if message.SessionID == "" {
		return ErrSessionNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[message.SessionID]; !ok {
		return ErrSessionNotFound
	}

	message.ID = uuid.NewString()
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}

	history := append(s.messages[message.SessionID], message)
	if len(history) > s.historyCap {
		history = append([]chat.Message(nil), history[len(history)-s.historyCap:]...)
	}
	s.messages[message.SessionID] = history
	return nil
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	return session, nil
}

// LoadTranscript returns stored messages for the provided session.
func (s *Service) LoadTranscript(_ context.Context, sessionID string) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages, ok := s.messages[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}

	copied := make([]chat.Message, len(messages))
	copy(copied, messages)
	return copied, nil
}
