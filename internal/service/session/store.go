package session

import (
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/agent-playground/internal/model/turn"
)

// ErrInvalidState reports a mutation that would break the admission invariant,
// e.g. starting a second stream or extending a turn that is not streaming.
var ErrInvalidState = errors.New("invalid session state")

// FocusHandle is the presentation layer's input control. The store only keeps a
// back-reference so the coordinator can restore focus after a submission.
type FocusHandle interface {
	Focus()
}

// ChangeKind names the mutation an observer is told about.
type ChangeKind string

const (
	ChangeUserTurnAppended ChangeKind = "user_turn_appended"
	ChangeAgentTurnBegun   ChangeKind = "agent_turn_begun"
	ChangeFragmentAppended ChangeKind = "fragment_appended"
	ChangeTurnCompleted    ChangeKind = "turn_completed"
	ChangeTurnFailed       ChangeKind = "turn_failed"
)

// Change describes one applied mutation. Turn is a copy taken after the mutation.
type Change struct {
	Kind      ChangeKind
	Turn      turn.Turn
	Fragment  string
	Streaming bool
}

// Observer receives every change synchronously, before the mutating call returns.
// Observers may read the store but must not mutate it.
type Observer func(Change)

type observerEntry struct {
	id int
	fn Observer
}

// Option configures a Store.
type Option func(*Store)

// WithFocusHandle sets the initial focus handle.
func WithFocusHandle(h FocusHandle) Option {
	return func(s *Store) { s.focus = h }
}

// WithClock overrides the time source used to stamp turns.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store holds the transcript of one chat surface and the streaming flag.
//
// Mutations are serialized: the state change and the observer fan-out for one
// mutation complete before the next mutation starts, so observers see changes in
// the order they were applied.
type Store struct {
	notifyMu sync.Mutex

	mu        sync.RWMutex
	turns     []turn.Turn
	index     map[turn.ID]int
	current   turn.ID
	focus     FocusHandle
	observers []observerEntry
	nextObs   int
	now       func() time.Time
}

// NewStore returns an empty session store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		turns: make([]turn.Turn, 0, 16),
		index: make(map[turn.ID]int),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AppendUserTurn records a user message. Blank text is ignored and reports false.
func (s *Store) AppendUserTurn(text string) (turn.ID, bool) {
	if strings.TrimSpace(text) == "" {
		return "", false
	}

	var id turn.ID
	if err := s.mutate(func() (Change, bool, error) {
		t := s.appendLocked(turn.RoleUser, text, turn.StatusComplete)
		id = t.ID
		return Change{Kind: ChangeUserTurnAppended, Turn: t, Streaming: s.current != ""}, true, nil
	}); err != nil {
		return "", false
	}

	log.Debug().Str("component", "session").Str("turn_id", string(id)).Int("length", len(text)).Msg("user turn appended")
	return id, true
}

// BeginAgentTurn opens the pending agent turn and raises the streaming flag.
// The check and the set happen under one lock.
func (s *Store) BeginAgentTurn() (turn.ID, error) {
	var id turn.ID
	err := s.mutate(func() (Change, bool, error) {
		if s.current != "" {
			return Change{}, false, errors.Wrapf(ErrInvalidState, "turn %s is still streaming", s.current)
		}
		t := s.appendLocked(turn.RoleAgent, "", turn.StatusPending)
		s.current = t.ID
		id = t.ID
		return Change{Kind: ChangeAgentTurnBegun, Turn: t, Streaming: true}, true, nil
	})
	if err != nil {
		return "", err
	}

	log.Debug().Str("component", "session").Str("turn_id", string(id)).Msg("agent turn begun")
	return id, nil
}

// BeginExchange appends the user turn and opens the pending agent turn in one
// step. When another turn is streaming nothing is appended, so a rejected
// submission never leaves a user turn without a reply.
func (s *Store) BeginExchange(text string) (turn.ID, error) {
	if strings.TrimSpace(text) == "" {
		return "", errors.Wrap(ErrInvalidState, "blank user text")
	}

	var id turn.ID
	err := s.mutateAll(func() ([]Change, error) {
		if s.current != "" {
			return nil, errors.Wrapf(ErrInvalidState, "turn %s is still streaming", s.current)
		}
		user := s.appendLocked(turn.RoleUser, text, turn.StatusComplete)
		reply := s.appendLocked(turn.RoleAgent, "", turn.StatusPending)
		s.current = reply.ID
		id = reply.ID
		return []Change{
			{Kind: ChangeUserTurnAppended, Turn: user},
			{Kind: ChangeAgentTurnBegun, Turn: reply, Streaming: true},
		}, nil
	})
	if err != nil {
		return "", err
	}

	log.Debug().Str("component", "session").Str("turn_id", string(id)).Int("length", len(text)).Msg("exchange begun")
	return id, nil
}

// AppendFragment extends the current streaming turn.
func (s *Store) AppendFragment(id turn.ID, fragment string) error {
	return s.mutate(func() (Change, bool, error) {
		if id == "" || id != s.current {
			return Change{}, false, errors.Wrapf(ErrInvalidState, "turn %s is not streaming", id)
		}
		i := s.index[id]
		t := &s.turns[i]
		t.Content += fragment
		t.Status = turn.StatusStreaming
		t.UpdatedAt = s.now()
		return Change{Kind: ChangeFragmentAppended, Turn: *t, Fragment: fragment, Streaming: true}, true, nil
	})
}

// CompleteAgentTurn marks the turn complete and lowers the streaming flag.
// Completing an already complete turn changes nothing.
func (s *Store) CompleteAgentTurn(id turn.ID) error {
	err := s.mutate(func() (Change, bool, error) {
		t, err := s.agentTurnLocked(id)
		if err != nil {
			return Change{}, false, err
		}
		switch t.Status {
		case turn.StatusComplete:
			return Change{}, false, nil
		case turn.StatusFailed:
			return Change{}, false, errors.Wrapf(ErrInvalidState, "turn %s already failed", id)
		}
		t.Status = turn.StatusComplete
		t.UpdatedAt = s.now()
		s.current = ""
		return Change{Kind: ChangeTurnCompleted, Turn: *t}, true, nil
	})
	if err == nil {
		log.Debug().Str("component", "session").Str("turn_id", string(id)).Msg("agent turn completed")
	}
	return err
}

// FailAgentTurn marks the turn failed, keeps the partial content, and records the
// reason beside it. Failing an already failed turn changes nothing.
func (s *Store) FailAgentTurn(id turn.ID, reason string) error {
	err := s.mutate(func() (Change, bool, error) {
		t, err := s.agentTurnLocked(id)
		if err != nil {
			return Change{}, false, err
		}
		switch t.Status {
		case turn.StatusFailed:
			return Change{}, false, nil
		case turn.StatusComplete:
			return Change{}, false, errors.Wrapf(ErrInvalidState, "turn %s already complete", id)
		}
		t.Status = turn.StatusFailed
		t.FailureReason = reason
		t.UpdatedAt = s.now()
		s.current = ""
		return Change{Kind: ChangeTurnFailed, Turn: *t}, true, nil
	})
	if err == nil {
		log.Debug().Str("component", "session").Str("turn_id", string(id)).Str("reason", reason).Msg("agent turn failed")
	}
	return err
}

// Messages returns a copy of the transcript in append order.
func (s *Store) Messages() []turn.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	copied := make([]turn.Turn, len(s.turns))
	copy(copied, s.turns)
	return copied
}

// Turn looks up a single turn.
func (s *Store) Turn(id turn.ID) (turn.Turn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return turn.Turn{}, false
	}
	return s.turns[i], true
}

// Len returns the number of turns.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

// IsStreaming reports whether an agent turn is pending or streaming.
func (s *Store) IsStreaming() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current != ""
}

// StreamingTurn returns the id of the active agent turn, if any.
func (s *Store) StreamingTurn() (turn.ID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.current != ""
}

// SetFocusHandle replaces the input focus back-reference.
func (s *Store) SetFocusHandle(h FocusHandle) {
	s.mu.Lock()
	s.focus = h
	s.mu.Unlock()
}

// FocusHandle returns the input focus back-reference, possibly nil.
func (s *Store) FocusHandle() FocusHandle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.focus
}

// Subscribe registers an observer and returns a function that removes it.
func (s *Store) Subscribe(fn Observer) func() {
	if fn == nil {
		return func() {}
	}

	s.mu.Lock()
	s.nextObs++
	id := s.nextObs
	s.observers = append(s.observers, observerEntry{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, entry := range s.observers {
				if entry.id == id {
					s.observers = append(s.observers[:i:i], s.observers[i+1:]...)
					return
				}
			}
		})
	}
}

func (s *Store) mutate(apply func() (Change, bool, error)) error {
	return s.mutateAll(func() ([]Change, error) {
		change, changed, err := apply()
		if err != nil || !changed {
			return nil, err
		}
		return []Change{change}, nil
	})
}

// mutateAll applies a mutation producing zero or more changes and notifies
// observers of each, in order, before returning.
func (s *Store) mutateAll(apply func() ([]Change, error)) error {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	changes, err := apply()
	observers := make([]Observer, 0, len(s.observers))
	for _, entry := range s.observers {
		observers = append(observers, entry.fn)
	}
	s.mu.Unlock()

	if err != nil {
		return err
	}
	for _, change := range changes {
		for _, fn := range observers {
			fn(change)
		}
	}
	return nil
}

func (s *Store) appendLocked(role turn.Role, content string, status turn.Status) turn.Turn {
	now := s.now()
	t := turn.Turn{
		ID:        turn.NewID(),
		Role:      role,
		Content:   content,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.index[t.ID] = len(s.turns)
	s.turns = append(s.turns, t)
	return t
}

func (s *Store) agentTurnLocked(id turn.ID) (*turn.Turn, error) {
	i, ok := s.index[id]
	if !ok {
		return nil, errors.Wrapf(ErrInvalidState, "unknown turn %s", id)
	}
	t := &s.turns[i]
	if t.Role != turn.RoleAgent {
		return nil, errors.Wrapf(ErrInvalidState, "turn %s is not an agent turn", id)
	}
	return t, nil
}
