package submit

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/agent-playground/internal/model/turn"
	"github.com/zhouzirui/agent-playground/internal/service/ingest"
	"github.com/zhouzirui/agent-playground/internal/service/session"
)

// Outcome summarizes what a Submit call did.
type Outcome int

const (
	// OutcomeIgnored means a precondition gate rejected the submission; nothing changed.
	OutcomeIgnored Outcome = iota
	// OutcomeCompleted means the agent turn finished normally.
	OutcomeCompleted
	// OutcomeFailed means the agent turn was recorded as failed. A notification is
	// sent unless the turn was failed by someone other than this submission.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIgnored:
		return "ignored"
	case OutcomeCompleted:
		return "completed"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// AgentSelector exposes the externally selected agent.
type AgentSelector interface {
	SelectedAgent() (string, bool)
}

// InputBuffer is the text input owned by the presentation layer.
type InputBuffer interface {
	Clear()
}

// InputBufferFunc adapts a function to InputBuffer.
type InputBufferFunc func()

// Clear implements InputBuffer.
func (f InputBufferFunc) Clear() { f() }

// Notifier shows a transient, human readable alert. Fire and forget.
type Notifier interface {
	Notify(message string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(message string)

// Notify implements Notifier.
func (f NotifierFunc) Notify(message string) { f(message) }

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithInput sets the input buffer cleared on each accepted submission.
func WithInput(input InputBuffer) Option {
	return func(c *Coordinator) { c.input = input }
}

// WithNotifier sets the sink for failure notifications.
func WithNotifier(n Notifier) Option {
	return func(c *Coordinator) { c.notifier = n }
}

// WithLogger replaces the component logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// Coordinator is the single entry point for user submissions.
type Coordinator struct {
	store    *session.Store
	ingestor *ingest.Ingestor
	agents   AgentSelector
	input    InputBuffer
	notifier Notifier
	logger   zerolog.Logger
}

// New wires a coordinator around an explicitly constructed store and ingestor.
func New(store *session.Store, ingestor *ingest.Ingestor, agents AgentSelector, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:    store,
		ingestor: ingestor,
		agents:   agents,
		input:    InputBufferFunc(func() {}),
		notifier: NotifierFunc(func(string) {}),
		logger:   log.With().Str("component", "submit").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit sends text to the selected agent and waits for the stream to settle.
// It never returns an error: failures are already recorded on the transcript and
// are surfaced once through the notifier.
func (c *Coordinator) Submit(ctx context.Context, text string) (outcome Outcome) {
	defer c.restoreFocus()

	if strings.TrimSpace(text) == "" {
		return OutcomeIgnored
	}
	agentID, ok := c.selectedAgent()
	if !ok {
		return OutcomeIgnored
	}

	turnID, err := c.ingestor.BeginExchange(text)
	if err != nil {
		if errors.Is(err, ingest.ErrConcurrentStream) {
			c.logger.Debug().Err(err).Msg("submission ignored while streaming")
		} else {
			c.logger.Error().Err(err).Msg("agent turn not admitted")
		}
		return OutcomeIgnored
	}
	c.input.Clear()

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Str("turn_id", string(turnID)).Msg("stream panicked")
			c.notifier.Notify(fmt.Sprintf("Error in submit: %v", r))
			outcome = OutcomeFailed
		}
	}()

	c.logger.Info().Str("agent_id", agentID).Str("turn_id", string(turnID)).Int("length", len(text)).Msg("submitting message")
	err = c.ingestor.Stream(ctx, turnID, text, agentID)
	if errors.Is(err, ingest.ErrTurnClosed) {
		return c.closedElsewhere(turnID)
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("turn_id", string(turnID)).Msg("stream failed")
		c.notifier.Notify(fmt.Sprintf("Error in submit: %v", err))
		return OutcomeFailed
	}
	return OutcomeCompleted
}

// closedElsewhere reports a turn whose outcome was settled outside this
// submission. That party already surfaced it, so nothing is notified here.
func (c *Coordinator) closedElsewhere(id turn.ID) Outcome {
	t, _ := c.store.Turn(id)
	c.logger.Info().Str("turn_id", string(id)).Str("status", string(t.Status)).Msg("turn closed before its stream ended")
	if t.Status == turn.StatusComplete {
		return OutcomeCompleted
	}
	return OutcomeFailed
}

func (c *Coordinator) selectedAgent() (string, bool) {
	if c.agents == nil {
		return "", false
	}
	id, ok := c.agents.SelectedAgent()
	if !ok || strings.TrimSpace(id) == "" {
		return "", false
	}
	return id, true
}

func (c *Coordinator) restoreFocus() {
	if h := c.store.FocusHandle(); h != nil {
		h.Focus()
	}
}
