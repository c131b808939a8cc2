package ingest

import (
	"context"
	"fmt"
	"iter"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/agent-playground/internal/model/stream"
	"github.com/zhouzirui/agent-playground/internal/model/turn"
	"github.com/zhouzirui/agent-playground/internal/service/session"
)

var (
	// ErrConcurrentStream is returned when another stream already owns the session.
	ErrConcurrentStream = errors.New("another stream is already active")
	// ErrNetworkInterrupted is returned when the transport drops mid-stream or the
	// run is cancelled before the backend signalled the end.
	ErrNetworkInterrupted = errors.New("network interrupted")
	// ErrTurnClosed is returned when the turn was completed or failed elsewhere
	// while its stream was still being read.
	ErrTurnClosed = errors.New("turn closed before the stream ended")
)

// BackendError carries the reason from a backend error event.
type BackendError struct {
	Reason string
}

func (e *BackendError) Error() string {
	return "agent error: " + e.Reason
}

// Transport opens one response stream. The sequence yields events in arrival order;
// a non-nil error means the connection failed and nothing more will follow.
type Transport interface {
	Stream(ctx context.Context, req stream.Request) iter.Seq2[stream.Event, error]
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req stream.Request) iter.Seq2[stream.Event, error]

// Stream implements Transport.
func (f TransportFunc) Stream(ctx context.Context, req stream.Request) iter.Seq2[stream.Event, error] {
	return f(ctx, req)
}

// Ingestor drives one request/response cycle and applies its events to the store.
type Ingestor struct {
	store     *session.Store
	transport Transport
	logger    zerolog.Logger
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithLogger replaces the component logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(i *Ingestor) { i.logger = logger }
}

// New creates an Ingestor writing into store and reading from transport.
func New(store *session.Store, transport Transport, opts ...Option) *Ingestor {
	i := &Ingestor{
		store:     store,
		transport: transport,
		logger:    log.With().Str("component", "ingest").Logger(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Run begins an agent turn and streams the response for userText into it.
func (i *Ingestor) Run(ctx context.Context, userText, agentID string) error {
	id, err := i.Begin()
	if err != nil {
		return err
	}
	return i.Stream(ctx, id, userText, agentID)
}

// Begin opens the pending agent turn. It fails with ErrConcurrentStream when the
// store already has an active stream; the transport is not touched in that case.
func (i *Ingestor) Begin() (turn.ID, error) {
	id, err := i.store.BeginAgentTurn()
	if err != nil {
		return "", admissionError(err)
	}
	return id, nil
}

// BeginExchange records the user turn and opens its agent turn together. When
// the store already has an active stream it fails with ErrConcurrentStream and
// leaves the transcript untouched.
func (i *Ingestor) BeginExchange(userText string) (turn.ID, error) {
	id, err := i.store.BeginExchange(userText)
	if err != nil {
		return "", admissionError(err)
	}
	return id, nil
}

func admissionError(err error) error {
	if errors.Is(err, session.ErrInvalidState) {
		return errors.WithMessage(ErrConcurrentStream, err.Error())
	}
	return err
}

// Stream consumes the transport for an agent turn opened by Begin. It always leaves
// the turn complete or failed.
func (i *Ingestor) Stream(ctx context.Context, id turn.ID, userText, agentID string) error {
	logger := i.logger.With().Str("turn_id", string(id)).Str("agent_id", agentID).Logger()

	defer func() {
		if r := recover(); r != nil {
			i.fail(logger, id, fmt.Sprintf("stream aborted: %v", r))
			panic(r)
		}
	}()

	fragments := 0
	events := i.transport.Stream(ctx, stream.Request{AgentID: agentID, Message: userText})
	for ev, recvErr := range events {
		if recvErr != nil {
			logger.Warn().Err(recvErr).Int("fragments", fragments).Msg("stream connection failed")
			return i.interrupted(logger, id, recvErr)
		}

		switch ev.Kind {
		case stream.KindFragment:
			if appendErr := i.store.AppendFragment(id, ev.Text); appendErr != nil {
				return i.closedUnderneath(logger, id, errors.Wrap(appendErr, "append fragment"))
			}
			fragments++
		case stream.KindEnd:
			if completeErr := i.store.CompleteAgentTurn(id); completeErr != nil {
				return i.closedUnderneath(logger, id, errors.Wrap(completeErr, "complete agent turn"))
			}
			logger.Info().Int("fragments", fragments).Msg("stream completed")
			return nil
		case stream.KindError:
			logger.Warn().Str("reason", ev.Reason).Int("fragments", fragments).Msg("backend reported error")
			i.fail(logger, id, ev.Reason)
			return &BackendError{Reason: ev.Reason}
		default:
			logger.Debug().Str("kind", string(ev.Kind)).Msg("ignoring unknown event")
		}
	}

	cause := errors.New("stream ended without completion")
	if ctx.Err() != nil {
		cause = ctx.Err()
	}
	logger.Warn().Err(cause).Int("fragments", fragments).Msg("stream closed early")
	return i.interrupted(logger, id, cause)
}

func (i *Ingestor) interrupted(logger zerolog.Logger, id turn.ID, cause error) error {
	i.fail(logger, id, ErrNetworkInterrupted.Error()+": "+cause.Error())
	return errors.WithMessage(ErrNetworkInterrupted, cause.Error())
}

// closedUnderneath maps a store rejection for a turn that is already terminal
// to ErrTurnClosed. Whoever closed the turn owns its outcome, so the rest of
// the stream is dropped without a second report.
func (i *Ingestor) closedUnderneath(logger zerolog.Logger, id turn.ID, cause error) error {
	if !errors.Is(cause, session.ErrInvalidState) {
		return cause
	}
	t, ok := i.store.Turn(id)
	if !ok || !t.Status.Terminal() {
		return cause
	}
	logger.Debug().Err(cause).Str("status", string(t.Status)).Msg("turn closed elsewhere, dropping the rest of the stream")
	return ErrTurnClosed
}

func (i *Ingestor) fail(logger zerolog.Logger, id turn.ID, reason string) {
	if err := i.store.FailAgentTurn(id, reason); err != nil {
		logger.Debug().Err(err).Msg("turn already closed")
	}
}
