// Package run executes one agent run on the server: it resolves the agent and
// session, replays history into the model and emits playground run events.
package run

import (
	"context"
	"io"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/agent-playground/internal/model/agent"
	"github.com/zhouzirui/agent-playground/internal/model/chat"
	"github.com/zhouzirui/agent-playground/internal/model/stream"
	chatService "github.com/zhouzirui/agent-playground/internal/service/chat"
)

var (
	ErrMessageRequired = errors.New("message is required")
	ErrAgentNotFound   = errors.New("agent not found")
	ErrUnavailable     = errors.New("agent model is not configured")
)

// Responder produces agent replies. ai.Service is the production implementation.
type Responder interface {
	GenerateResponse(ctx context.Context, a agent.Agent, history []chat.Message, userMessage string) (*schema.Message, error)
	StreamResponse(ctx context.Context, a agent.Agent, history []chat.Message, userMessage string) (*schema.StreamReader[*schema.Message], error)
}

// Emit delivers one run event to the client. An error means the client is gone.
type Emit func(stream.RunEvent) error

// Service prepares and executes runs.
type Service struct {
	agents    agent.Store
	chats     *chatService.Service
	responder Responder
	logger    zerolog.Logger
}

// NewService wires the run service. responder may be nil when no model is configured;
// every run is then rejected with ErrUnavailable.
func NewService(agents agent.Store, chats *chatService.Service, responder Responder) *Service {
	return &Service{
		agents:    agents,
		chats:     chats,
		responder: responder,
		logger:    log.With().Str("component", "run").Logger(),
	}
}

// Run is a validated run whose user message is already recorded in session history.
type Run struct {
	ID      string
	Agent   agent.Agent
	Session chat.Session
	Message string

	history []chat.Message
	svc     *Service
}

// Prepare validates a run request. Nothing has been sent to the client yet, so
// callers can still map the returned error to a status code.
func (s *Service) Prepare(ctx context.Context, agentID, sessionID, message string) (*Run, error) {
	if strings.TrimSpace(message) == "" {
		return nil, ErrMessageRequired
	}

	a, ok := s.agents.FindByID(agentID)
	if !ok {
		return nil, errors.Wrapf(ErrAgentNotFound, "agent %q", agentID)
	}

	if s.responder == nil {
		return nil, ErrUnavailable
	}

	session, err := s.chats.ResolveSession(ctx, sessionID, a.ID)
	if err != nil {
		return nil, err
	}

	history, err := s.chats.LoadTranscript(ctx, session.ID)
	if err != nil {
		return nil, errors.Wrap(err, "load transcript")
	}

	runID := uuid.NewString()
	if err := s.chats.SaveMessage(ctx, chat.Message{
		SessionID: session.ID,
		RunID:     runID,
		Sender:    chat.SenderUser,
		Content:   message,
	}); err != nil {
		return nil, errors.Wrap(err, "save user message")
	}

	return &Run{
		ID:      runID,
		Agent:   a,
		Session: session,
		Message: message,
		history: history,
		svc:     s,
	}, nil
}

// Event stamps a run event with this run's identifiers.
func (r *Run) Event(name, content string) stream.RunEvent {
	ev := stream.NewRunEvent(name, content)
	ev.AgentID = r.Agent.ID
	ev.SessionID = r.Session.ID
	ev.RunID = r.ID
	return ev
}

// Stream emits RunStarted, one RunResponse per non-empty chunk and a final
// RunCompleted carrying the full reply. Model failures are emitted as RunError
// and returned. Emit failures stop the run without further events.
func (r *Run) Stream(ctx context.Context, emit Emit) error {
	logger := r.svc.logger.With().Str("run_id", r.ID).Str("agent_id", r.Agent.ID).Logger()

	if err := emit(r.Event(stream.EventRunStarted, "")); err != nil {
		return errors.Wrap(err, "emit run started")
	}

	reader, err := r.svc.responder.StreamResponse(ctx, r.Agent, r.history, r.Message)
	if err != nil {
		r.fail(emit, err)
		return err
	}
	defer reader.Close()

	chunks := make([]*schema.Message, 0, 8)
	for {
		chunk, recvErr := reader.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			logger.Warn().Err(recvErr).Int("chunks", len(chunks)).Msg("model stream failed")
			r.fail(emit, recvErr)
			return recvErr
		}
		if chunk == nil {
			continue
		}

		chunks = append(chunks, chunk)
		if chunk.Content != "" {
			if err := emit(r.Event(stream.EventRunResponse, chunk.Content)); err != nil {
				logger.Info().Err(err).Msg("client left during run")
				return errors.Wrap(err, "emit run response")
			}
		}
	}

	content := ""
	if len(chunks) > 0 {
		response, err := schema.ConcatMessages(chunks)
		if err != nil {
			r.fail(emit, err)
			return errors.Wrap(err, "concat chunks")
		}
		content = response.Content
	}

	r.record(ctx, content)
	logger.Info().Int("length", len(content)).Msg("run completed")
	if err := emit(r.Event(stream.EventRunCompleted, content)); err != nil {
		return errors.Wrap(err, "emit run completed")
	}
	return nil
}

// Generate runs the model without streaming and returns the RunCompleted event.
func (r *Run) Generate(ctx context.Context) (stream.RunEvent, error) {
	response, err := r.svc.responder.GenerateResponse(ctx, r.Agent, r.history, r.Message)
	if err != nil {
		return stream.RunEvent{}, err
	}
	r.record(ctx, response.Content)
	return r.Event(stream.EventRunCompleted, response.Content), nil
}

func (r *Run) record(ctx context.Context, content string) {
	if err := r.svc.chats.SaveMessage(ctx, chat.Message{
		SessionID: r.Session.ID,
		RunID:     r.ID,
		Sender:    chat.SenderAssistant,
		Content:   content,
	}); err != nil {
		r.svc.logger.Warn().Err(err).Str("run_id", r.ID).Msg("failed to save assistant message")
	}
}

func (r *Run) fail(emit Emit, cause error) {
	if err := emit(r.Event(stream.EventRunError, cause.Error())); err != nil {
		r.svc.logger.Debug().Err(err).Str("run_id", r.ID).Msg("could not deliver run error")
	}
}
