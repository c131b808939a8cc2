// Package local runs agents in-process, for chatting without a playground server.
package local

import (
	"context"
	"iter"
	"sync"

	"github.com/pkg/errors"

	"github.com/zhouzirui/agent-playground/internal/model/agent"
	"github.com/zhouzirui/agent-playground/internal/model/stream"
	chatService "github.com/zhouzirui/agent-playground/internal/service/chat"
	runService "github.com/zhouzirui/agent-playground/internal/service/run"
)

var errConsumerStopped = errors.New("consumer stopped")

// Transport feeds run events from an in-process run service straight into the ingestor.
type Transport struct {
	agents agent.Store
	runs   *runService.Service

	mu       sync.Mutex
	sessions map[string]string
}

// New builds a transport with its own in-memory conversation history.
func New(agents agent.Store, responder runService.Responder) *Transport {
	return &Transport{
		agents:   agents,
		runs:     runService.NewService(agents, chatService.NewService(), responder),
		sessions: make(map[string]string),
	}
}

// ListAgents returns the registry the transport serves.
func (t *Transport) ListAgents(context.Context) ([]agent.Agent, error) {
	return t.agents.List(), nil
}

// Stream implements the ingestor transport.
func (t *Transport) Stream(ctx context.Context, req stream.Request) iter.Seq2[stream.Event, error] {
	return func(yield func(stream.Event, error) bool) {
		run, err := t.runs.Prepare(ctx, req.AgentID, t.session(req.AgentID), req.Message)
		if err != nil {
			yield(stream.Failure(err.Error()), nil)
			return
		}
		t.remember(req.AgentID, run.Session.ID)

		_ = run.Stream(ctx, func(ev stream.RunEvent) error {
			// A model error caused by cancellation is an interrupted stream.
			if ev.Event == stream.EventRunError && ctx.Err() != nil {
				yield(stream.Event{}, ctx.Err())
				return errConsumerStopped
			}
			core, ok := ev.Decode()
			if !ok {
				return nil
			}
			if !yield(core, nil) {
				return errConsumerStopped
			}
			return nil
		})
	}
}

func (t *Transport) session(agentID string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessions[agentID]
}

func (t *Transport) remember(agentID, sessionID string) {
	t.mu.Lock()
	t.sessions[agentID] = sessionID
	t.mu.Unlock()
}
