package local

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/zhouzirui/agent-playground/internal/model/agent"
	"github.com/zhouzirui/agent-playground/internal/model/stream"
	"github.com/zhouzirui/agent-playground/internal/model/turn"
	"github.com/zhouzirui/agent-playground/internal/service/ingest"
	"github.com/zhouzirui/agent-playground/internal/service/run/runtest"
	"github.com/zhouzirui/agent-playground/internal/service/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTransport(r *runtest.Responder) *Transport {
	return New(agent.NewMemoryStore(agent.Seed()), r)
}

func TestLocalRunCompletesTurn(t *testing.T) {
	store := session.NewStore()
	tr := newTransport(&runtest.Responder{Chunks: []string{"Hi", " there"}})

	require.NoError(t, ingest.New(store, tr).Run(context.Background(), "hello", "claude-agent"))

	got := store.Messages()[0]
	require.Equal(t, "Hi there", got.Content)
	require.Equal(t, turn.StatusComplete, got.Status)
}

func TestLocalRunKeepsSessionPerAgent(t *testing.T) {
	tr := newTransport(&runtest.Responder{Chunks: []string{"ok"}})
	ing := ingest.New(session.NewStore(), tr)

	require.NoError(t, ing.Run(context.Background(), "one", "claude-agent"))
	first := tr.session("claude-agent")
	require.NotEmpty(t, first)

	require.NoError(t, ing.Run(context.Background(), "two", "claude-agent"))
	require.Equal(t, first, tr.session("claude-agent"))
	require.Empty(t, tr.session("giphy-agent"))
}

func TestLocalUnknownAgentIsBackendError(t *testing.T) {
	store := session.NewStore()
	err := ingest.New(store, newTransport(&runtest.Responder{})).Run(context.Background(), "hi", "nobody")

	var backendErr *ingest.BackendError
	require.True(t, errors.As(err, &backendErr))
	require.Contains(t, backendErr.Reason, "agent not found")
}

func TestLocalModelFailureIsBackendError(t *testing.T) {
	store := session.NewStore()
	tr := newTransport(&runtest.Responder{Chunks: []string{"pa"}, Err: errors.New("quota exceeded")})

	err := ingest.New(store, tr).Run(context.Background(), "hi", "claude-agent")

	var backendErr *ingest.BackendError
	require.True(t, errors.As(err, &backendErr))
	got := store.Messages()[0]
	require.Equal(t, "pa", got.Content)
	require.Equal(t, "quota exceeded", got.FailureReason)
}

func TestLocalCancelledRunIsInterrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tr := newTransport(&runtest.Responder{Chunks: []string{"a"}, Err: context.Canceled})

	var events []stream.Event
	var streamErr error
	for ev, err := range tr.Stream(ctx, stream.Request{AgentID: "claude-agent", Message: "hi"}) {
		if err != nil {
			streamErr = err
			break
		}
		events = append(events, ev)
	}
	require.ErrorIs(t, streamErr, context.Canceled)
	require.Equal(t, []stream.Event{stream.Fragment("a")}, events)
}

func TestLocalListAgents(t *testing.T) {
	agents, err := newTransport(&runtest.Responder{}).ListAgents(context.Background())
	require.NoError(t, err)
	require.Equal(t, agent.Seed(), agents)
}
