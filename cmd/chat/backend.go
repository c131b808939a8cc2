package main

import (
	"context"

	"github.com/pkg/errors"

	"github.com/zhouzirui/agent-playground/internal/client/playground"
	"github.com/zhouzirui/agent-playground/internal/config"
	"github.com/zhouzirui/agent-playground/internal/model/agent"
	"github.com/zhouzirui/agent-playground/internal/service/ai"
	"github.com/zhouzirui/agent-playground/internal/service/ingest"
	"github.com/zhouzirui/agent-playground/internal/transport/local"
)

const (
	transportSSE   = "sse"
	transportWS    = "ws"
	transportLocal = "local"
)

// backend streams runs and lists agents.
type backend interface {
	ingest.Transport
	ListAgents(ctx context.Context) ([]agent.Agent, error)
}

// wsBackend streams over the websocket endpoint and lists agents over HTTP.
type wsBackend struct {
	*playground.WSTransport
	agents *playground.Client
}

func (b wsBackend) ListAgents(ctx context.Context) ([]agent.Agent, error) {
	return b.agents.ListAgents(ctx)
}

// newBackend builds the transport named by o.transport. The returned close
// function is always non-nil.
func newBackend(ctx context.Context, o *options) (backend, func(), error) {
	noop := func() {}

	switch o.transport {
	case transportWS:
		ws := playground.NewWSTransport(o.endpoint)
		return wsBackend{WSTransport: ws, agents: playground.NewClient(o.endpoint)}, func() { _ = ws.Close() }, nil

	case transportLocal:
		if !o.cfg.AI.Enabled() {
			return nil, noop, errors.New("local transport needs ARK_API_KEY (or ARK_ACCESS_KEY/ARK_SECRET_KEY) and ARK_MODEL")
		}
		agents, err := loadAgents(o.cfg.AgentsFile)
		if err != nil {
			return nil, noop, err
		}
		svc, err := newAIService(ctx, o.cfg.AI)
		if err != nil {
			return nil, noop, err
		}
		return local.New(agents, svc), noop, nil

	default:
		return playground.NewClient(o.endpoint), noop, nil
	}
}

func loadAgents(path string) (*agent.MemoryStore, error) {
	if path == "" {
		return agent.NewMemoryStore(agent.Seed()), nil
	}
	items, err := agent.LoadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "load agents from %s", path)
	}
	return agent.NewMemoryStore(items), nil
}

func newAIService(ctx context.Context, cfg config.AIConfig) (*ai.Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, err
	}
	return ai.NewService(ctx, chatModel, ai.WithHistoryLimit(cfg.HistoryLimit))
}

// resolveAgent returns the requested agent id, or the first listed agent.
func resolveAgent(ctx context.Context, b backend, requested string) (string, error) {
	if requested != "" {
		return requested, nil
	}
	agents, err := b.ListAgents(ctx)
	if err != nil {
		return "", errors.Wrap(err, "list agents")
	}
	if len(agents) == 0 {
		return "", errors.New("the playground has no agents")
	}
	return agents[0].ID, nil
}
