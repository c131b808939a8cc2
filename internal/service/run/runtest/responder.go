// Package runtest provides a scripted model responder for handler and transport tests.
package runtest

import (
	"context"
	"strings"
	"sync"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/agent-playground/internal/model/agent"
	"github.com/zhouzirui/agent-playground/internal/model/chat"
)

// Responder replies with Chunks. When Err is set, the stream fails after the chunks.
type Responder struct {
	Chunks []string
	Err    error

	mu      sync.Mutex
	prompts []string
}

// Prompts returns the user messages received so far.
func (r *Responder) Prompts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.prompts...)
}

func (r *Responder) record(userMessage string) {
	r.mu.Lock()
	r.prompts = append(r.prompts, userMessage)
	r.mu.Unlock()
}

// GenerateResponse implements run.Responder.
func (r *Responder) GenerateResponse(_ context.Context, _ agent.Agent, _ []chat.Message, userMessage string) (*schema.Message, error) {
	r.record(userMessage)
	if r.Err != nil {
		return nil, r.Err
	}
	return schema.AssistantMessage(strings.Join(r.Chunks, ""), nil), nil
}

// StreamResponse implements run.Responder.
func (r *Responder) StreamResponse(_ context.Context, _ agent.Agent, _ []chat.Message, userMessage string) (*schema.StreamReader[*schema.Message], error) {
	r.record(userMessage)
	reader, writer := schema.Pipe[*schema.Message](len(r.Chunks) + 1)
	for _, c := range r.Chunks {
		writer.Send(schema.AssistantMessage(c, nil), nil)
	}
	if r.Err != nil {
		writer.Send(nil, r.Err)
	}
	writer.Close()
	return reader, nil
}
