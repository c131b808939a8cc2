package ai

import (
	"context"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/agent-playground/internal/model/agent"
	"github.com/zhouzirui/agent-playground/internal/model/chat"
)

const defaultHistoryLimit = 10

// Service runs agent prompts through an eino chain.
type Service struct {
	chain        compose.Runnable[map[string]any, *schema.Message]
	historyLimit int
	logger       zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithHistoryLimit caps how many prior messages are replayed to the model.
func WithHistoryLimit(limit int) Option {
	return func(s *Service) {
		if limit >= 0 {
			s.historyLimit = limit
		}
	}
}

// NewService compiles the system/history/query chain around chatModel.
func NewService(ctx context.Context, chatModel model.BaseChatModel, opts ...Option) (*Service, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "compile chat chain")
	}

	s := &Service{
		chain:        runnable,
		historyLimit: defaultHistoryLimit,
		logger:       log.With().Str("component", "ai").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// GenerateResponse returns the agent's full reply in one message.
func (s *Service) GenerateResponse(ctx context.Context, a agent.Agent, history []chat.Message, userMessage string) (*schema.Message, error) {
	response, err := s.chain.Invoke(ctx, s.buildChainInput(a, history, userMessage))
	if err != nil {
		return nil, errors.Wrap(err, "run chat chain")
	}

	s.logger.Info().Str("agent_id", a.ID).Int("length", len(response.Content)).Msg("generated response")
	return response, nil
}

// StreamResponse streams the agent's reply chunk by chunk. The caller closes the reader.
func (s *Service) StreamResponse(ctx context.Context, a agent.Agent, history []chat.Message, userMessage string) (*schema.StreamReader[*schema.Message], error) {
	reader, err := s.chain.Stream(ctx, s.buildChainInput(a, history, userMessage))
	if err != nil {
		return nil, errors.Wrap(err, "stream chat chain")
	}

	s.logger.Debug().Str("agent_id", a.ID).Int("history", len(history)).Msg("streaming response")
	return reader, nil
}

func (s *Service) buildChainInput(a agent.Agent, history []chat.Message, userMessage string) map[string]any {
	return map[string]any{
		"system":  BuildSystemPrompt(a),
		"history": s.buildHistoryMessages(history),
		"query":   userMessage,
	}
}

func (s *Service) buildHistoryMessages(messages []chat.Message) []*schema.Message {
	if len(messages) == 0 || s.historyLimit == 0 {
		return nil
	}

	startIdx := 0
	if len(messages) > s.historyLimit {
		startIdx = len(messages) - s.historyLimit
	}

	history := make([]*schema.Message, 0, len(messages)-startIdx)
	for _, msg := range messages[startIdx:] {
		switch msg.Sender {
		case chat.SenderUser:
			history = append(history, schema.UserMessage(msg.Content))
		case chat.SenderAssistant:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}

	return history
}
