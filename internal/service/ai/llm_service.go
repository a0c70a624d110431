package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/z-insight/backend/internal/config"
)

// ErrNoJSONObject is returned when a model reply carries no JSON object.
var ErrNoJSONObject = errors.New("missing json object")

// Chain is a compiled prompt -> chat model pipeline.
type Chain = compose.Runnable[map[string]any, *schema.Message]

// Service owns the shared chat model and builds task specific chains on top of it.
type Service struct {
	chatModel model.ChatModel
	cfg       config.AIConfig
}

// NewService creates the Ark backed chat model.
func NewService(ctx context.Context, cfg config.AIConfig) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewServiceWithModel(chatModel, cfg), nil
}

// NewServiceWithModel wraps an existing chat model, used by tests and tools.
func NewServiceWithModel(chatModel model.ChatModel, cfg config.AIConfig) *Service {
	return &Service{chatModel: chatModel, cfg: cfg}
}

// ChatModel 返回底层的聊天模型
func (s *Service) ChatModel() model.ChatModel {
	if s == nil {
		return nil
	}
	return s.chatModel
}

// BuildChain compiles system + user templates (FString syntax) in front of the chat model.
func (s *Service) BuildChain(ctx context.Context, name, systemPrompt, userPrompt string) (Chain, error) {
	if s == nil || s.chatModel == nil {
		return nil, fmt.Errorf("%s chain: chat model unavailable", name)
	}
	return CompileChain(ctx, s.chatModel, name, systemPrompt, userPrompt)
}

// CompileChain is BuildChain without a Service.
func CompileChain(ctx context.Context, chatModel model.ChatModel, name, systemPrompt, userPrompt string) (Chain, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(userPrompt),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile %s chain: %w", name, err)
	}
	log.Debug().Str("chain", name).Msg("compiled llm chain")
	return runnable, nil
}

// InvokeJSON runs the chain and decodes the first JSON object of the reply into out.
func InvokeJSON(ctx context.Context, chain Chain, input map[string]any, out any) error {
	msg, err := chain.Invoke(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to run AI chain: %w", err)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return fmt.Errorf("empty model reply: %w", ErrNoJSONObject)
	}
	return ExtractJSON(msg.Content, out)
}

// ExtractJSON decodes the outermost {...} span of content. Models often wrap
// the object in prose or code fences.
func ExtractJSON(content string, out any) error {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end <= start {
		return ErrNoJSONObject
	}
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), out); err != nil {
		return fmt.Errorf("decode model json: %w", err)
	}
	return nil
}
