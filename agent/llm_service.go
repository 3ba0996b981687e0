package agent

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"parusdata/config"
)

// Generator is the narrow slice of model.ChatModel the agents depend on.
// Tests substitute fakes; production wires the eino chat model.
type Generator interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

// LLMService wraps the chat model behind prompt-level helpers. With
// detailed logging enabled every prompt and response is written to the log.
type LLMService struct {
	chatModel Generator
	logger    func(string)
	detailed  bool
}

// NewLLMService creates the eino chat model from config. Any
// OpenAI-compatible endpoint works, including Ollama's /v1 surface.
func NewLLMService(ctx context.Context, cfg config.Config, logger func(string)) (*LLMService, error) {
	modelCfg := &openai.ChatModelConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.ModelName,
		Timeout: 0, // Default
	}
	if cfg.MaxTokens > 0 {
		modelCfg.MaxTokens = &cfg.MaxTokens
	}
	chatModel, err := openai.NewChatModel(ctx, modelCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %v", err)
	}

	return &LLMService{
		chatModel: chatModel,
		logger:    logger,
		detailed:  cfg.DetailedLog,
	}, nil
}

func (s *LLMService) log(msg string) {
	if s.logger != nil {
		s.logger(msg)
	}
}

// Generate implements Generator.
func (s *LLMService) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	if s.detailed {
		for _, msg := range input {
			s.log(fmt.Sprintf("[LLM] >> %s: %s", msg.Role, msg.Content))
		}
	}
	resp, err := s.chatModel.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	if s.detailed {
		s.log(fmt.Sprintf("[LLM] << %s", resp.Content))
	}
	return resp, nil
}

// Chat sends one system+user exchange and returns the response text.
func (s *LLMService) Chat(ctx context.Context, system, user string, temperature float32) (string, error) {
	messages := []*schema.Message{
		{Role: schema.System, Content: system},
		{Role: schema.User, Content: user},
	}
	resp, err := s.Generate(ctx, messages, model.WithTemperature(temperature))
	if err != nil {
		s.log(fmt.Sprintf("[LLM] Generate failed: %v", err))
		return "", err
	}
	return resp.Content, nil
}
