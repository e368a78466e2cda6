package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/compozy/kbchat/engine/knowledge"
)

// LLMBackend answers through any langchaingo chat model.
type LLMBackend struct {
	model llms.Model
}

func NewLLMBackend(model llms.Model) *LLMBackend {
	return &LLMBackend{model: model}
}

func (b *LLMBackend) Generate(ctx context.Context, req BackendRequest) (BackendResponse, error) {
	messages := make([]llms.MessageContent, 0, len(req.History)+2)
	if req.System != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	for _, msg := range req.History {
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		messages = append(messages, llms.TextParts(mapRole(msg.Role), msg.Content))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, req.Question))
	options := []llms.CallOption{llms.WithTemperature(req.Temperature)}
	if req.MaxTokens > 0 {
		options = append(options, llms.WithMaxTokens(req.MaxTokens))
	}
	resp, err := b.model.GenerateContent(ctx, messages, options...)
	if err != nil {
		return BackendResponse{}, knowledge.Wrap(knowledge.ErrGenerationService, err, "langchain GenerateContent failed")
	}
	if resp == nil || len(resp.Choices) == 0 {
		return BackendResponse{}, knowledge.Wrap(knowledge.ErrGenerationService, nil, "empty response from model")
	}
	return BackendResponse{Text: resp.Choices[0].Content}, nil
}

func mapRole(role knowledge.Role) llms.ChatMessageType {
	if role == knowledge.RoleAssistant {
		return llms.ChatMessageTypeAI
	}
	return llms.ChatMessageTypeHuman
}

// newModel creates the chat model for the configured provider.
func newModel(ctx context.Context, cfg *Config) (llms.Model, error) {
	switch cfg.Provider {
	case "openai":
		if cfg.APIKey == "" {
			return nil, errors.New("openai api key is not set")
		}
		opts := []openai.Option{openai.WithModel(cfg.Model), openai.WithToken(cfg.APIKey)}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.New(opts...)
	case "googleai":
		if cfg.APIKey == "" {
			return nil, errors.New("google api key is not set")
		}
		return googleai.New(ctx, googleai.WithAPIKey(cfg.APIKey), googleai.WithDefaultModel(cfg.Model))
	case "ollama":
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		return ollama.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported generation provider: %s", cfg.Provider)
	}
}
