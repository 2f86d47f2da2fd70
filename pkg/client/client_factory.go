package client

import (
	"context"

	"github.com/pkg/errors"

	"github.com/fpt/agentbridge/internal/config"
	"github.com/fpt/agentbridge/pkg/agent/domain"
	"github.com/fpt/agentbridge/pkg/client/anthropic"
	"github.com/fpt/agentbridge/pkg/client/gemini"
	"github.com/fpt/agentbridge/pkg/client/ollama"
	"github.com/fpt/agentbridge/pkg/client/openai"
)

// NewSessionLLM creates the translation backend described by settings.
// Ollama keeps conversation state server-side through its context tokens;
// the hosted backends are wrapped in a ChatSession.
func NewSessionLLM(ctx context.Context, settings config.LLMSettings) (domain.SessionLLM, error) {
	switch settings.Backend {
	case "anthropic", "claude":
		c, err := anthropic.NewAnthropicClient(settings.Model, settings.MaxTokens)
		if err != nil {
			return nil, err
		}
		return NewChatSession(c), nil
	case "openai":
		c, err := openai.NewOpenAIClient(settings.Model, settings.MaxTokens)
		if err != nil {
			return nil, err
		}
		return NewChatSession(c), nil
	case "gemini":
		c, err := gemini.NewGeminiClient(ctx, settings.Model, settings.MaxTokens)
		if err != nil {
			return nil, err
		}
		return NewChatSession(c), nil
	case "ollama", "":
		return ollama.NewOllamaClient(settings.Model, settings.BaseURL, settings.NumCtx)
	default:
		return nil, errors.Errorf("unsupported LLM backend: %s", settings.Backend)
	}
}
