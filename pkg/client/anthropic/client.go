package anthropic

import (
	"context"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/pkg/errors"

	"github.com/fpt/agentbridge/pkg/agent/domain"
	"github.com/fpt/agentbridge/pkg/message"
)

const (
	defaultMaxTokens = 1024
)

// AnthropicClient answers whole conversations through the Messages API.
type AnthropicClient struct {
	client    *anthropic.Client
	model     anthropic.Model
	maxTokens int
}

var _ domain.ChatCompleter = (*AnthropicClient)(nil)

// NewAnthropicClient reads ANTHROPIC_API_KEY from the environment.
func NewAnthropicClient(model string, maxTokens int) (*AnthropicClient, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY environment variable not set")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL := os.Getenv("ANTHROPIC_BASE_URL"); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return NewAnthropicClientWithOptions(model, maxTokens, opts...), nil
}

// NewAnthropicClientWithOptions builds a client from explicit request options.
func NewAnthropicClientWithOptions(model string, maxTokens int, opts ...option.RequestOption) *AnthropicClient {
	client := anthropic.NewClient(opts...)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &AnthropicClient{
		client:    &client,
		model:     getAnthropicModel(model),
		maxTokens: maxTokens,
	}
}

// ModelIdentifier implementation
func (c *AnthropicClient) ModelID() string { return string(c.model) }

// ContextWindowProvider implementation
func (c *AnthropicClient) MaxContextTokens() int { return getModelContextWindow(string(c.model)) }

// Complete sends the conversation and returns the text of the reply.
func (c *AnthropicClient) Complete(ctx context.Context, turns []message.Message) (string, message.TokenUsage, error) {
	system, messages := toAnthropicMessages(turns)
	params := anthropic.MessageNewParams{
		MaxTokens: int64(c.maxTokens),
		Messages:  messages,
		Model:     c.model,
	}
	if len(system) > 0 {
		params.System = system
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", message.TokenUsage{}, errors.Wrap(err, "anthropic messages call failed")
	}
	usage := message.NewTokenUsage(int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens))
	return responseText(resp), usage, nil
}
