package openai

import (
	"context"
	"os"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/responses"
	"github.com/openai/openai-go/v2/shared"
	"github.com/pkg/errors"

	"github.com/fpt/agentbridge/pkg/agent/domain"
	"github.com/fpt/agentbridge/pkg/message"
)

// OpenAIClient answers whole conversations through the Responses API.
type OpenAIClient struct {
	client    *openai.Client
	model     string
	maxTokens int
}

var _ domain.ChatCompleter = (*OpenAIClient)(nil)

// NewOpenAIClient creates a new OpenAI client with configurable maxTokens
// maxTokens = 0 means default
func NewOpenAIClient(model string, maxTokens int) (*OpenAIClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY environment variable not set")
	}

	// Setup client options
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}

	// Support custom base URL (for Azure OpenAI, etc.)
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return NewOpenAIClientWithOptions(model, maxTokens, opts...), nil
}

// NewOpenAIClientWithOptions builds a client from explicit request options.
func NewOpenAIClientWithOptions(model string, maxTokens int, opts ...option.RequestOption) *OpenAIClient {
	client := openai.NewClient(opts...)
	openaiModel := getOpenAIModel(model)
	if maxTokens <= 0 {
		maxTokens = getModelCapabilities(openaiModel).MaxTokens
	}
	return &OpenAIClient{
		client:    &client,
		model:     openaiModel,
		maxTokens: maxTokens,
	}
}

// ModelIdentifier implementation
func (c *OpenAIClient) ModelID() string { return c.model }

// ContextWindowProvider implementation
func (c *OpenAIClient) MaxContextTokens() int {
	return getModelCapabilities(c.model).MaxContextWindow
}

// Complete sends the conversation and returns the output text.
func (c *OpenAIClient) Complete(ctx context.Context, turns []message.Message) (string, message.TokenUsage, error) {
	params := responses.ResponseNewParams{
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: toResponsesInput(turns),
		},
		Model: shared.ChatModel(c.model),
	}
	if c.maxTokens > 0 {
		params.MaxOutputTokens = openai.Int(int64(c.maxTokens))
	}

	resp, err := c.client.Responses.New(ctx, params)
	if err != nil {
		return "", message.TokenUsage{}, errors.Wrap(err, "Responses API call failed")
	}

	var usage message.TokenUsage
	if resp.Usage.JSON.InputTokens.Valid() || resp.Usage.JSON.OutputTokens.Valid() {
		usage = message.NewTokenUsage(int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens))
	}
	return resp.OutputText(), usage, nil
}
