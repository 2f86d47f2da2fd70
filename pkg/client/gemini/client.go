package gemini

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"google.golang.org/genai"

	"github.com/fpt/agentbridge/pkg/agent/domain"
	pkgLogger "github.com/fpt/agentbridge/pkg/logger"
	"github.com/fpt/agentbridge/pkg/message"
)

var geminiLogger = pkgLogger.NewComponentLogger("gemini-client")

// GeminiClient answers whole conversations through the GenerateContent API.
type GeminiClient struct {
	client    *genai.Client
	model     string
	maxTokens int
}

var _ domain.ChatCompleter = (*GeminiClient)(nil)

// NewGeminiClient reads GEMINI_API_KEY from the environment.
func NewGeminiClient(ctx context.Context, model string, maxTokens int) (*GeminiClient, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY environment variable not set")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Gemini client")
	}

	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &GeminiClient{
		client:    client,
		model:     getGeminiModel(model),
		maxTokens: maxTokens,
	}, nil
}

// ModelIdentifier implementation
func (c *GeminiClient) ModelID() string { return c.model }

// ContextWindowProvider implementation
func (c *GeminiClient) MaxContextTokens() int { return maxContextWindow }

// Complete sends the conversation and returns the reply text.
func (c *GeminiClient) Complete(ctx context.Context, turns []message.Message) (string, message.TokenUsage, error) {
	contents, systemInstruction := toGeminiContents(turns)
	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(c.maxTokens),
	}
	if systemInstruction != nil {
		config.SystemInstruction = systemInstruction
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return "", message.TokenUsage{}, errors.Wrap(err, "Gemini API call failed")
	}

	var usage message.TokenUsage
	if resp.UsageMetadata != nil {
		usage = message.NewTokenUsage(int(resp.UsageMetadata.PromptTokenCount), int(resp.UsageMetadata.CandidatesTokenCount))
		geminiLogger.DebugWithIntention(pkgLogger.IntentionStatistics, "Gemini API Usage",
			"input_tokens", usage.InputTokens, "output_tokens", usage.OutputTokens, "model", c.model)
	}
	if len(resp.Candidates) == 0 {
		return "", usage, errors.New("no response from Gemini")
	}
	return resp.Text(), usage, nil
}
