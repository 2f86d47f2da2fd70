package ollama

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/ollama/ollama/api"
	"github.com/pkg/errors"

	"github.com/fpt/agentbridge/pkg/agent/domain"
	pkgLogger "github.com/fpt/agentbridge/pkg/logger"
	"github.com/fpt/agentbridge/pkg/message"
)

const (
	temperature   = 0.1  // Default temperature for Ollama generate requests
	defaultNumCtx = 8192 // Context window requested when the caller leaves it unset
)

// OllamaClient keeps one generation context per session. Ollama's generate
// endpoint returns an opaque token array that encodes the conversation so far;
// passing it back on the next request continues the same conversation.
type OllamaClient struct {
	client *api.Client
	model  string
	numCtx int
	logger *pkgLogger.Logger

	mu       sync.Mutex
	contexts map[string][]int
}

var _ domain.SessionLLM = (*OllamaClient)(nil)

// NewOllamaClient connects to baseURL, or to OLLAMA_HOST when baseURL is empty.
func NewOllamaClient(model, baseURL string, numCtx int) (*OllamaClient, error) {
	if baseURL == "" {
		client, err := api.ClientFromEnvironment()
		if err != nil {
			return nil, errors.Wrap(err, "failed to create Ollama client")
		}
		return newClient(client, model, numCtx), nil
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid Ollama base url %q", baseURL)
	}
	return NewOllamaClientWithHTTP(base, http.DefaultClient, model, numCtx), nil
}

// NewOllamaClientWithHTTP uses an explicit endpoint and HTTP client.
func NewOllamaClientWithHTTP(base *url.URL, httpClient *http.Client, model string, numCtx int) *OllamaClient {
	return newClient(api.NewClient(base, httpClient), model, numCtx)
}

func newClient(client *api.Client, model string, numCtx int) *OllamaClient {
	if numCtx <= 0 {
		numCtx = defaultNumCtx
	}
	return &OllamaClient{
		client:   client,
		model:    model,
		numCtx:   numCtx,
		logger:   pkgLogger.NewComponentLogger("ollama"),
		contexts: make(map[string][]int),
	}
}

// ModelIdentifier implementation
func (c *OllamaClient) ModelID() string { return c.model }

// ContextWindowProvider implementation
func (c *OllamaClient) MaxContextTokens() int {
	if known := GetModelContextWindow(c.model); known > 0 && known < c.numCtx {
		return known
	}
	return c.numCtx
}

// StartSession sends the prompt without prior context and keeps the context
// the server hands back.
func (c *OllamaClient) StartSession(ctx context.Context, sessionID, prompt string) (message.TokenUsage, error) {
	_, genCtx, usage, err := c.generate(ctx, prompt, nil)
	if err != nil {
		return usage, err
	}

	c.mu.Lock()
	c.contexts[sessionID] = genCtx
	c.mu.Unlock()

	c.logger.DebugWithIntention(pkgLogger.IntentionStatistics, "Ollama session started",
		"session_id", sessionID, "prompt_tokens", usage.InputTokens, "context_len", len(genCtx))
	return usage, nil
}

// Send continues the session's conversation.
func (c *OllamaClient) Send(ctx context.Context, sessionID, text string) (string, message.TokenUsage, error) {
	c.mu.Lock()
	prev, ok := c.contexts[sessionID]
	c.mu.Unlock()
	if !ok {
		return "", message.TokenUsage{}, errors.Wrapf(domain.ErrUnknownSession, "session %s", sessionID)
	}

	response, genCtx, usage, err := c.generate(ctx, text, prev)
	if err != nil {
		return "", usage, err
	}

	c.mu.Lock()
	// EndSession may have run while the request was in flight.
	if _, still := c.contexts[sessionID]; still {
		c.contexts[sessionID] = genCtx
	}
	c.mu.Unlock()
	return response, usage, nil
}

// EndSession drops the stored context.
func (c *OllamaClient) EndSession(sessionID string) {
	c.mu.Lock()
	delete(c.contexts, sessionID)
	c.mu.Unlock()
}

func (c *OllamaClient) generate(ctx context.Context, prompt string, prev []int) (string, []int, message.TokenUsage, error) {
	stream := false
	req := &api.GenerateRequest{
		Model:   c.model,
		Prompt:  prompt,
		Context: prev,
		Stream:  &stream,
		Options: map[string]any{
			"num_ctx":     c.numCtx,
			"temperature": temperature,
		},
	}

	var (
		builder strings.Builder
		genCtx  []int
		usage   message.TokenUsage
	)
	err := c.client.Generate(ctx, req, func(resp api.GenerateResponse) error {
		builder.WriteString(resp.Response)
		if resp.Done {
			genCtx = resp.Context
			usage = message.NewTokenUsage(resp.PromptEvalCount, resp.EvalCount)
		}
		return nil
	})
	if err != nil {
		return "", nil, usage, errors.Wrap(err, "ollama generate error")
	}
	return builder.String(), genCtx, usage, nil
}
