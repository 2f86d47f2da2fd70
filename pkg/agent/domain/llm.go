package domain

import (
	"context"

	"github.com/pkg/errors"

	"github.com/fpt/agentbridge/pkg/message"
)

// ErrUnknownSession is returned by Send for a session that was never started
// or has already ended.
var ErrUnknownSession = errors.New("unknown translation session")

// SessionLLM is a language model backend that keeps one conversation per
// session id. The prompt given to StartSession frames every later Send.
type SessionLLM interface {
	// StartSession opens (or restarts) the conversation and primes it with prompt.
	StartSession(ctx context.Context, sessionID, prompt string) (message.TokenUsage, error)
	// Send appends text to the conversation and returns the model's reply.
	Send(ctx context.Context, sessionID, text string) (string, message.TokenUsage, error)
	// EndSession forgets the conversation. Unknown ids are ignored.
	EndSession(sessionID string)
	// ModelID returns a stable identifier for the underlying model
	ModelID() string
}

// ChatCompleter is a stateless chat model: it answers a full conversation.
// pkg/client turns one into a SessionLLM by keeping the history itself.
type ChatCompleter interface {
	// Complete returns the assistant reply to turns.
	Complete(ctx context.Context, turns []message.Message) (string, message.TokenUsage, error)
	// ModelID returns a stable identifier for the underlying model
	ModelID() string
}
