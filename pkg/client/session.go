package client

import (
	"context"

	"github.com/pkg/errors"

	"github.com/fpt/agentbridge/pkg/agent/domain"
	"github.com/fpt/agentbridge/pkg/message"
)

// ChatSession turns a stateless ChatCompleter into a SessionLLM by keeping
// each session's conversation locally and replaying it on every call.
type ChatSession struct {
	completer domain.ChatCompleter
	history   *message.History
}

// NewChatSession wraps completer.
func NewChatSession(completer domain.ChatCompleter) *ChatSession {
	return &ChatSession{completer: completer, history: message.NewHistory()}
}

// ModelID returns the wrapped model id.
func (s *ChatSession) ModelID() string {
	return s.completer.ModelID()
}

// MaxContextTokens forwards to the completer when it knows its window.
func (s *ChatSession) MaxContextTokens() int {
	if cw, ok := s.completer.(domain.ContextWindowProvider); ok {
		return cw.MaxContextTokens()
	}
	return 0
}

// StartSession sends prompt as the first user turn. The session only exists
// once the model has answered it.
func (s *ChatSession) StartSession(ctx context.Context, sessionID, prompt string) (message.TokenUsage, error) {
	turn := message.NewChatMessage(message.MessageTypeUser, prompt)
	reply, usage, err := s.completer.Complete(ctx, []message.Message{turn})
	if err != nil {
		return message.TokenUsage{}, errors.Wrap(err, "failed to start session")
	}
	turn.SetTokenUsage(usage)
	s.history.Start(sessionID, turn, message.NewChatMessage(message.MessageTypeAssistant, reply))
	return usage, nil
}

// Send replays the conversation plus text. A failed call leaves the history
// untouched so the next Send sees a well-formed conversation.
func (s *ChatSession) Send(ctx context.Context, sessionID, text string) (string, message.TokenUsage, error) {
	turns, ok := s.history.Snapshot(sessionID)
	if !ok {
		return "", message.TokenUsage{}, domain.ErrUnknownSession
	}
	turn := message.NewChatMessage(message.MessageTypeUser, text)
	reply, usage, err := s.completer.Complete(ctx, append(turns, turn))
	if err != nil {
		return "", message.TokenUsage{}, err
	}
	turn.SetTokenUsage(usage)
	s.history.Append(sessionID, turn, message.NewChatMessage(message.MessageTypeAssistant, reply))
	return reply, usage, nil
}

// EndSession drops the conversation.
func (s *ChatSession) EndSession(sessionID string) {
	s.history.End(sessionID)
}
