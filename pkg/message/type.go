package message

import "time"

// TokenUsage holds token usage information for one backend call
type TokenUsage struct {
	InputTokens  int // Tokens consumed for input (prompt + context)
	OutputTokens int // Tokens generated in response
	TotalTokens  int // Total tokens (input + output)
}

// NewTokenUsage fills TotalTokens from the two counts.
func NewTokenUsage(input, output int) TokenUsage {
	return TokenUsage{InputTokens: input, OutputTokens: output, TotalTokens: input + output}
}

type MessageType int

const (
	MessageTypeUser MessageType = iota
	MessageTypeAssistant
	MessageTypeSystem
)

// String returns the string representation of MessageType
func (m MessageType) String() string {
	switch m {
	case MessageTypeUser:
		return "user"
	case MessageTypeAssistant:
		return "assistant"
	case MessageTypeSystem:
		return "system"
	default:
		return "unknown"
	}
}

type Message interface {
	// ID returns the unique identifier of the message
	ID() string

	// Type returns the role of the message in the conversation
	Type() MessageType

	// Content returns the content of the message
	Content() string

	// Timestamp returns the time when the message was created
	Timestamp() time.Time

	// String returns the string representation of the message
	String() string

	// Token usage information
	InputTokens() int
	OutputTokens() int
	TotalTokens() int

	// SetTokenUsage sets the token usage information for this message
	SetTokenUsage(usage TokenUsage)
}
