package repository

import (
	"time"

	"github.com/fpt/agentbridge/pkg/message"
)

// TranscriptEntry is one conversation turn in serializable form.
type TranscriptEntry struct {
	ID           string              `json:"id"`
	Type         message.MessageType `json:"type"`
	Role         string              `json:"role"`
	Content      string              `json:"content"`
	Timestamp    time.Time           `json:"timestamp"`
	InputTokens  int                 `json:"input_tokens,omitempty"`
	OutputTokens int                 `json:"output_tokens,omitempty"`
}

// Transcript is the persisted form of one translation session.
type Transcript struct {
	SessionID string            `json:"session_id"`
	Model     string            `json:"model,omitempty"`
	EndedAt   time.Time         `json:"ended_at"`
	Entries   []TranscriptEntry `json:"entries"`
}

// TranscriptRepository abstracts transcript persistence
type TranscriptRepository interface {
	Save(sessionID, model string, turns []message.Message) error
	Load(sessionID string) ([]message.Message, error)
	Clear(sessionID string) error // Delete the persisted transcript
}
