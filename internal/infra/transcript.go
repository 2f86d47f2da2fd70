package infra

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fpt/agentbridge/internal/repository"
	"github.com/fpt/agentbridge/pkg/message"
)

// FileTranscriptRepository stores each session as <dir>/<sessionID>.json
type FileTranscriptRepository struct {
	dir string
}

// NewFileTranscriptRepository creates a new directory-backed transcript repository
func NewFileTranscriptRepository(dir string) *FileTranscriptRepository {
	return &FileTranscriptRepository{dir: dir}
}

func (fr *FileTranscriptRepository) path(sessionID string) (string, error) {
	if fr.dir == "" {
		return "", fmt.Errorf("no transcript directory specified")
	}
	if sessionID == "" || strings.ContainsAny(sessionID, `/\`) || sessionID == "." || sessionID == ".." {
		return "", fmt.Errorf("invalid session id %q", sessionID)
	}
	return filepath.Join(fr.dir, sessionID+".json"), nil
}

// Save implements repository.TranscriptRepository
func (fr *FileTranscriptRepository) Save(sessionID, model string, turns []message.Message) error {
	path, err := fr.path(sessionID)
	if err != nil {
		return err
	}

	transcript := repository.Transcript{
		SessionID: sessionID,
		Model:     model,
		EndedAt:   time.Now(),
		Entries:   make([]repository.TranscriptEntry, 0, len(turns)),
	}
	for _, msg := range turns {
		if msg == nil {
			continue
		}
		transcript.Entries = append(transcript.Entries, messageToEntry(msg))
	}

	data, err := json.MarshalIndent(transcript, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize transcript: %w", err)
	}

	if err := os.MkdirAll(fr.dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", fr.dir, err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write transcript %s: %w", path, err)
	}
	return nil
}

// Load implements repository.TranscriptRepository
func (fr *FileTranscriptRepository) Load(sessionID string) ([]message.Message, error) {
	path, err := fr.path(sessionID)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make([]message.Message, 0), nil
		}
		return nil, fmt.Errorf("failed to read transcript %s: %w", path, err)
	}

	var transcript repository.Transcript
	if err := json.Unmarshal(data, &transcript); err != nil {
		return nil, fmt.Errorf("failed to deserialize transcript from %s: %w", path, err)
	}

	turns := make([]message.Message, len(transcript.Entries))
	for i, entry := range transcript.Entries {
		turns[i] = entryToMessage(entry)
	}
	return turns, nil
}

// Clear implements repository.TranscriptRepository
func (fr *FileTranscriptRepository) Clear(sessionID string) error {
	path, err := fr.path(sessionID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete transcript %s: %w", path, err)
	}
	return nil
}

func messageToEntry(msg message.Message) repository.TranscriptEntry {
	return repository.TranscriptEntry{
		ID:           msg.ID(),
		Type:         msg.Type(),
		Role:         msg.Type().String(),
		Content:      msg.Content(),
		Timestamp:    msg.Timestamp(),
		InputTokens:  msg.InputTokens(),
		OutputTokens: msg.OutputTokens(),
	}
}

// entryToMessage loses the original id and timestamp; token counts survive.
func entryToMessage(e repository.TranscriptEntry) message.Message {
	msg := message.NewChatMessage(e.Type, e.Content)
	if e.InputTokens > 0 || e.OutputTokens > 0 {
		msg.SetTokenUsage(message.NewTokenUsage(e.InputTokens, e.OutputTokens))
	}
	return msg
}
