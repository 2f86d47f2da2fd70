package gemini

import (
	"google.golang.org/genai"

	"github.com/fpt/agentbridge/pkg/message"
)

// Google Gemini 2.5 Models
// https://ai.google.dev/gemini-api/docs/models

const (
	modelGemini25Pro       = "gemini-2.5-pro"
	modelGemini25Flash     = "gemini-2.5-flash"
	modelGemini25FlashLite = "gemini-2.5-flash-lite"

	// Gemini 2.5 models support ~1,048,576 token input contexts.
	maxContextWindow = 1048576
	defaultMaxTokens = 8192
)

// getGeminiModel maps user-friendly model names to actual Gemini 2.5 model identifiers
func getGeminiModel(model string) string {
	switch model {
	case "gemini-2.5-pro", "gemini-pro", "pro":
		return modelGemini25Pro
	case "", "gemini-2.5-flash", "gemini-flash", "flash":
		return modelGemini25Flash
	case "gemini-2.5-flash-lite", "gemini-2.5-lite", "gemini-lite", "lite":
		return modelGemini25FlashLite
	default:
		return model
	}
}

// toGeminiContents converts turns to Gemini contents. The last system turn
// becomes the system instruction.
func toGeminiContents(turns []message.Message) ([]*genai.Content, *genai.Content) {
	var (
		contents          []*genai.Content
		systemInstruction *genai.Content
	)
	for _, msg := range turns {
		switch msg.Type() {
		case message.MessageTypeUser:
			contents = append(contents, genai.NewContentFromText(msg.Content(), genai.RoleUser))
		case message.MessageTypeAssistant:
			contents = append(contents, genai.NewContentFromText(msg.Content(), genai.RoleModel))
		case message.MessageTypeSystem:
			systemInstruction = genai.NewContentFromText(msg.Content(), genai.RoleUser)
		}
	}
	return contents, systemInstruction
}
