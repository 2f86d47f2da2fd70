package openai

import (
	"github.com/openai/openai-go/v2/responses"

	"github.com/fpt/agentbridge/pkg/message"
)

const (
	modelGPT5      = "gpt-5"
	modelGPT5Mini  = "gpt-5-mini"
	modelGPT5Nano  = "gpt-5-nano"
	modelGPT4o     = "gpt-4o"
	modelGPT4oMini = "gpt-4o-mini"
)

// getOpenAIModel returns model, or GPT-5 Mini when none is configured.
func getOpenAIModel(model string) string {
	if model == "" {
		return modelGPT5Mini
	}
	return model
}

// ModelCapabilities represents the limits of a specific OpenAI model
type ModelCapabilities struct {
	MaxTokens        int
	MaxContextWindow int
}

var modelCapabilities = map[string]ModelCapabilities{
	modelGPT5:      {MaxTokens: 16384, MaxContextWindow: 400000},
	modelGPT5Mini:  {MaxTokens: 16384, MaxContextWindow: 400000},
	modelGPT5Nano:  {MaxTokens: 8192, MaxContextWindow: 400000},
	modelGPT4o:     {MaxTokens: 8192, MaxContextWindow: 128000},
	modelGPT4oMini: {MaxTokens: 4096, MaxContextWindow: 128000},
}

// getModelCapabilities returns the limits of model, falling back to GPT-5 Mini.
func getModelCapabilities(model string) ModelCapabilities {
	if caps, ok := modelCapabilities[model]; ok {
		return caps
	}
	return modelCapabilities[modelGPT5Mini]
}

// toResponsesInput converts turns to Responses API input items.
func toResponsesInput(turns []message.Message) responses.ResponseInputParam {
	var items responses.ResponseInputParam
	for _, msg := range turns {
		var role responses.EasyInputMessageRole
		switch msg.Type() {
		case message.MessageTypeUser:
			role = responses.EasyInputMessageRoleUser
		case message.MessageTypeAssistant:
			role = responses.EasyInputMessageRoleAssistant
		case message.MessageTypeSystem:
			role = responses.EasyInputMessageRoleSystem
		default:
			continue
		}
		items = append(items, responses.ResponseInputItemParamOfMessage(msg.Content(), role))
	}
	return items
}
