package anthropic

import (
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/fpt/agentbridge/pkg/message"
)

// getAnthropicModel maps short aliases to model ids; anything else is passed through.
func getAnthropicModel(model string) anthropic.Model {
	switch model {
	case "", "sonnet", "claude":
		return anthropic.ModelClaudeSonnet4_5
	case "haiku":
		return anthropic.ModelClaudeHaiku4_5
	case "opus":
		return anthropic.ModelClaudeOpus4_20250514
	}
	return anthropic.Model(model)
}

// getModelContextWindow returns the context window for Claude models.
func getModelContextWindow(model string) int {
	// All current Claude models accept 200k input tokens.
	return 200000
}

// toAnthropicMessages splits turns into the system prompt and the message list.
func toAnthropicMessages(turns []message.Message) ([]anthropic.TextBlockParam, []anthropic.MessageParam) {
	var (
		system   []anthropic.TextBlockParam
		messages []anthropic.MessageParam
	)
	for _, msg := range turns {
		switch msg.Type() {
		case message.MessageTypeSystem:
			system = append(system, anthropic.TextBlockParam{Text: msg.Content()})
		case message.MessageTypeUser:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content())))
		case message.MessageTypeAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content())))
		}
	}
	return system, messages
}

// responseText joins the text blocks of a reply.
func responseText(resp *anthropic.Message) string {
	var sb strings.Builder
	for _, block := range resp.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(text.Text)
		}
	}
	return sb.String()
}
