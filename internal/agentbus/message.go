package agentbus

import (
	"strings"

	"github.com/pkg/errors"
)

const (
	wrapperOpen  = "<"
	wrapperClose = ">"
	fieldSep     = ","

	// headerFields is the number of separator-delimited fields before content:
	// correlation id, sender, performative, receiver.
	headerFields = 4
)

// ErrMalformedReply is returned when a wrapped bus message cannot be split into
// its header fields and content.
var ErrMalformedReply = errors.New("malformed bus message")

// Message is the wire unit exchanged with the agent bus:
// <correlationId,senderId,performative,receiverId,content>.
type Message struct {
	CorrelationID string
	Sender        string
	Performative  string
	Receiver      string
	Content       string
}

// String renders the message in its wire form.
func (m Message) String() string {
	return wrap(m.CorrelationID, m.Sender, strings.Join([]string{m.Performative, m.Receiver, m.Content}, fieldSep))
}

// IsWrapped reports whether payload already carries the bus wrapper.
func IsWrapped(payload string) bool {
	return strings.HasPrefix(payload, wrapperOpen)
}

// FormatCommand renders a steady-state command as "<performative>,<receiver>,<command>".
func FormatCommand(performative, receiver, command string) string {
	return strings.Join([]string{performative, receiver, command}, fieldSep)
}

// ParseMessage splits a wrapped payload into its fields. Only the first four
// separators are significant; content keeps any separators it contains.
func ParseMessage(payload string) (Message, error) {
	payload = strings.TrimSpace(payload)
	if !strings.HasPrefix(payload, wrapperOpen) || !strings.HasSuffix(payload, wrapperClose) || len(payload) < 2 {
		return Message{}, errors.Wrapf(ErrMalformedReply, "missing wrapper in %q", payload)
	}
	inner := payload[len(wrapperOpen) : len(payload)-len(wrapperClose)]
	fields := strings.SplitN(inner, fieldSep, headerFields+1)
	if len(fields) <= headerFields {
		return Message{}, errors.Wrapf(ErrMalformedReply, "expected %d fields, got %d", headerFields+1, len(fields))
	}
	if fields[0] == "" {
		return Message{}, errors.Wrap(ErrMalformedReply, "empty correlation id")
	}
	return Message{
		CorrelationID: fields[0],
		Sender:        fields[1],
		Performative:  fields[2],
		Receiver:      fields[3],
		Content:       fields[4],
	}, nil
}

// wrap prefixes body with the correlation id and sender and encloses it.
func wrap(id, sender, body string) string {
	return wrapperOpen + id + fieldSep + sender + fieldSep + body + wrapperClose
}

// unquote drops one pair of surrounding double quotes, as produced by
// translators that quote whole commands.
func unquote(s string) string {
	if len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		return s[1 : len(s)-1]
	}
	return s
}
