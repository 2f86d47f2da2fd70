package console

import (
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/fpt/agentbridge/internal/agentbus"
	"github.com/fpt/agentbridge/internal/bridge"
	"github.com/fpt/agentbridge/internal/translation"
)

const (
	ansiReset  = "\x1b[0m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiRed    = "\x1b[31m"
	ansiGray   = "\x1b[90m"
)

// messageKind groups server messages for display.
type messageKind int

const (
	kindReady messageKind = iota
	kindWarning
	kindError
	kindBus
)

func classify(msg string) messageKind {
	switch {
	case msg == bridge.ReadyMessage:
		return kindReady
	case strings.HasPrefix(msg, "Warning:"):
		return kindWarning
	case strings.HasPrefix(msg, "Error:"), strings.HasPrefix(msg, translation.ErrorCommandPrefix):
		return kindError
	default:
		return kindBus
	}
}

// formatIncoming decorates a server message for the terminal.
func formatIncoming(msg string, colored bool) string {
	var icon, color string
	switch classify(msg) {
	case kindReady:
		icon, color = "✅ ", ansiGreen
	case kindWarning:
		icon, color = "⚠️  ", ansiYellow
	case kindError:
		icon, color = "❌ ", ansiRed
	default:
		icon, color = "📡 ", ansiGray
		if m, err := agentbus.ParseMessage(msg); err == nil {
			msg = m.Sender + " " + m.Performative + ": " + m.Content
		}
	}
	if !colored {
		return icon + msg
	}
	return icon + color + msg + ansiReset
}

// separator spans the terminal width, or 60 columns when it is unknown.
func separator() string {
	width := 60
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 && w < width {
		width = w
	}
	return strings.Repeat("=", width)
}

// isTerminal reports whether f is attached to a TTY.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
