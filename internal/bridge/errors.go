package bridge

import (
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/fpt/agentbridge/internal/agentbus"
	"github.com/fpt/agentbridge/internal/session"
	"github.com/fpt/agentbridge/internal/translation"
)

// Status text sent to clients.
const (
	ReadyMessage    = "Connection stabilized and IA session ready."
	NotReadyWarning = "Warning: Session not ready. Wait for the handshake to finish."
	BusyWarning     = "Warning: Previous message is still being processed."
	errorPrefix     = "Error: "
)

var (
	ErrConfigInvalid          = session.ErrInvalidConfig
	ErrBusConnectTimeout      = errors.New("agent bus did not connect in time")
	ErrBusReplyTimeout        = agentbus.ErrReplyTimeout
	ErrTranslationUnavailable = translation.ErrBackendUnavailable
	ErrSessionNotReady        = errors.New("session not ready")
	ErrSessionBusy            = errors.New("session busy")
)

// Classify renders a handshake or dispatch failure as the client message.
func Classify(err error) string {
	var cfgErr *session.ConfigError
	var backendErr *translation.BackendError
	switch {
	case errors.As(err, &cfgErr):
		return errorPrefix + "Invalid configuration: " + cfgErr.Detail
	case errors.Is(err, ErrConfigInvalid):
		return errorPrefix + "Invalid configuration: " + err.Error()
	case errors.Is(err, ErrBusConnectTimeout):
		return errorPrefix + "Agent bus did not connect in time."
	case errors.Is(err, ErrBusReplyTimeout):
		return errorPrefix + "Agent did not respond with its plans."
	case errors.As(err, &backendErr):
		return errorPrefix + "Translation service unavailable: " + backendErr.Err.Error()
	case errors.Is(err, ErrTranslationUnavailable):
		return errorPrefix + "Translation service unavailable: " + err.Error()
	case errors.Is(err, ErrSessionNotReady):
		return NotReadyWarning
	case errors.Is(err, ErrSessionBusy):
		return BusyWarning
	default:
		return errorPrefix + err.Error()
	}
}

// closeCode picks the WebSocket close code for a failed handshake.
func closeCode(err error) int {
	switch {
	case errors.Is(err, ErrConfigInvalid):
		return websocket.ClosePolicyViolation
	case errors.Is(err, ErrBusConnectTimeout), errors.Is(err, ErrBusReplyTimeout), errors.Is(err, ErrTranslationUnavailable):
		return websocket.CloseTryAgainLater
	default:
		return websocket.CloseInternalServerErr
	}
}
