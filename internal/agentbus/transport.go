package agentbus

import "context"

// Transport is the raw connection to the agent bus. Implementations deliver
// lifecycle and inbound traffic through the TransportEvents given to Start.
type Transport interface {
	// Start begins connecting in the background. It returns an error only when
	// the attempt cannot be made at all.
	Start(ctx context.Context, events TransportEvents) error
	// Send hands a payload to the bus.
	Send(payload string) error
	// Close releases the connection. Safe to call more than once.
	Close() error
}

// TransportEvents receives notifications from a Transport.
type TransportEvents interface {
	Connected()
	Disconnected(err error)
	MessageReceived(payload string)
	InternalError(err error)
}
