package domain

// ContextWindowProvider is an optional extension that LLM clients can implement
// to expose the model's maximum context window (input token capacity).
//
// Callers compare a session's prompt cost against it to warn before the
// conversation overflows.
type ContextWindowProvider interface {
	// MaxContextTokens returns the maximum number of input tokens supported
	// by the model's context window.
	MaxContextTokens() int
}
