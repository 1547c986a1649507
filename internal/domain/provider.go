package domain

import "context"

// EventStream is an open streamed response.
type EventStream interface {
	// Events yields events in arrival order and is closed when the stream
	// ends, fails, or is closed.
	Events() <-chan StreamEvent
	// Err reports the fault that ended the stream, if any. It is only
	// meaningful after Events has been closed.
	Err() error
	// Close releases the underlying connection.
	Close() error
}

// StreamingProvider is the boundary to a hosted streaming inference API.
type StreamingProvider interface {
	// ConverseStream opens a single streaming request.
	ConverseStream(ctx context.Context, req StreamRequest) (EventStream, error)
	// Name returns the provider's identifier (e.g., "bedrock").
	Name() string
}
