package streamingmodule

import "errors"

// Sentinel errors surfaced by the streaming service. Callers classify with
// errors.Is; collaborator failures are wrapped with %w and keep their own
// identity underneath.
var (
	// ErrMediaFileNotFound indicates the requested media identifier is
	// unknown to the catalog. Terminal, not retried.
	ErrMediaFileNotFound = errors.New("media file not found")

	// ErrSessionNotFound indicates an operation on an unregistered session id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrMaxConcurrentTranscodes indicates admission was denied because the
	// transcode slot budget is exhausted. Callers may retry later or request
	// passthrough delivery.
	ErrMaxConcurrentTranscodes = errors.New("maximum concurrent transcodes exceeded")
)
