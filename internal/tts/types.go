package tts

import (
	"context"
	"fmt"
)

// ErrorKind classifies a synthesis failure
type ErrorKind string

const (
	ErrKindTimeout      ErrorKind = "timeout"       // Network timeout
	ErrKindNetwork      ErrorKind = "network"       // Transport-level failure
	ErrKindServer       ErrorKind = "server"        // Transient 5xx from the synthesis service
	ErrKindRateLimited  ErrorKind = "rate_limited"  // 429 from the synthesis service
	ErrKindAuth         ErrorKind = "auth"          // Invalid or missing credentials
	ErrKindBadRequest   ErrorKind = "bad_request"   // Malformed request, not transient
	ErrKindInvalidAudio ErrorKind = "invalid_audio" // Response could not be parsed as audio
)

// SynthesisError describes a failed synthesis call. Retryable failures are
// transient faults (timeouts, 5xx, rate limits); non-retryable ones are
// configuration errors that repeating the call cannot fix.
type SynthesisError struct {
	Kind       ErrorKind
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *SynthesisError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("synthesis failed (%s, status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("synthesis failed (%s): %v", e.Kind, e.Err)
}

func (e *SynthesisError) Unwrap() error {
	return e.Err
}

// Synthesizer converts one text segment into an audio payload
type Synthesizer interface {
	// Synthesize performs one synthesis call, retrying transient failures
	// internally. The returned bytes are a complete encoded audio payload.
	Synthesize(ctx context.Context, text string) ([]byte, error)

	// Close releases client resources
	Close() error
}
