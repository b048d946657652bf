package playback

import (
	"github.com/rs/zerolog"

	"github.com/cadencehq/voicewire/internal/stream"
)

// Sink adapts a Manager to the stream.EventSink interface so a coordinator
// can feed playback directly in-process, without a transport hop.
type Sink struct {
	manager *Manager
	logger  zerolog.Logger
}

// NewSink wraps a manager as an event sink
func NewSink(manager *Manager, logger zerolog.Logger) *Sink {
	return &Sink{
		manager: manager,
		logger:  logger.With().Str("component", "playback_sink").Logger(),
	}
}

// Emit routes protocol events into the playback queue. A FULL rejection is
// backpressure, not a delivery failure, so it is reported but not returned;
// returning it would abort the whole stream for one dropped chunk.
func (s *Sink) Emit(event stream.Event) error {
	switch event.Type {
	case stream.EventStreamStart:
		s.manager.BeginStream()

	case stream.EventStreamChunk:
		if event.Chunk == nil {
			return nil
		}
		if err := s.manager.Enqueue(*event.Chunk); err != nil {
			s.logger.Warn().Err(err).Str("chunk_id", event.Chunk.ID).Msg("Chunk not queued")
		}

	case stream.EventStreamError:
		if event.Error != nil {
			s.logger.Warn().
				Str("code", string(event.Error.Code)).
				Str("message", event.Error.Message).
				Msg("Stream reported an error")
		}
	}
	return nil
}
