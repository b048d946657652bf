package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cadencehq/voicewire/internal/observability"
	"github.com/cadencehq/voicewire/internal/textseg"
	"github.com/cadencehq/voicewire/internal/tts"
)

// Coordinator drives the synthesis pipeline for one connection: it chunks a
// response text, synthesizes the chunks strictly in order and emits protocol
// events to the sink. Exactly one stream per connection is Active; a new
// Speak call cancels the previous session cooperatively (checked between
// chunks, never by interrupting an in-flight synthesis call).
type Coordinator struct {
	connectionID string
	synth        tts.Synthesizer
	maxLen       int
	mergeRatio   float64
	chunkDelay   time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger

	mu     sync.Mutex
	active *Session
}

// CoordinatorConfig holds the tunables for a Coordinator
type CoordinatorConfig struct {
	ChunkMaxLen     int           // Max characters per synthesis chunk
	MergeRatio      float64       // Trailing segment merge threshold
	InterChunkDelay time.Duration // Pacing delay between emitted chunks
}

// DefaultCoordinatorConfig returns production defaults
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		ChunkMaxLen:     300,
		MergeRatio:      textseg.DefaultMergeRatio,
		InterChunkDelay: 100 * time.Millisecond,
	}
}

// NewCoordinator creates a coordinator for one connection
func NewCoordinator(connectionID string, synth tts.Synthesizer, cfg CoordinatorConfig, metrics *observability.Metrics, logger zerolog.Logger) *Coordinator {
	if cfg.ChunkMaxLen <= 0 {
		cfg.ChunkMaxLen = 300
	}
	if cfg.MergeRatio <= 0 {
		cfg.MergeRatio = textseg.DefaultMergeRatio
	}
	return &Coordinator{
		connectionID: connectionID,
		synth:        synth,
		maxLen:       cfg.ChunkMaxLen,
		mergeRatio:   cfg.MergeRatio,
		chunkDelay:   cfg.InterChunkDelay,
		metrics:      metrics,
		logger:       logger.With().Str("component", "coordinator").Logger(),
	}
}

// Speak starts a new stream for the given response text, cancelling any
// Active session first, and blocks until the stream reaches a terminal
// state. Callers run it in its own goroutine per connection.
func (c *Coordinator) Speak(ctx context.Context, text string, sink EventSink) *Session {
	session := NewSession(c.connectionID)

	c.mu.Lock()
	if c.active != nil {
		c.active.Cancel()
	}
	c.active = session
	c.mu.Unlock()

	c.run(ctx, session, text, sink)
	return session
}

// CancelActive cancels the Active session, if any. Used when the connection
// closes or the user starts a new utterance.
func (c *Coordinator) CancelActive() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		c.active.Cancel()
	}
}

// ActiveSession returns the most recent session, which may already be in a
// terminal state.
func (c *Coordinator) ActiveSession() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// run executes the chunk-synthesize-emit loop for one session
func (c *Coordinator) run(ctx context.Context, session *Session, text string, sink EventSink) {
	logger := c.logger.With().Str("stream_id", session.ID).Logger()

	defer func() {
		// A panic in the iteration itself is a stream-level failure: emit
		// STREAM_ERROR and terminate without STREAM_END.
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("Stream iteration failed")
			session.finish(StateFailed)
			c.recordTerminal(session)
			_ = sink.Emit(Event{
				Type:     EventStreamError,
				StreamID: session.ID,
				Error: &StreamError{
					Code:    CodeStreamError,
					Message: fmt.Sprintf("stream processing failed: %v", r),
				},
			})
		}
	}()

	chunks := textseg.SplitWithMerge(text, c.maxLen, c.mergeRatio)
	session.setChunkCount(len(chunks))

	if c.metrics != nil {
		c.metrics.RecordStreamStart()
	}

	if err := sink.Emit(Event{Type: EventStreamStart, StreamID: session.ID}); err != nil {
		logger.Warn().Err(err).Msg("Failed to emit stream start, aborting")
		session.finish(StateFailed)
		c.recordTerminal(session)
		return
	}

	logger.Info().Int("chunks", len(chunks)).Msg("Stream started")

	for i, chunk := range chunks {
		// Cooperative cancellation: checked before each chunk
		if session.IsCancelled() {
			logger.Info().Int("at_chunk", i).Msg("Stream cancelled, suppressing further output")
			c.recordTerminal(session)
			return
		}
		if ctx.Err() != nil {
			session.finish(StateCancelled)
			c.recordTerminal(session)
			return
		}

		if c.metrics != nil {
			c.metrics.RecordSynthesisStart()
		}
		audio, err := c.synth.Synthesize(ctx, chunk.Text)
		if c.metrics != nil {
			c.metrics.RecordSynthesisEnd(err == nil)
		}

		// An in-flight call is allowed to finish, but its result is
		// discarded once the session is cancelled.
		if session.IsCancelled() {
			logger.Info().Int("at_chunk", i).Msg("Stream cancelled mid-synthesis, discarding result")
			c.recordTerminal(session)
			return
		}

		if err != nil {
			// One bad chunk must not abort the stream: report and move on
			// so the rest of the response stays intelligible.
			logger.Warn().Err(err).Int("chunk_index", chunk.Index).Msg("Chunk synthesis failed")
			if c.metrics != nil {
				c.metrics.RecordChunk("failed")
				c.metrics.RecordError("chunk_synthesis", "coordinator")
			}
			emitErr := sink.Emit(Event{
				Type:     EventStreamError,
				StreamID: session.ID,
				Error: &StreamError{
					Code:    CodeChunkError,
					Message: fmt.Sprintf("synthesis failed for chunk %d", chunk.Index),
					Details: map[string]interface{}{"index": chunk.Index},
				},
			})
			if emitErr != nil {
				session.finish(StateFailed)
				c.recordTerminal(session)
				return
			}
			continue
		}

		event := Event{
			Type:     EventStreamChunk,
			StreamID: session.ID,
			Chunk: &AudioChunk{
				ID:        uuid.New().String(),
				Index:     chunk.Index,
				Text:      chunk.Text,
				Audio:     audio,
				IsLast:    i == len(chunks)-1,
				Timestamp: time.Now().UnixMilli(),
			},
		}
		if err := sink.Emit(event); err != nil {
			logger.Warn().Err(err).Msg("Failed to emit chunk, aborting stream")
			session.finish(StateFailed)
			c.recordTerminal(session)
			return
		}
		session.recordEmitted()
		if c.metrics != nil {
			c.metrics.RecordChunk("emitted")
		}

		// Pacing delay between successful emissions keeps the receiver and
		// the synthesis service from being overwhelmed.
		if c.chunkDelay > 0 && i < len(chunks)-1 {
			select {
			case <-ctx.Done():
				session.finish(StateCancelled)
				c.recordTerminal(session)
				return
			case <-time.After(c.chunkDelay):
			}
		}
	}

	if session.IsCancelled() {
		c.recordTerminal(session)
		return
	}

	_ = sink.Emit(Event{Type: EventStreamEnd, StreamID: session.ID})
	session.finish(StateCompleted)
	c.recordTerminal(session)

	emitted, total := session.Progress()
	logger.Info().Int("emitted", emitted).Int("total", total).Msg("Stream completed")
}

func (c *Coordinator) recordTerminal(session *Session) {
	if c.metrics != nil {
		c.metrics.RecordStreamEnd(session.State().String())
	}
}
