// Package transport carries the voice protocol over a persistent WebSocket
// connection: capture audio and speak requests inbound, ordered stream and
// speech events outbound.
package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/cadencehq/voicewire/internal/audio"
	"github.com/cadencehq/voicewire/internal/config"
	"github.com/cadencehq/voicewire/internal/llm"
	"github.com/cadencehq/voicewire/internal/observability"
	"github.com/cadencehq/voicewire/internal/stream"
	"github.com/cadencehq/voicewire/internal/stt"
	"github.com/cadencehq/voicewire/internal/tts"
	"github.com/cadencehq/voicewire/internal/vad"
)

const systemPrompt = "You are a helpful voice assistant. Keep responses concise and natural to speak aloud."

// ClientMessage is an inbound message from the client
type ClientMessage struct {
	Type  string `json:"type"`            // "start", "media", "speak", "stop"
	Text  string `json:"text,omitempty"`  // response text for speak requests
	Media string `json:"media,omitempty"` // base64-encoded 16-bit PCM capture buffer
}

// TranscriptMessage is an outbound transcription update
type TranscriptMessage struct {
	Type    string `json:"type"` // "transcript"
	Text    string `json:"text"`
	IsFinal bool   `json:"isFinal"`
}

// Session owns one client connection: it reads capture audio and requests,
// segments utterances, transcribes them, generates a response and drives the
// synthesis stream back over the same connection.
type Session struct {
	conn         *websocket.Conn
	connectionID string
	config       *config.Config

	coordinator *stream.Coordinator
	sttClient   stt.Client
	textSource  llm.TextSource
	segmenter   *vad.Segmenter
	captureBuf  *audio.RingBuffer

	mu           sync.RWMutex
	isActive     bool
	pendingParts []string // final transcript parts for the current utterance

	writeMu sync.Mutex

	metrics *observability.Metrics
	logger  zerolog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	sttOnce sync.Once
}

// NewSession creates a session for an upgraded connection
func NewSession(conn *websocket.Conn, cfg *config.Config, sttClient stt.Client, textSource llm.TextSource, synth tts.Synthesizer, logger zerolog.Logger) *Session {
	connectionID := observability.NewCorrelationID()
	ctx, cancel := context.WithCancel(context.Background())

	metrics := observability.NewConnectionMetrics(connectionID)
	metrics.RecordConnectionStart()

	logger = logger.With().Str("connection_id", connectionID).Logger()
	coordinator := stream.NewCoordinator(connectionID, synth, stream.CoordinatorConfig{
		ChunkMaxLen:     cfg.ChunkMaxLen,
		MergeRatio:      cfg.ChunkMergeRatio,
		InterChunkDelay: time.Duration(cfg.InterChunkDelayMs) * time.Millisecond,
	}, metrics, logger)

	return &Session{
		conn:         conn,
		connectionID: connectionID,
		config:       cfg,
		coordinator:  coordinator,
		sttClient:    sttClient,
		textSource:   textSource,
		segmenter: vad.NewSegmenter(vad.Config{
			NoiseFloor:     cfg.VADNoiseFloor,
			SilenceFactor:  cfg.VADSilenceFactor,
			SpeechFactor:   cfg.VADSpeechFactor,
			BaselineDecay:  cfg.VADBaselineDecay,
			MinSpeech:      time.Duration(cfg.VADMinSpeechMs) * time.Millisecond,
			SilenceTimeout: time.Duration(cfg.VADSilenceTimeoutMs) * time.Millisecond,
			InitialTimeout: time.Duration(cfg.VADInitialTimeoutMs) * time.Millisecond,
		}, logger),
		captureBuf: audio.NewRingBuffer(cfg.AudioCaptureBufBytes),
		metrics:    metrics,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		isActive:   true,
	}
}

// Run processes the connection until it closes
func (s *Session) Run() {
	go s.pumpCaptureAudio()
	s.readLoop()
	<-s.done
}

// readLoop handles all inbound messages
func (s *Session) readLoop() {
	defer func() {
		s.coordinator.CancelActive()
		if err := s.sttClient.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("Error closing STT client")
		}
		s.cancel()
		s.metrics.RecordConnectionEnd()
		close(s.done)
	}()

	for {
		s.mu.RLock()
		active := s.isActive
		s.mu.RUnlock()
		if !active {
			return
		}

		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			s.mu.Lock()
			s.isActive = false
			s.mu.Unlock()
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			s.logger.Error().Err(err).Msg("Failed to parse client message")
			continue
		}

		switch msg.Type {
		case "start":
			s.handleStart()

		case "media":
			s.handleMedia(msg.Media)

		case "speak":
			// A new request preempts the active stream via cooperative
			// cancellation inside the coordinator.
			go s.speak(msg.Text)

		case "stop":
			s.logger.Info().Msg("Client ended session")
			s.mu.Lock()
			s.isActive = false
			s.mu.Unlock()
			if err := s.sttClient.Stop(); err != nil {
				s.logger.Warn().Err(err).Msg("Error stopping STT client")
			}
			return

		default:
			s.logger.Debug().Str("type", msg.Type).Msg("Unknown client message type")
		}
	}
}

// handleStart opens the transcription session and resets capture state
func (s *Session) handleStart() {
	s.segmenter.Reset()
	s.captureBuf.Clear()

	if err := s.sttClient.Start(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to start STT session")
		s.metrics.RecordError("stt_start", "transport")
		return
	}

	s.sttOnce.Do(func() {
		go s.processTranscripts()
	})
	s.logger.Info().Msg("Capture session started")
}

// handleMedia buffers one capture payload and feeds the voice activity
// segmenter with its level
func (s *Session) handleMedia(payload string) {
	if payload == "" {
		return
	}

	audioData, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to decode capture payload")
		return
	}
	s.metrics.RecordAudioBytes("in", int64(len(audioData)))

	if written := s.captureBuf.Write(audioData); written < len(audioData) {
		s.logger.Warn().Int("dropped", len(audioData)-written).Msg("Capture buffer overflow")
	}

	level, err := audio.LevelFromPCM16(audioData)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to compute capture level")
		return
	}

	for _, event := range s.segmenter.Process(level, time.Now()) {
		switch event.Type {
		case vad.SpeechStart:
			_ = s.Emit(stream.Event{Type: stream.EventSpeechStart})
		case vad.SpeechEnd:
			_ = s.Emit(stream.Event{Type: stream.EventSpeechEnd})
			s.finishUtterance()
		}
	}
}

// pumpCaptureAudio drains the capture ring buffer to the STT stream on a
// steady cadence, decoupling WebSocket reads from STT sends
func (s *Session) pumpCaptureAudio() {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	buf := make([]byte, 3200)
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			n := s.captureBuf.Read(buf)
			if n == 0 {
				continue
			}
			if err := s.sttClient.SendAudio(buf[:n]); err != nil {
				s.logger.Warn().Err(err).Msg("Failed to forward capture audio")
			}
		}
	}
}

// processTranscripts forwards transcription updates to the client and
// accumulates final parts for the current utterance
func (s *Session) processTranscripts() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case result, ok := <-s.sttClient.Transcripts():
			if !ok {
				return
			}
			if result == nil {
				continue
			}

			s.writeJSON(TranscriptMessage{Type: "transcript", Text: result.Text, IsFinal: result.IsFinal})

			if result.IsFinal {
				s.mu.Lock()
				s.pendingParts = append(s.pendingParts, result.Text)
				s.mu.Unlock()
			}
		}
	}
}

// finishUtterance turns the accumulated transcript into a spoken response
func (s *Session) finishUtterance() {
	s.mu.Lock()
	parts := s.pendingParts
	s.pendingParts = nil
	s.mu.Unlock()

	transcript := strings.TrimSpace(strings.Join(parts, " "))
	if transcript == "" {
		return
	}

	s.logger.Info().Str("transcript", transcript).Msg("Utterance complete")
	go s.respond(transcript)
}

// respond generates response text and streams its synthesis to the client
func (s *Session) respond(transcript string) {
	reply, err := s.textSource.Generate(s.ctx, []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: transcript},
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("Response generation failed")
		s.metrics.RecordError("llm_generate", "transport")
		_ = s.Emit(stream.Event{
			Type: stream.EventStreamError,
			Error: &stream.StreamError{
				Code:    stream.CodeNetworkError,
				Message: "response generation failed",
			},
		})
		return
	}

	s.speak(reply)
}

// speak runs one synthesis stream to completion
func (s *Session) speak(text string) {
	session := s.coordinator.Speak(s.ctx, text, s)
	s.logger.Info().
		Str("stream_id", session.ID).
		Str("state", session.State().String()).
		Msg("Stream finished")
}

// Emit implements stream.EventSink over the WebSocket connection. The write
// mutex preserves emission order and satisfies gorilla's single-writer rule.
func (s *Session) Emit(event stream.Event) error {
	if event.Chunk != nil {
		s.metrics.RecordAudioBytes("out", int64(len(event.Chunk.Audio)))
	}
	return s.writeJSON(event)
}

func (s *Session) writeJSON(v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}
