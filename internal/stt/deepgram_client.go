package stt

import (
	"context"
	"fmt"
	"sync"
	"time"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/cadencehq/voicewire/internal/config"
	"github.com/cadencehq/voicewire/internal/observability"
	"github.com/cadencehq/voicewire/internal/resilience"
)

// callbackBridge satisfies the SDK's LiveMessageCallback interface by
// embedding the default handler and overriding only Message and Error
type callbackBridge struct {
	*websocketv1api.DefaultCallbackHandler
	onMessage func(*msginterfaces.MessageResponse)
	onError   func(*msginterfaces.ErrorResponse) error
}

func (b *callbackBridge) Message(message *msginterfaces.MessageResponse) error {
	b.onMessage(message)
	return nil
}

func (b *callbackBridge) Error(errorResponse *msginterfaces.ErrorResponse) error {
	if b.onError != nil {
		return b.onError(errorResponse)
	}
	return b.DefaultCallbackHandler.Error(errorResponse)
}

// DeepgramClient implements Client over Deepgram's streaming WebSocket API.
// Capture audio is expected as 16-bit linear PCM at 16kHz mono, matching the
// buffers the capture ring hands the sender.
type DeepgramClient struct {
	config  *config.Config
	logger  zerolog.Logger
	breaker *resilience.CircuitBreaker

	mu       sync.RWMutex
	client   *listenClient.WSCallback
	isActive bool

	transcripts chan *Transcript
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewDeepgramClient creates a streaming Deepgram client
func NewDeepgramClient(cfg *config.Config, logger zerolog.Logger) *DeepgramClient {
	ctx, cancel := context.WithCancel(context.Background())

	return &DeepgramClient{
		config: cfg,
		logger: logger.With().Str("component", "stt").Logger(),
		breaker: resilience.NewCircuitBreaker(
			"deepgram",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		),
		transcripts: make(chan *Transcript, 100),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start opens a new streaming transcription session
func (d *DeepgramClient) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.isActive {
		return fmt.Errorf("deepgram client is already active")
	}

	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          d.config.DeepgramModel,
		Language:       d.config.DeepgramLanguage,
		Punctuate:      true,
		InterimResults: true,
		UtteranceEndMs: "1000",
		VadEvents:      true,
		Encoding:       "linear16",
		Channels:       1,
		SampleRate:     16000,
	}

	callback := &callbackBridge{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		onMessage:              d.handleMessage,
		onError: func(errorResponse *msginterfaces.ErrorResponse) error {
			d.logger.Error().Interface("response", errorResponse).Msg("Deepgram stream error")

			d.breaker.RecordResult(false)
			observability.UpdateCircuitBreakerState(d.breaker.Name(), int(d.breaker.GetState()))
			observability.IncrementCircuitBreakerFailures(d.breaker.Name())

			select {
			case <-d.ctx.Done():
				return nil
			default:
				d.mu.Lock()
				d.isActive = false
				d.mu.Unlock()
				go d.attemptReconnect()
			}
			return nil
		},
	}

	client, err := listenClient.NewWSUsingCallback(
		d.ctx,
		d.config.DeepgramAPIKey,
		nil, // default client options
		tOptions,
		callback,
	)
	if err != nil {
		return fmt.Errorf("failed to create deepgram client: %w", err)
	}

	d.client = client
	d.isActive = true

	d.breaker.RecordResult(true)
	observability.UpdateCircuitBreakerState(d.breaker.Name(), int(d.breaker.GetState()))

	d.logger.Info().
		Str("model", d.config.DeepgramModel).
		Str("language", d.config.DeepgramLanguage).
		Msg("Deepgram streaming session started")
	return nil
}

// handleMessage routes messages from the Deepgram stream
func (d *DeepgramClient) handleMessage(msg *msginterfaces.MessageResponse) {
	if msg == nil {
		return
	}

	switch msg.Type {
	case "Metadata":
		d.logger.Debug().Interface("metadata", msg.Metadata).Msg("Deepgram metadata")

	case "SpeechStarted":
		d.logger.Debug().Msg("Deepgram reported speech start")

	case "UtteranceEnd":
		d.logger.Debug().Msg("Deepgram reported utterance end")

	case "Results", "Message":
		if len(msg.Channel.Alternatives) == 0 {
			return
		}
		alt := msg.Channel.Alternatives[0]
		if alt.Transcript == "" {
			return
		}

		startTime := msg.Start
		duration := msg.Duration
		if len(alt.Words) > 0 && duration == 0 {
			startTime = alt.Words[0].Start
			duration = alt.Words[len(alt.Words)-1].End - startTime
		}

		result := &Transcript{
			Text:       alt.Transcript,
			IsFinal:    msg.IsFinal,
			Confidence: alt.Confidence,
			StartTime:  startTime,
			Duration:   duration,
		}

		select {
		case d.transcripts <- result:
			observability.RecordSTTResult(msg.IsFinal)
			d.logger.Debug().
				Bool("final", msg.IsFinal).
				Float64("confidence", alt.Confidence).
				Str("text", alt.Transcript).
				Msg("Transcription received")
		default:
			d.logger.Warn().Msg("Transcript channel full, dropping result")
		}

	default:
		d.logger.Debug().Str("type", msg.Type).Msg("Unhandled Deepgram message type")
	}
}

// SendAudio streams one captured buffer to Deepgram
func (d *DeepgramClient) SendAudio(audioData []byte) error {
	err := d.breaker.Call(func() error {
		d.mu.RLock()
		active := d.isActive
		client := d.client
		d.mu.RUnlock()

		if !active || client == nil {
			return fmt.Errorf("deepgram client is not active")
		}

		if _, err := client.Write(audioData); err != nil {
			go d.attemptReconnect()
			return fmt.Errorf("failed to send audio to deepgram: %w", err)
		}
		return nil
	})

	observability.UpdateCircuitBreakerState(d.breaker.Name(), int(d.breaker.GetState()))
	if err != nil {
		observability.IncrementCircuitBreakerFailures(d.breaker.Name())
	}
	return err
}

// attemptReconnect re-establishes the stream with exponential backoff
func (d *DeepgramClient) attemptReconnect() {
	select {
	case <-d.ctx.Done():
		return
	default:
	}

	d.mu.RLock()
	alreadyActive := d.isActive
	d.mu.RUnlock()
	if alreadyActive {
		return
	}

	reconnectConfig := &resilience.ReconnectConfig{
		MaxAttempts: d.config.ReconnectMaxAttempts,
		Backoff:     time.Duration(d.config.ReconnectBackoff) * time.Millisecond,
		Multiplier:  2.0,
		MaxBackoff:  30 * time.Second,
	}

	if err := resilience.Reconnect(d.ctx, d.Start, reconnectConfig); err != nil {
		d.logger.Error().Err(err).Msg("Failed to reconnect Deepgram stream")
		return
	}
	d.logger.Info().Msg("Deepgram stream reconnected")
}

// Transcripts returns the channel transcription results arrive on
func (d *DeepgramClient) Transcripts() <-chan *Transcript {
	return d.transcripts
}

// Stop ends the streaming session
func (d *DeepgramClient) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.isActive {
		return nil
	}

	d.client.Finish()
	d.isActive = false
	d.logger.Info().Msg("Deepgram streaming session stopped")
	return nil
}

// Close stops the session and cancels any pending reconnects
func (d *DeepgramClient) Close() error {
	d.cancel()

	if err := d.Stop(); err != nil {
		return err
	}

	// Give pending readers a moment before the channel closes
	go func() {
		time.Sleep(100 * time.Millisecond)
		close(d.transcripts)
	}()

	return nil
}

// IsActive reports whether a streaming session is open
func (d *DeepgramClient) IsActive() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.isActive
}
