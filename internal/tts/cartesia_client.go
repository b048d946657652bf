package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/cadencehq/voicewire/internal/config"
	"github.com/cadencehq/voicewire/internal/observability"
	"github.com/cadencehq/voicewire/internal/resilience"
)

// CartesiaClient implements Synthesizer using Cartesia's TTS API
type CartesiaClient struct {
	apiKey     string
	apiURL     string
	voiceID    string
	modelID    string
	httpClient *http.Client
	retryCfg   *resilience.RetryConfig
	breaker    *resilience.CircuitBreaker
	logger     zerolog.Logger
}

// CartesiaRequest represents the request payload for Cartesia TTS API
type CartesiaRequest struct {
	Text         string  `json:"text"`
	VoiceID      string  `json:"voice_id"`
	ModelID      string  `json:"model_id,omitempty"`
	OutputFormat string  `json:"output_format,omitempty"`
	SampleRate   int     `json:"sample_rate,omitempty"`
	Speed        float64 `json:"speed,omitempty"`
}

// NewCartesiaClient creates a new Cartesia TTS client
func NewCartesiaClient(cfg *config.Config) *CartesiaClient {
	return &CartesiaClient{
		apiKey:  cfg.CartesiaAPIKey,
		apiURL:  cfg.CartesiaAPIURL,
		voiceID: cfg.CartesiaVoiceID,
		modelID: cfg.CartesiaModelID,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TTSTimeout) * time.Second,
		},
		retryCfg: &resilience.RetryConfig{
			MaxRetries:        cfg.RetryMaxAttempts,
			InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:        30 * time.Second,
			BackoffMultiplier: 2.0,
		},
		breaker: resilience.NewCircuitBreaker(
			"cartesia",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		),
		logger: observability.GetLogger().With().Str("component", "tts").Logger(),
	}
}

// Synthesize converts one text segment to audio bytes. Transient failures
// (timeouts, 5xx, rate limits) are retried with exponential backoff; auth and
// malformed-request responses fail immediately. Exhausting retries returns
// the last SynthesisError.
func (c *CartesiaClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	var audio []byte
	attempts := 0

	err := resilience.Retry(ctx, func(ctx context.Context) error {
		attempts++
		if attempts > 1 {
			observability.RecordSynthesisRetry()
			c.logger.Debug().Int("attempt", attempts).Msg("Retrying synthesis")
		}

		return c.breaker.Call(func() error {
			data, err := c.doRequest(ctx, text)
			if err != nil {
				return err
			}
			audio = data
			return nil
		})
	}, c.retryCfg, func(err error) bool {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return false
		}
		var synthErr *SynthesisError
		if errors.As(err, &synthErr) {
			return synthErr.Retryable
		}
		return resilience.IsRetryableNetworkError(err)
	})

	observability.UpdateCircuitBreakerState("cartesia", int(c.breaker.GetState()))
	if err != nil {
		observability.IncrementCircuitBreakerFailures("cartesia")
		return nil, err
	}

	return audio, nil
}

// doRequest performs a single synthesis call
func (c *CartesiaClient) doRequest(ctx context.Context, text string) ([]byte, error) {
	reqBody := CartesiaRequest{
		Text:         text,
		VoiceID:      c.voiceID,
		ModelID:      c.modelID,
		OutputFormat: "mp3",
		SampleRate:   24000,
		Speed:        1.0,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, &SynthesisError{Kind: ErrKindBadRequest, Retryable: false, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(jsonData))
	if err != nil {
		return nil, &SynthesisError{Kind: ErrKindBadRequest, Retryable: false, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		kind := ErrKindNetwork
		if errors.Is(err, context.DeadlineExceeded) {
			kind = ErrKindTimeout
		}
		return nil, &SynthesisError{Kind: kind, Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &SynthesisError{Kind: ErrKindNetwork, Retryable: true, Err: err}
	}

	if err := validateAudio(data); err != nil {
		// Garbled payloads are synthesis failures subject to the same
		// retry policy, never silently passed downstream.
		return nil, &SynthesisError{Kind: ErrKindInvalidAudio, Retryable: true, Err: err}
	}

	return data, nil
}

// classifyStatus maps an HTTP status to a SynthesisError
func classifyStatus(status int) *SynthesisError {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &SynthesisError{
			Kind:       ErrKindAuth,
			StatusCode: status,
			Retryable:  false,
			Err:        fmt.Errorf("synthesis service rejected credentials"),
		}
	case status == http.StatusTooManyRequests:
		return &SynthesisError{
			Kind:       ErrKindRateLimited,
			StatusCode: status,
			Retryable:  true,
			Err:        fmt.Errorf("synthesis service rate limited the request"),
		}
	case status == http.StatusRequestTimeout:
		return &SynthesisError{
			Kind:       ErrKindTimeout,
			StatusCode: status,
			Retryable:  true,
			Err:        fmt.Errorf("synthesis request timed out"),
		}
	case status >= 500:
		return &SynthesisError{
			Kind:       ErrKindServer,
			StatusCode: status,
			Retryable:  true,
			Err:        fmt.Errorf("synthesis service returned status %d", status),
		}
	default:
		return &SynthesisError{
			Kind:       ErrKindBadRequest,
			StatusCode: status,
			Retryable:  false,
			Err:        fmt.Errorf("synthesis service returned status %d", status),
		}
	}
}

// validateAudio performs a cheap sanity check on the returned payload
func validateAudio(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("empty audio payload")
	}
	// MP3 payloads start with an ID3 tag or an MPEG frame sync byte
	if len(data) >= 3 && string(data[:3]) == "ID3" {
		return nil
	}
	if data[0] == 0xFF {
		return nil
	}
	return fmt.Errorf("payload does not look like encoded audio")
}

// Close releases client resources
func (c *CartesiaClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
