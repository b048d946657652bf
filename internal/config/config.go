package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the voicewire service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Public base URL for this service (e.g. https://xxx.ngrok-free.dev when
	// behind a tunnel). Used for logging the WebSocket endpoint; clients
	// connect to wss://<this-host>/ws.
	// Optional; if unset, logs ws://localhost:PORT/ws.
	PublicURL string `envconfig:"VOICEWIRE_PUBLIC_URL" default:""`

	// Cartesia TTS API configuration
	CartesiaAPIKey  string `envconfig:"CARTESIA_API_KEY" required:"true"`
	CartesiaAPIURL  string `envconfig:"CARTESIA_API_URL" default:"https://api.cartesia.ai/v1/tts"`
	CartesiaVoiceID string `envconfig:"CARTESIA_VOICE_ID" default:"sonic-english"` // Voice ID for Cartesia
	CartesiaModelID string `envconfig:"CARTESIA_MODEL_ID" default:"sonic"`         // Model ID (sonic, etc.)
	TTSTimeout      int    `envconfig:"TTS_TIMEOUT" default:"30"`                  // Per-request timeout in seconds

	// Deepgram STT API configuration
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY" required:"true"`
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"` // nova-2, enhanced, base
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`  // Language code (en, es, fr, etc.)

	// Language model configuration (OpenAI-compatible API)
	LLMAPIKey  string `envconfig:"LLM_API_KEY" required:"true"`
	LLMBaseURL string `envconfig:"LLM_BASE_URL" default:""` // Empty uses the OpenAI default
	LLMModel   string `envconfig:"LLM_MODEL" default:"gpt-4o-mini"`
	LLMTimeout int    `envconfig:"LLM_TIMEOUT" default:"60"` // Request timeout in seconds

	// Text chunking configuration
	ChunkMaxLen       int     `envconfig:"CHUNK_MAX_LEN" default:"300"`        // Max characters per synthesis chunk
	ChunkMergeRatio   float64 `envconfig:"CHUNK_MERGE_RATIO" default:"0.3"`    // Merge trailing segment below this fraction of max
	InterChunkDelayMs int     `envconfig:"INTER_CHUNK_DELAY_MS" default:"100"` // Pacing delay between emitted chunks

	// Playback queue configuration
	MaxQueueDepth int `envconfig:"MAX_QUEUE_DEPTH" default:"10"` // Max buffered audio chunks before backpressure

	// Voice activity detection configuration
	VADNoiseFloor        float64 `envconfig:"VAD_NOISE_FLOOR" default:"10.0"`        // Absolute minimum silence threshold
	VADSilenceFactor     float64 `envconfig:"VAD_SILENCE_FACTOR" default:"1.5"`      // silenceThreshold = max(floor, baseline*factor)
	VADSpeechFactor      float64 `envconfig:"VAD_SPEECH_FACTOR" default:"2.0"`       // speechThreshold = silenceThreshold*factor
	VADBaselineDecay     float64 `envconfig:"VAD_BASELINE_DECAY" default:"0.7"`      // Weight of previous baseline in the EMA
	VADMinSpeechMs       int     `envconfig:"VAD_MIN_SPEECH_MS" default:"500"`       // Minimum speech duration for a valid utterance
	VADSilenceTimeoutMs  int     `envconfig:"VAD_SILENCE_TIMEOUT_MS" default:"900"`  // Silence before speechEnd once speech confirmed
	VADInitialTimeoutMs  int     `envconfig:"VAD_INITIAL_TIMEOUT_MS" default:"1500"` // Silence timeout before any speech confirmed
	AudioCaptureBufBytes int     `envconfig:"AUDIO_CAPTURE_BUF_BYTES" default:"8192"`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Maximum retries after the first attempt
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"1000"`       // Initial backoff in milliseconds
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`         // Maximum reconnection attempts
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"`           // Reconnection backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.CartesiaAPIKey == "" {
		return fmt.Errorf("CARTESIA_API_KEY is required")
	}
	if c.DeepgramAPIKey == "" {
		return fmt.Errorf("DEEPGRAM_API_KEY is required")
	}
	if c.LLMAPIKey == "" {
		return fmt.Errorf("LLM_API_KEY is required")
	}
	if c.ChunkMaxLen <= 0 {
		return fmt.Errorf("CHUNK_MAX_LEN must be positive, got %d", c.ChunkMaxLen)
	}
	if c.MaxQueueDepth <= 0 {
		return fmt.Errorf("MAX_QUEUE_DEPTH must be positive, got %d", c.MaxQueueDepth)
	}
	if c.VADSpeechFactor <= 1.0 {
		return fmt.Errorf("VAD_SPEECH_FACTOR must be greater than 1.0 for hysteresis, got %f", c.VADSpeechFactor)
	}
	return nil
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
