package config

import (
	"os"
	"testing"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("CARTESIA_API_KEY", "test-cartesia-key")
	t.Setenv("DEEPGRAM_API_KEY", "test-deepgram-key")
	t.Setenv("LLM_API_KEY", "test-llm-key")
}

func TestLoad(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.CartesiaAPIKey != "test-cartesia-key" {
		t.Errorf("Expected CartesiaAPIKey 'test-cartesia-key', got '%s'", cfg.CartesiaAPIKey)
	}

	if cfg.DeepgramAPIKey != "test-deepgram-key" {
		t.Errorf("Expected DeepgramAPIKey 'test-deepgram-key', got '%s'", cfg.DeepgramAPIKey)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	os.Unsetenv("CARTESIA_API_KEY")
	os.Unsetenv("DEEPGRAM_API_KEY")
	os.Unsetenv("LLM_API_KEY")

	_, err := Load()
	if err == nil {
		t.Error("Expected error when required keys are missing")
	}
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected default Port '8080', got '%s'", cfg.Port)
	}

	if cfg.ChunkMaxLen != 300 {
		t.Errorf("Expected default ChunkMaxLen 300, got %d", cfg.ChunkMaxLen)
	}

	if cfg.MaxQueueDepth != 10 {
		t.Errorf("Expected default MaxQueueDepth 10, got %d", cfg.MaxQueueDepth)
	}

	if cfg.RetryMaxAttempts != 3 {
		t.Errorf("Expected default RetryMaxAttempts 3, got %d", cfg.RetryMaxAttempts)
	}

	if cfg.RetryInitialBackoff != 1000 {
		t.Errorf("Expected default RetryInitialBackoff 1000, got %d", cfg.RetryInitialBackoff)
	}

	if cfg.VADMinSpeechMs != 500 {
		t.Errorf("Expected default VADMinSpeechMs 500, got %d", cfg.VADMinSpeechMs)
	}
}

func TestLoad_InvalidChunkMaxLen(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("CHUNK_MAX_LEN", "0")

	_, err := Load()
	if err == nil {
		t.Error("Expected error for non-positive CHUNK_MAX_LEN")
	}
}

func TestLoad_InvalidSpeechFactor(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("VAD_SPEECH_FACTOR", "0.9")

	_, err := Load()
	if err == nil {
		t.Error("Expected error for VAD_SPEECH_FACTOR <= 1.0")
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("VOICEWIRE_TEST_KEY", "value")

	if got := GetEnv("VOICEWIRE_TEST_KEY", "fallback"); got != "value" {
		t.Errorf("Expected 'value', got '%s'", got)
	}

	if got := GetEnv("VOICEWIRE_MISSING_KEY", "fallback"); got != "fallback" {
		t.Errorf("Expected 'fallback', got '%s'", got)
	}
}
