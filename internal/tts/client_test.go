package tts

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cadencehq/voicewire/internal/config"
)

func testConfig(url string) *config.Config {
	return &config.Config{
		CartesiaAPIKey:             "test-key",
		CartesiaAPIURL:             url,
		CartesiaVoiceID:            "test-voice",
		CartesiaModelID:            "sonic",
		TTSTimeout:                 5,
		RetryMaxAttempts:           3,
		RetryInitialBackoff:        1, // milliseconds, keep tests fast
		CircuitBreakerMaxFailures:  100,
		CircuitBreakerResetTimeout: 30,
	}
}

func TestSynthesize_Success(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("Expected api key header, got %q", r.Header.Get("x-api-key"))
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ID3fake-mp3-payload"))
	}))
	defer server.Close()

	client := NewCartesiaClient(testConfig(server.URL))
	audio, err := client.Synthesize(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	if len(audio) == 0 {
		t.Error("Expected non-empty audio payload")
	}
	if n := atomic.LoadInt32(&requests); n != 1 {
		t.Errorf("Expected 1 request, got %d", n)
	}
}

func TestSynthesize_RetryBoundOnPersistent503(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewCartesiaClient(testConfig(server.URL))
	_, err := client.Synthesize(context.Background(), "hello")
	if err == nil {
		t.Fatal("Expected error after exhausting retries")
	}

	var synthErr *SynthesisError
	if !errors.As(err, &synthErr) {
		t.Fatalf("Expected SynthesisError, got %T: %v", err, err)
	}
	if synthErr.Kind != ErrKindServer {
		t.Errorf("Expected kind %q, got %q", ErrKindServer, synthErr.Kind)
	}

	// maxRetries + 1 total attempts
	if n := atomic.LoadInt32(&requests); n != 4 {
		t.Errorf("Expected exactly 4 attempts, got %d", n)
	}
}

func TestSynthesize_BackoffSchedule(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.RetryInitialBackoff = 10 // 10ms base

	client := NewCartesiaClient(cfg)
	start := time.Now()
	_, err := client.Synthesize(context.Background(), "hello")
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("Expected error")
	}
	// Exponential schedule: 10 + 20 + 40 = 70ms of backoff
	if elapsed < 70*time.Millisecond {
		t.Errorf("Expected at least 70ms of backoff, got %v", elapsed)
	}
	if elapsed > 500*time.Millisecond {
		t.Errorf("Backoff took too long: %v", elapsed)
	}
}

func TestSynthesize_NoRetryOnAuthFailure(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewCartesiaClient(testConfig(server.URL))
	_, err := client.Synthesize(context.Background(), "hello")
	if err == nil {
		t.Fatal("Expected error")
	}

	var synthErr *SynthesisError
	if !errors.As(err, &synthErr) {
		t.Fatalf("Expected SynthesisError, got %T", err)
	}
	if synthErr.Kind != ErrKindAuth {
		t.Errorf("Expected kind %q, got %q", ErrKindAuth, synthErr.Kind)
	}
	if synthErr.Retryable {
		t.Error("Auth failures must not be retryable")
	}
	if n := atomic.LoadInt32(&requests); n != 1 {
		t.Errorf("Expected exactly 1 attempt for auth failure, got %d", n)
	}
}

func TestSynthesize_EmptyPayloadRetried(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusOK)
		if n >= 2 {
			w.Write([]byte("ID3recovered"))
		}
		// First response: empty body, not valid audio
	}))
	defer server.Close()

	client := NewCartesiaClient(testConfig(server.URL))
	audio, err := client.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Expected recovery on retry, got %v", err)
	}
	if len(audio) == 0 {
		t.Error("Expected audio from the retried attempt")
	}
	if n := atomic.LoadInt32(&requests); n != 2 {
		t.Errorf("Expected 2 attempts, got %d", n)
	}
}

func TestSynthesize_GarbledPayloadRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("<html>not audio</html>"))
	}))
	defer server.Close()

	client := NewCartesiaClient(testConfig(server.URL))
	_, err := client.Synthesize(context.Background(), "hello")
	if err == nil {
		t.Fatal("Expected error for garbled payload")
	}

	var synthErr *SynthesisError
	if !errors.As(err, &synthErr) {
		t.Fatalf("Expected SynthesisError, got %T", err)
	}
	if synthErr.Kind != ErrKindInvalidAudio {
		t.Errorf("Expected kind %q, got %q", ErrKindInvalidAudio, synthErr.Kind)
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status    int
		kind      ErrorKind
		retryable bool
	}{
		{http.StatusUnauthorized, ErrKindAuth, false},
		{http.StatusForbidden, ErrKindAuth, false},
		{http.StatusBadRequest, ErrKindBadRequest, false},
		{http.StatusTooManyRequests, ErrKindRateLimited, true},
		{http.StatusRequestTimeout, ErrKindTimeout, true},
		{http.StatusInternalServerError, ErrKindServer, true},
		{http.StatusBadGateway, ErrKindServer, true},
		{http.StatusServiceUnavailable, ErrKindServer, true},
	}

	for _, tt := range tests {
		got := classifyStatus(tt.status)
		if got.Kind != tt.kind {
			t.Errorf("classifyStatus(%d).Kind = %q, want %q", tt.status, got.Kind, tt.kind)
		}
		if got.Retryable != tt.retryable {
			t.Errorf("classifyStatus(%d).Retryable = %v, want %v", tt.status, got.Retryable, tt.retryable)
		}
	}
}
