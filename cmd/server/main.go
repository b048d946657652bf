package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cadencehq/voicewire/internal/config"
	"github.com/cadencehq/voicewire/internal/llm"
	"github.com/cadencehq/voicewire/internal/observability"
	"github.com/cadencehq/voicewire/internal/stt"
	"github.com/cadencehq/voicewire/internal/transport"
	"github.com/cadencehq/voicewire/internal/tts"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Logger is not initialized yet
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("tts_url", cfg.CartesiaAPIURL).
		Str("stt_model", cfg.DeepgramModel).
		Str("llm_model", cfg.LLMModel).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Voicewire service starting")

	mux := http.NewServeMux()

	// Client WebSocket endpoint
	mux.HandleFunc("/ws", transport.HandleClientWS(cfg, logger))

	mux.HandleFunc("/health", observability.HealthCheckHandler())

	// Readiness checks validate configuration without making billable calls
	checks := map[string]observability.HealthCheckFunc{
		"cartesia": func(ctx context.Context) (bool, error) {
			if client := tts.NewCartesiaClient(cfg); client == nil {
				return false, fmt.Errorf("failed to create cartesia client")
			}
			return true, nil
		},
		"deepgram": func(ctx context.Context) (bool, error) {
			if client := stt.NewDeepgramClient(cfg, logger); client == nil {
				return false, fmt.Errorf("failed to create deepgram client")
			}
			return true, nil
		},
		"llm": func(ctx context.Context) (bool, error) {
			if client := llm.NewOpenAIClient(cfg, logger); client == nil {
				return false, fmt.Errorf("failed to create llm client")
			}
			return true, nil
		},
	}
	mux.HandleFunc("/ready", observability.ReadinessHandler(checks))

	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		endpoint := fmt.Sprintf("ws://localhost:%s/ws", cfg.Port)
		if cfg.PublicURL != "" {
			endpoint = cfg.PublicURL + "/ws"
		}
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", endpoint).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}
