package transport

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/cadencehq/voicewire/internal/config"
	"github.com/cadencehq/voicewire/internal/llm"
	"github.com/cadencehq/voicewire/internal/stt"
	"github.com/cadencehq/voicewire/internal/tts"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// TODO: validate Origin against an allowlist before exposing publicly
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// HandleClientWS upgrades client connections and runs one session per
// connection until it closes
func HandleClientWS(cfg *config.Config, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to upgrade connection")
			return
		}
		defer conn.Close()

		sttClient := stt.NewDeepgramClient(cfg, logger)
		textSource := llm.NewOpenAIClient(cfg, logger)
		synth := tts.NewCartesiaClient(cfg)
		defer synth.Close()

		session := NewSession(conn, cfg, sttClient, textSource, synth, logger)
		session.logger.Info().Str("remote", conn.RemoteAddr().String()).Msg("Client connected")
		session.Run()
		session.logger.Info().Msg("Client disconnected")
	}
}
