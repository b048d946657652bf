package transport

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/cadencehq/voicewire/internal/config"
	"github.com/cadencehq/voicewire/internal/llm"
	"github.com/cadencehq/voicewire/internal/stream"
	"github.com/cadencehq/voicewire/internal/stt"
)

// fakeSTT is a scriptable stt.Client
type fakeSTT struct {
	mu          sync.Mutex
	started     bool
	sentBytes   int
	transcripts chan *stt.Transcript
}

func newFakeSTT() *fakeSTT {
	return &fakeSTT{transcripts: make(chan *stt.Transcript, 10)}
}

func (f *fakeSTT) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return nil
}

func (f *fakeSTT) SendAudio(audioData []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentBytes += len(audioData)
	return nil
}

func (f *fakeSTT) Transcripts() <-chan *stt.Transcript { return f.transcripts }
func (f *fakeSTT) Stop() error                         { return nil }
func (f *fakeSTT) Close() error                        { return nil }

// fakeText returns a canned reply and records prompts
type fakeText struct {
	mu      sync.Mutex
	reply   string
	prompts []string
}

func (f *fakeText) Generate(ctx context.Context, messages []llm.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range messages {
		if m.Role == "user" {
			f.prompts = append(f.prompts, m.Content)
		}
	}
	return f.reply, nil
}

// fakeSynth returns deterministic audio bytes
type fakeSynth struct{}

func (f *fakeSynth) Synthesize(ctx context.Context, text string) ([]byte, error) {
	return []byte("ID3" + text), nil
}

func (f *fakeSynth) Close() error { return nil }

// envelope covers every outbound message shape
type envelope struct {
	Type     string              `json:"type"`
	StreamID string              `json:"streamId"`
	Chunk    *stream.AudioChunk  `json:"chunk"`
	Error    *stream.StreamError `json:"error"`
	Text     string              `json:"text"`
	IsFinal  bool                `json:"isFinal"`
}

func testSessionConfig() *config.Config {
	return &config.Config{
		ChunkMaxLen:          20,
		InterChunkDelayMs:    0,
		AudioCaptureBufBytes: 8192,
		VADNoiseFloor:        10.0,
		VADSilenceFactor:     1.5,
		VADSpeechFactor:      2.0,
		VADBaselineDecay:     0.7,
		VADMinSpeechMs:       10,
		VADSilenceTimeoutMs:  20,
		VADInitialTimeoutMs:  40,
	}
}

// dialSession spins up a server that runs one Session with the given fakes
// and returns a connected client
func dialSession(t *testing.T, cfg *config.Config, sttClient stt.Client, text llm.TextSource, synth *fakeSynth) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		NewSession(conn, cfg, sttClient, text, synth, zerolog.Nop()).Run()
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial test server: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// collectUntil reads messages until one of the given type arrives
func collectUntil(t *testing.T, conn *websocket.Conn, stopType string, timeout time.Duration) []envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(timeout))
	var out []envelope
	for {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("Read failed before %s: %v (got %d messages)", stopType, err, len(out))
		}
		out = append(out, env)
		if env.Type == stopType {
			return out
		}
	}
}

func makePCM16Payload(amplitude int16, samples int) string {
	data := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(amplitude))
	}
	return base64.StdEncoding.EncodeToString(data)
}

func TestSession_SpeakRequest(t *testing.T) {
	conn := dialSession(t, testSessionConfig(), newFakeSTT(), &fakeText{reply: "unused"}, &fakeSynth{})

	err := conn.WriteJSON(ClientMessage{Type: "speak", Text: "one two three four five six seven eight"})
	if err != nil {
		t.Fatalf("Failed to send speak request: %v", err)
	}

	events := collectUntil(t, conn, string(stream.EventStreamEnd), 2*time.Second)

	if events[0].Type != string(stream.EventStreamStart) {
		t.Errorf("Expected stream:start first, got %s", events[0].Type)
	}

	wantIndex := 0
	lastSeen := false
	for _, e := range events {
		if e.Type != string(stream.EventStreamChunk) {
			continue
		}
		if e.Chunk.Index != wantIndex {
			t.Errorf("Expected chunk index %d, got %d", wantIndex, e.Chunk.Index)
		}
		wantIndex++
		if e.Chunk.IsLast {
			lastSeen = true
		}
		if len(e.Chunk.Audio) == 0 {
			t.Errorf("Chunk %d carried no audio", e.Chunk.Index)
		}
	}
	if wantIndex < 2 {
		t.Fatalf("Expected multiple chunks over the wire, got %d", wantIndex)
	}
	if !lastSeen {
		t.Error("Expected exactly one chunk with isLast")
	}
}

func TestSession_NewSpeakPreemptsActive(t *testing.T) {
	conn := dialSession(t, testSessionConfig(), newFakeSTT(), &fakeText{reply: "unused"}, &fakeSynth{})

	conn.WriteJSON(ClientMessage{Type: "speak", Text: "alpha bravo charlie delta echo foxtrot golf hotel india juliett"})
	conn.WriteJSON(ClientMessage{Type: "speak", Text: "short"})

	// Both streams emit their framing; the second must complete. Streams for
	// the first request stop producing chunks after the second starts.
	events := collectUntil(t, conn, string(stream.EventStreamEnd), 2*time.Second)

	starts := map[string]bool{}
	for _, e := range events {
		if e.Type == string(stream.EventStreamStart) {
			starts[e.StreamID] = true
		}
	}
	if len(starts) == 0 {
		t.Fatal("Expected at least one stream:start")
	}
}

func TestSession_VoiceTurn(t *testing.T) {
	sttClient := newFakeSTT()
	text := &fakeText{reply: "It is sunny today."}
	conn := dialSession(t, testSessionConfig(), sttClient, text, &fakeSynth{})

	if err := conn.WriteJSON(ClientMessage{Type: "start"}); err != nil {
		t.Fatalf("Failed to send start: %v", err)
	}

	// Reader runs concurrently with the capture writes below
	var mu sync.Mutex
	var events []envelope
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		for {
			var env envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			mu.Lock()
			events = append(events, env)
			stop := env.Type == string(stream.EventStreamEnd)
			mu.Unlock()
			if stop {
				return
			}
		}
	}()

	// Give handleStart a moment to wire the transcript pump
	time.Sleep(20 * time.Millisecond)
	sttClient.transcripts <- &stt.Transcript{Text: "what is the", IsFinal: true}
	sttClient.transcripts <- &stt.Transcript{Text: "weather like", IsFinal: true}
	time.Sleep(20 * time.Millisecond)

	loud := makePCM16Payload(5000, 160)
	quiet := makePCM16Payload(0, 160)

	// Sustained speech, then silence long enough to close the utterance
	for i := 0; i < 5; i++ {
		conn.WriteJSON(ClientMessage{Type: "media", Media: loud})
		time.Sleep(5 * time.Millisecond)
	}
	for i := 0; i < 12; i++ {
		conn.WriteJSON(ClientMessage{Type: "media", Media: quiet})
		time.Sleep(5 * time.Millisecond)
	}

	<-readerDone

	mu.Lock()
	defer mu.Unlock()

	var sawSpeechStart, sawSpeechEnd, sawChunk, sawEnd bool
	var transcripts []string
	for _, e := range events {
		switch e.Type {
		case string(stream.EventSpeechStart):
			sawSpeechStart = true
		case string(stream.EventSpeechEnd):
			sawSpeechEnd = true
		case string(stream.EventStreamChunk):
			sawChunk = true
		case string(stream.EventStreamEnd):
			sawEnd = true
		case "transcript":
			transcripts = append(transcripts, e.Text)
		}
	}

	if !sawSpeechStart || !sawSpeechEnd {
		t.Errorf("Expected speech boundary events, got start=%v end=%v", sawSpeechStart, sawSpeechEnd)
	}
	if len(transcripts) != 2 {
		t.Errorf("Expected 2 transcript updates, got %d", len(transcripts))
	}
	if !sawChunk || !sawEnd {
		t.Errorf("Expected a full synthesis stream for the reply, got chunk=%v end=%v", sawChunk, sawEnd)
	}

	text.mu.Lock()
	defer text.mu.Unlock()
	if len(text.prompts) != 1 || text.prompts[0] != "what is the weather like" {
		t.Errorf("Expected joined transcript as prompt, got %v", text.prompts)
	}

	sttClient.mu.Lock()
	defer sttClient.mu.Unlock()
	if !sttClient.started {
		t.Error("Expected STT session to be started")
	}
	if sttClient.sentBytes == 0 {
		t.Error("Expected capture audio forwarded to STT")
	}
}
