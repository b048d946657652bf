package playback

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cadencehq/voicewire/internal/stream"
)

// flakySynth fails specific calls, mirroring a synthesis backend that gives
// up on one chunk after retries
type flakySynth struct {
	calls  int
	failOn map[int]bool
}

func (f *flakySynth) Synthesize(ctx context.Context, text string) ([]byte, error) {
	call := f.calls
	f.calls++
	if f.failOn[call] {
		return nil, errors.New("synthesis backend unavailable")
	}
	return []byte(text), nil
}

func (f *flakySynth) Close() error { return nil }

func TestSink_EndToEndPlayback(t *testing.T) {
	// 620 characters at maxLen 300 yields chunks 0..2; chunk 1 fails. The
	// queue must play chunk 0 then chunk 2 back to back with nothing for 1.
	var b strings.Builder
	for b.Len() < 620 {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString("lorem")
	}
	text := b.String()[:620]

	player := newMockPlayer(time.Millisecond)
	manager := NewManager(player, &mockDecoder{}, ManagerConfig{MaxDepth: 10, Logger: zerolog.Nop()})
	defer manager.Close()

	sink := NewSink(manager, zerolog.Nop())
	coord := stream.NewCoordinator("conn-1", &flakySynth{failOn: map[int]bool{1: true}}, stream.CoordinatorConfig{
		ChunkMaxLen:     300,
		InterChunkDelay: 0,
	}, nil, zerolog.Nop())

	session := coord.Speak(context.Background(), text, sink)
	if session.State() != stream.StateCompleted {
		t.Fatalf("Expected completed stream, got %s", session.State())
	}

	waitIdle(t, manager, 2*time.Second)

	plays := player.playedPayloads()
	if len(plays) != 2 {
		t.Fatalf("Expected 2 played chunks, got %d", len(plays))
	}
	// Payloads carry the chunk text through the fake decode path
	if len(plays[0]) > 300 || len(plays[1]) > 300 {
		t.Errorf("Played chunk exceeds length bound: %d, %d", len(plays[0]), len(plays[1]))
	}
	if plays[0] == plays[1] {
		t.Error("Expected two distinct chunks played")
	}
	if player.maxInflight > 1 {
		t.Errorf("Expected no overlapping playback, observed %d", player.maxInflight)
	}
}

func TestSink_StreamStartResetsPlayedSet(t *testing.T) {
	player := newMockPlayer(time.Millisecond)
	manager := NewManager(player, &mockDecoder{}, ManagerConfig{MaxDepth: 10, Logger: zerolog.Nop()})
	defer manager.Close()

	sink := NewSink(manager, zerolog.Nop())

	chunk := stream.AudioChunk{ID: "c0", Index: 0, Audio: []byte("payload")}
	sink.Emit(stream.Event{Type: stream.EventStreamStart, StreamID: "s1"})
	sink.Emit(stream.Event{Type: stream.EventStreamChunk, StreamID: "s1", Chunk: &chunk})
	waitIdle(t, manager, 2*time.Second)

	sink.Emit(stream.Event{Type: stream.EventStreamStart, StreamID: "s2"})
	sink.Emit(stream.Event{Type: stream.EventStreamChunk, StreamID: "s2", Chunk: &chunk})
	waitIdle(t, manager, 2*time.Second)

	if plays := player.playedPayloads(); len(plays) != 2 {
		t.Errorf("Expected chunk to replay in a new stream, got %d plays", len(plays))
	}
}
