package playback

import "fmt"

// PCMAudio is a decoded audio buffer ready for the output device
type PCMAudio struct {
	Data       []byte // 16-bit little-endian PCM
	SampleRate int
	Channels   int
}

// Player abstracts the audio output device. Play blocks until the buffer has
// finished playing or Stop aborts it; the queue manager guarantees at most
// one Play call is in flight at a time.
type Player interface {
	Play(audio *PCMAudio) error
	Pause() error
	Resume() error
	Stop() error
}

// Decoder turns an encoded chunk payload into PCM
type Decoder interface {
	Decode(data []byte) (*PCMAudio, error)
}

// ErrorKind classifies a queue failure
type ErrorKind string

const (
	KindFull   ErrorKind = "FULL"         // Backpressure: queue is at capacity
	KindDecode ErrorKind = "DECODE_ERROR" // Chunk payload could not be decoded
)

// QueueError describes a queue-level failure
type QueueError struct {
	Kind    ErrorKind
	ChunkID string
	Err     error
}

func (e *QueueError) Error() string {
	if e.ChunkID != "" {
		return fmt.Sprintf("playback queue error (%s) for chunk %s: %v", e.Kind, e.ChunkID, e.Err)
	}
	return fmt.Sprintf("playback queue error (%s): %v", e.Kind, e.Err)
}

func (e *QueueError) Unwrap() error {
	return e.Err
}

// State is a read-only snapshot of the queue, published to the listener on
// every transition. It is never mutated by consumers.
type State struct {
	IsPlaying       bool
	IsPaused        bool
	CurrentChunkID  string // empty when idle
	RemainingChunks int
}

// StateListener receives queue state snapshots
type StateListener func(State)

// ErrorListener receives non-fatal queue errors (decode failures)
type ErrorListener func(QueueError)
