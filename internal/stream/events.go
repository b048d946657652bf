package stream

// EventType identifies a protocol event on the client channel
type EventType string

const (
	EventStreamStart EventType = "stream:start"
	EventStreamChunk EventType = "stream:chunk"
	EventStreamEnd   EventType = "stream:end"
	EventStreamError EventType = "stream:error"
	EventSpeechStart EventType = "speech:start"
	EventSpeechEnd   EventType = "speech:end"
)

// ErrorCode classifies a stream:error event
type ErrorCode string

const (
	CodeChunkError   ErrorCode = "CHUNK_ERROR"   // One synthesis unit failed after retries; stream continues
	CodeStreamError  ErrorCode = "STREAM_ERROR"  // The coordinating loop itself failed; stream aborts
	CodeTTSError     ErrorCode = "TTS_ERROR"     // Synthesis backend unavailable
	CodeNetworkError ErrorCode = "NETWORK_ERROR" // Transport-level failure surfaced to the UI
)

// AudioChunk is one ordered unit of synthesized speech. Index values are
// strictly increasing per stream and exactly one chunk carries IsLast.
type AudioChunk struct {
	ID        string `json:"id"`
	Index     int    `json:"index"`
	Text      string `json:"text"`
	Audio     []byte `json:"audio"` // base64-encoded by the JSON codec
	IsLast    bool   `json:"isLast"`
	Timestamp int64  `json:"timestamp"` // Unix milliseconds at emission
}

// StreamError is the payload of a stream:error event
type StreamError struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Event is the unit carried over the persistent client channel
type Event struct {
	Type     EventType    `json:"type"`
	StreamID string       `json:"streamId,omitempty"`
	Chunk    *AudioChunk  `json:"chunk,omitempty"`
	Error    *StreamError `json:"error,omitempty"`
}

// EventSink receives ordered protocol events. Implementations must preserve
// emission order within one connection; the websocket transport adapter and
// the in-process playback queue both satisfy this.
type EventSink interface {
	Emit(event Event) error
}
