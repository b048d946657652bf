package stt

// Transcript is one transcription result from the STT backend
type Transcript struct {
	// Text is the transcribed text
	Text string

	// IsFinal distinguishes final results from interim updates
	IsFinal bool

	// Confidence is the backend's confidence score (0.0 to 1.0), if provided
	Confidence float64

	// StartTime is the utterance start offset in seconds
	StartTime float64

	// Duration is the utterance duration in seconds
	Duration float64
}

// Client is the interface for streaming speech-to-text clients
type Client interface {
	// Start opens a transcription session
	Start() error

	// SendAudio streams a captured audio buffer to the backend
	SendAudio(audioData []byte) error

	// Transcripts returns the channel transcription results arrive on
	Transcripts() <-chan *Transcript

	// Stop ends the transcription session
	Stop() error

	// Close releases the client
	Close() error
}
