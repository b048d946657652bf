package playback

import (
	"bytes"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

// MP3Decoder decodes MP3 chunk payloads into 16-bit stereo PCM
type MP3Decoder struct{}

// NewMP3Decoder creates an MP3 decoder
func NewMP3Decoder() *MP3Decoder {
	return &MP3Decoder{}
}

// Decode decodes a complete MP3 payload
func (d *MP3Decoder) Decode(data []byte) (*PCMAudio, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty audio payload")
	}

	decoder, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse mp3 payload: %w", err)
	}

	pcm, err := io.ReadAll(decoder)
	if err != nil {
		return nil, fmt.Errorf("failed to decode mp3 payload: %w", err)
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("mp3 payload decoded to no samples")
	}

	return &PCMAudio{
		Data:       pcm,
		SampleRate: decoder.SampleRate(),
		Channels:   2, // go-mp3 always outputs stereo
	}, nil
}
