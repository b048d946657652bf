// Package vad segments captured audio into utterances by tracking an
// adaptive baseline noise level and applying dual-threshold hysteresis to
// periodic level samples.
package vad

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cadencehq/voicewire/internal/observability"
)

// EventType identifies an utterance boundary
type EventType string

const (
	SpeechStart EventType = "speech_start"
	SpeechEnd   EventType = "speech_end"
)

// Event is an utterance boundary detected by the segmenter
type Event struct {
	Type     EventType
	At       time.Time
	Duration time.Duration // speech duration, set on SpeechEnd
}

// Config holds the segmenter tunables. The constants were tuned empirically;
// the adaptive-baseline-plus-hysteresis shape is the contract, the numbers
// are not.
type Config struct {
	NoiseFloor     float64       // Lower bound for the silence threshold
	SilenceFactor  float64       // silenceThreshold = max(floor, baseline*SilenceFactor)
	SpeechFactor   float64       // speechThreshold = silenceThreshold*SpeechFactor, must be > 1
	BaselineDecay  float64       // EMA weight of the previous baseline
	MinSpeech      time.Duration // Minimum duration for a valid utterance
	SilenceTimeout time.Duration // Silence timer once speech is confirmed
	InitialTimeout time.Duration // Silence timer before speech is confirmed
}

// DefaultConfig returns production defaults
func DefaultConfig() Config {
	return Config{
		NoiseFloor:     10.0,
		SilenceFactor:  1.5,
		SpeechFactor:   2.0,
		BaselineDecay:  0.7,
		MinSpeech:      500 * time.Millisecond,
		SilenceTimeout: 900 * time.Millisecond,
		InitialTimeout: 1500 * time.Millisecond,
	}
}

// State is a read-only snapshot of the segmenter
type State struct {
	Baseline         float64
	SilenceThreshold float64
	SpeechThreshold  float64
	Speaking         bool
	UtteranceActive  bool
}

// Segmenter turns a stream of audio level samples into utterance boundaries.
// It is sample-driven: the caller pushes one level per capture tick with its
// timestamp, so the segmenter follows the capture cadence and naturally
// pauses when capture stops.
type Segmenter struct {
	cfg    Config
	logger zerolog.Logger

	mu                sync.Mutex
	baseline          float64
	speaking          bool // hysteresis output, flips at different thresholds
	hasDetectedSpeech bool
	speechConfirmed   bool
	speechStartedAt   time.Time
	silencePending    bool
	silenceStartedAt  time.Time
}

// NewSegmenter creates a segmenter with its baseline primed to the noise floor
func NewSegmenter(cfg Config, logger zerolog.Logger) *Segmenter {
	return &Segmenter{
		cfg:      cfg,
		logger:   logger.With().Str("component", "vad").Logger(),
		baseline: cfg.NoiseFloor,
	}
}

// Process consumes one level sample and returns any utterance boundaries it
// produced. Samples must be pushed in timestamp order.
func (s *Segmenter) Process(level float64, now time.Time) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	silenceThr := s.silenceThresholdLocked()
	speechThr := silenceThr * s.cfg.SpeechFactor

	var events []Event

	switch {
	case level >= speechThr:
		if !s.hasDetectedSpeech {
			s.hasDetectedSpeech = true
			s.speechStartedAt = now
			events = append(events, Event{Type: SpeechStart, At: now})
			s.logger.Debug().Float64("level", level).Float64("threshold", speechThr).Msg("Speech started")
		}
		s.speaking = true
		s.silencePending = false
		s.confirmIfLongEnough(now)

	case level > silenceThr:
		// Hysteresis band: keep the current state, but the speaker has not
		// gone quiet, so a pending silence timer is cancelled.
		s.silencePending = false
		if s.speaking {
			s.confirmIfLongEnough(now)
		} else {
			s.updateBaselineLocked(level)
		}

	default:
		s.speaking = false
		if s.hasDetectedSpeech {
			if !s.silencePending {
				s.silencePending = true
				s.silenceStartedAt = now
			}
			// Shorter timeout once real speech is confirmed, for faster
			// turn-taking; longer while we may still be looking at noise.
			timeout := s.cfg.InitialTimeout
			if s.speechConfirmed {
				timeout = s.cfg.SilenceTimeout
			}
			if now.Sub(s.silenceStartedAt) >= timeout {
				if s.speechConfirmed {
					duration := s.silenceStartedAt.Sub(s.speechStartedAt)
					events = append(events, Event{Type: SpeechEnd, At: now, Duration: duration})
					observability.RecordUtterance(duration)
					s.logger.Debug().Dur("duration", duration).Msg("Speech ended")
				} else {
					s.logger.Debug().Msg("Discarding transient spike below minimum speech duration")
				}
				s.hasDetectedSpeech = false
				s.speechConfirmed = false
				s.silencePending = false
			}
		}
		s.updateBaselineLocked(level)
	}

	return events
}

// IsSilent reports whether the speaker is currently quiet
func (s *Segmenter) IsSilent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.speaking
}

// Snapshot returns the current thresholds and activity flags
func (s *Segmenter) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	silenceThr := s.silenceThresholdLocked()
	return State{
		Baseline:         s.baseline,
		SilenceThreshold: silenceThr,
		SpeechThreshold:  silenceThr * s.cfg.SpeechFactor,
		Speaking:         s.speaking,
		UtteranceActive:  s.hasDetectedSpeech,
	}
}

// Reset clears all utterance state for a new capture session
func (s *Segmenter) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baseline = s.cfg.NoiseFloor
	s.speaking = false
	s.hasDetectedSpeech = false
	s.speechConfirmed = false
	s.silencePending = false
}

func (s *Segmenter) confirmIfLongEnough(now time.Time) {
	if !s.speechConfirmed && now.Sub(s.speechStartedAt) >= s.cfg.MinSpeech {
		s.speechConfirmed = true
	}
}

func (s *Segmenter) silenceThresholdLocked() float64 {
	thr := s.baseline * s.cfg.SilenceFactor
	if thr < s.cfg.NoiseFloor {
		thr = s.cfg.NoiseFloor
	}
	return thr
}

// updateBaselineLocked folds a quiet sample into the baseline EMA. Samples
// that qualify as speech never move the baseline.
func (s *Segmenter) updateBaselineLocked(level float64) {
	s.baseline = s.cfg.BaselineDecay*s.baseline + (1-s.cfg.BaselineDecay)*level
}
