package stream

import (
	"sync"

	"github.com/google/uuid"
)

// State is the lifecycle state of a StreamSession
type State int

const (
	StateActive State = iota
	StateCancelled
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateCancelled:
		return "cancelled"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Session tracks one synthesis stream for a connection. At most one session
// per connection is Active; starting a new stream cancels the old session and
// suppresses its further output.
type Session struct {
	ID           string
	ConnectionID string

	mu           sync.RWMutex
	state        State
	chunkCount   int
	emittedCount int
}

// NewSession creates an Active session for a connection
func NewSession(connectionID string) *Session {
	return &Session{
		ID:           uuid.New().String(),
		ConnectionID: connectionID,
		state:        StateActive,
	}
}

// Cancel marks the session cancelled. Only an Active session transitions;
// terminal states are preserved.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateActive {
		s.state = StateCancelled
	}
}

// IsCancelled reports whether the session was preempted. The coordinator
// checks this before each chunk and before emitting a finished synthesis
// result.
func (s *Session) IsCancelled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == StateCancelled
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// finish moves an Active session to a terminal state
func (s *Session) finish(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateActive {
		s.state = state
	}
}

// setChunkCount records the number of chunks the stream will attempt
func (s *Session) setChunkCount(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunkCount = n
}

// recordEmitted advances the emitted-chunk counter
func (s *Session) recordEmitted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emittedCount++
}

// Progress returns (emitted, total) chunk counts
func (s *Session) Progress() (int, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.emittedCount, s.chunkCount
}
