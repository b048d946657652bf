package playback

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cadencehq/voicewire/internal/observability"
	"github.com/cadencehq/voicewire/internal/stream"
)

// item is one queued chunk with its decode state. Decoding runs ahead of
// playback in its own goroutine; decoded closes once pcm/decodeErr are set.
type item struct {
	chunk     stream.AudioChunk
	decoded   chan struct{}
	pcm       *PCMAudio
	decodeErr error
}

// ManagerConfig holds the tunables for a queue manager
type ManagerConfig struct {
	MaxDepth int           // Queue capacity before backpressure (default 10)
	OnState  StateListener // Receives a snapshot on every transition
	OnError  ErrorListener // Receives decode failures
	Logger   zerolog.Logger
}

// Manager receives audio chunks in arrival order and schedules strict
// sequential, gapless playback. Decode of upcoming chunks overlaps the
// current playback, but play-start of chunk N+1 never precedes completion
// of chunk N.
type Manager struct {
	player   Player
	decoder  Decoder
	maxDepth int
	onState  StateListener
	onError  ErrorListener
	logger   zerolog.Logger

	mu        sync.Mutex
	queue     []*item
	queued    map[string]struct{}
	played    map[string]struct{}
	playing   bool
	paused    bool
	currentID string
	clearGen  int // bumped by Clear to invalidate in-flight playback

	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

// NewManager creates a queue manager and starts its playback loop
func NewManager(player Player, decoder Decoder, cfg ManagerConfig) *Manager {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 10
	}
	m := &Manager{
		player:   player,
		decoder:  decoder,
		maxDepth: cfg.MaxDepth,
		onState:  cfg.OnState,
		onError:  cfg.OnError,
		logger:   cfg.Logger.With().Str("component", "playback").Logger(),
		queued:   make(map[string]struct{}),
		played:   make(map[string]struct{}),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	m.wg.Add(1)
	go m.loop()

	return m
}

// Enqueue adds a chunk to the playback queue. A chunk whose id is already
// queued or was already played in the current stream is a no-op, tolerating
// at-least-once delivery. Enqueue beyond capacity fails with a FULL
// QueueError instead of blocking.
func (m *Manager) Enqueue(chunk stream.AudioChunk) error {
	m.mu.Lock()
	if _, dup := m.queued[chunk.ID]; dup {
		m.mu.Unlock()
		return nil
	}
	if _, dup := m.played[chunk.ID]; dup {
		m.mu.Unlock()
		return nil
	}
	if len(m.queue) >= m.maxDepth {
		m.mu.Unlock()
		observability.RecordQueueRejection()
		return &QueueError{
			Kind:    KindFull,
			ChunkID: chunk.ID,
			Err:     fmt.Errorf("queue is at capacity (%d)", m.maxDepth),
		}
	}

	it := &item{chunk: chunk, decoded: make(chan struct{})}
	m.queue = append(m.queue, it)
	m.queued[chunk.ID] = struct{}{}
	m.mu.Unlock()

	// Decode ahead of playback
	go func() {
		pcm, err := m.decoder.Decode(chunk.Audio)
		it.pcm = pcm
		it.decodeErr = err
		close(it.decoded)
	}()

	m.notify()
	m.wakeup()
	return nil
}

// BeginStream resets the played-chunk set at the start of a new stream
func (m *Manager) BeginStream() {
	m.mu.Lock()
	m.played = make(map[string]struct{})
	m.mu.Unlock()
}

// Pause suspends the output device without discarding the queue
func (m *Manager) Pause() error {
	if err := m.player.Pause(); err != nil {
		return err
	}
	m.mu.Lock()
	m.paused = true
	m.mu.Unlock()
	m.notify()
	return nil
}

// Resume resumes a paused output device
func (m *Manager) Resume() error {
	if err := m.player.Resume(); err != nil {
		return err
	}
	m.mu.Lock()
	m.paused = false
	m.mu.Unlock()
	m.notify()
	return nil
}

// Clear hard-stops playback: the queue and any in-flight decode or playback
// are discarded immediately. Used when the user starts a new utterance.
func (m *Manager) Clear() {
	m.mu.Lock()
	m.clearGen++
	m.queue = nil
	m.queued = make(map[string]struct{})
	m.playing = false
	m.paused = false
	m.currentID = ""
	m.mu.Unlock()

	if err := m.player.Stop(); err != nil {
		m.logger.Warn().Err(err).Msg("Failed to stop player on clear")
	}
	m.notify()
}

// SnapshotState returns the current queue state
func (m *Manager) SnapshotState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Close stops the playback loop and releases the player
func (m *Manager) Close() error {
	close(m.done)
	_ = m.player.Stop()
	m.wg.Wait()
	return nil
}

// loop is the single playback driver: it pops the head chunk once decoded,
// plays it to completion, then immediately starts the next head.
func (m *Manager) loop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.done:
			return
		case <-m.wake:
		}

		for {
			m.mu.Lock()
			if len(m.queue) == 0 {
				m.playing = false
				m.currentID = ""
				m.mu.Unlock()
				m.notify()
				break
			}
			it := m.queue[0]
			gen := m.clearGen
			m.mu.Unlock()

			select {
			case <-m.done:
				return
			case <-it.decoded:
			}

			m.mu.Lock()
			if gen != m.clearGen {
				// Cleared while waiting for decode
				m.mu.Unlock()
				break
			}
			if it.decodeErr != nil {
				// Drop the bad chunk and advance rather than stalling
				m.removeHeadLocked(it)
				m.mu.Unlock()

				observability.RecordDecodeFailure()
				m.logger.Warn().Err(it.decodeErr).Str("chunk_id", it.chunk.ID).Msg("Dropping undecodable chunk")
				if m.onError != nil {
					m.onError(QueueError{Kind: KindDecode, ChunkID: it.chunk.ID, Err: it.decodeErr})
				}
				m.notify()
				continue
			}
			m.playing = true
			m.currentID = it.chunk.ID
			m.mu.Unlock()
			m.notify()

			err := m.player.Play(it.pcm)

			m.mu.Lock()
			interrupted := gen != m.clearGen
			if !interrupted {
				m.removeHeadLocked(it)
				m.played[it.chunk.ID] = struct{}{}
			}
			m.mu.Unlock()

			if err != nil && !interrupted {
				m.logger.Warn().Err(err).Str("chunk_id", it.chunk.ID).Msg("Playback failed, advancing")
			}
			m.notify()

			if interrupted {
				break
			}
		}
	}
}

func (m *Manager) removeHeadLocked(it *item) {
	if len(m.queue) > 0 && m.queue[0] == it {
		m.queue = m.queue[1:]
		delete(m.queued, it.chunk.ID)
	}
}

func (m *Manager) snapshotLocked() State {
	return State{
		IsPlaying:       m.playing,
		IsPaused:        m.paused,
		CurrentChunkID:  m.currentID,
		RemainingChunks: len(m.queue),
	}
}

func (m *Manager) notify() {
	m.mu.Lock()
	state := m.snapshotLocked()
	m.mu.Unlock()

	observability.SetQueueDepth(state.RemainingChunks)
	if m.onState != nil {
		m.onState(state)
	}
}

func (m *Manager) wakeup() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}
