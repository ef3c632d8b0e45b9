// Package session provides the in-memory store for in-flight dictation
// sessions. Sessions are disposable scratch space: nothing is persisted
// across restarts, and a session that is never finalized is reclaimed by
// the background sweep after MaxAge, losing its transcript. That loss is
// the documented bound on session lifetime, not an accident.
package session

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"dictation-relay-service/internal/observability/metrics"
)

// DefaultMaxAge is how long an untouched session survives before the
// sweep reclaims it.
const DefaultMaxAge = 30 * time.Minute

// DefaultSweepInterval is how often the background sweep runs.
const DefaultSweepInterval = 5 * time.Minute

// Session accumulates finalized transcript text for one dictation.
type Session struct {
	ID              string
	FinalizedChunks []string
	PendingPartial  string
	CreatedAt       time.Time
}

// Store is a process-wide map of live dictation sessions. All methods are
// safe for concurrent use. Operations on absent ids degrade to no-ops or
// zero values rather than errors: sessions are short-lived and
// re-creatable by the client.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session

	maxAge        time.Duration
	sweepInterval time.Duration
	stopSweep     chan struct{}
	sweepDone     chan struct{}

	logger zerolog.Logger
}

// NewStore creates an empty store. MaxAge/SweepInterval fall back to the
// defaults when non-positive. The sweep does not run until Start is called.
func NewStore(maxAge, sweepInterval time.Duration, logger zerolog.Logger) *Store {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	return &Store{
		sessions:      make(map[string]*Session),
		maxAge:        maxAge,
		sweepInterval: sweepInterval,
		logger:        logger.With().Str("component", "session-store").Logger(),
	}
}

// Create inserts a fresh session for id and returns it. An existing
// session under the same id is silently overwritten, discarding its
// chunks; callers own the discipline of not reusing live ids.
func (s *Store) Create(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := &Session{
		ID:              id,
		FinalizedChunks: []string{},
		CreatedAt:       time.Now(),
	}
	s.sessions[id] = sess
	return sess
}

// Get returns the session for id, or (nil, false) if absent.
func (s *Store) Get(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	return sess, ok
}

// AppendChunk pushes a finalized transcript chunk onto the session and
// clears its pending partial. No-op if the session does not exist.
func (s *Store) AppendChunk(id, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return
	}
	sess.FinalizedChunks = append(sess.FinalizedChunks, text)
	sess.PendingPartial = ""
}

// SetPartial overwrites the session's pending partial. The partial is
// replaced, never appended, and is never part of Text. No-op if the
// session does not exist.
func (s *Store) SetPartial(id, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return
	}
	sess.PendingPartial = text
}

// Text returns the session's finalized chunks joined with a single space,
// or the empty string if the session does not exist.
func (s *Store) Text(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return ""
	}
	return strings.Join(sess.FinalizedChunks, " ")
}

// Remove deletes the session. No-op if absent.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.sessions)
}

// SweepExpired removes every session older than maxAge and returns how
// many were removed.
func (s *Store) SweepExpired(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	removed := 0
	for id, sess := range s.sessions {
		if now.Sub(sess.CreatedAt) > maxAge {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// Start launches the background sweep. Calling Start twice without an
// intervening Stop is invalid.
func (s *Store) Start() {
	s.stopSweep = make(chan struct{})
	s.sweepDone = make(chan struct{})

	go func() {
		defer close(s.sweepDone)
		ticker := time.NewTicker(s.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if removed := s.SweepExpired(s.maxAge); removed > 0 {
					metrics.DefaultMetrics.RecordSessionsSwept(removed)
					metrics.DefaultMetrics.SetSessionsActive(s.Len())
					s.logger.Info().
						Int("removed", removed).
						Int("remaining", s.Len()).
						Msg("Swept expired sessions")
				}
			case <-s.stopSweep:
				return
			}
		}
	}()

	s.logger.Info().
		Dur("maxAge", s.maxAge).
		Dur("sweepInterval", s.sweepInterval).
		Msg("Session sweep started")
}

// Stop halts the background sweep and waits for it to exit. No-op if the
// sweep was never started.
func (s *Store) Stop() {
	if s.stopSweep == nil {
		return
	}
	close(s.stopSweep)
	<-s.sweepDone
	s.stopSweep = nil

	s.logger.Info().Msg("Session sweep stopped")
}
