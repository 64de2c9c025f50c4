package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"qpackd/internal/logging"
	"qpackd/internal/qpack"
)

// Session is one encoder/decoder pair. Its mutex must be held while either
// side is used.
type Session struct {
	ID      string
	Encoder *qpack.Encoder
	Decoder *qpack.Decoder

	Mutex    sync.Mutex
	lastUsed time.Time
}

type SessionStore struct {
	sessions map[string]*Session
	mutex    sync.RWMutex
	ttl      time.Duration
	logger   logging.Logger
	now      func() time.Time
}

func NewSessionStore(ttl time.Duration, logger logging.Logger) *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
	}
}

// Create sets up a session whose encoder has applied the given settings. The
// settings instruction is already fed to the session's decoder and is
// returned for display.
func (s *SessionStore) Create(maxTableCapacity, maxBlockedStreams uint64) (*Session, []byte, error) {
	enc := qpack.NewEncoder()
	enc.Logger = s.logger
	settings, err := enc.ApplySettings(maxTableCapacity, maxBlockedStreams)
	if err != nil {
		return nil, nil, err
	}

	dec := qpack.NewDecoder(maxTableCapacity, maxBlockedStreams)
	dec.Logger = s.logger
	if _, err := dec.FeedEncoder(settings); err != nil {
		return nil, nil, fmt.Errorf("relaying settings: %w", err)
	}

	sess := &Session{
		ID:       uuid.NewString(),
		Encoder:  enc,
		Decoder:  dec,
		lastUsed: s.now(),
	}

	s.mutex.Lock()
	s.sessions[sess.ID] = sess
	s.mutex.Unlock()

	s.logger.Log(logging.LogLevelInfo, "Created session %s (max table capacity %d, max blocked streams %d)", sess.ID, maxTableCapacity, maxBlockedStreams)
	return sess, settings, nil
}

// Get returns the session and marks it as used.
func (s *SessionStore) Get(id string) (*Session, bool) {
	s.mutex.RLock()
	sess, ok := s.sessions[id]
	s.mutex.RUnlock()
	if !ok {
		return nil, false
	}

	sess.Mutex.Lock()
	sess.lastUsed = s.now()
	sess.Mutex.Unlock()
	return sess, true
}

func (s *SessionStore) Delete(id string) bool {
	s.mutex.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mutex.Unlock()
	if !ok {
		return false
	}

	sess.Mutex.Lock()
	sess.Decoder.Close()
	sess.Mutex.Unlock()
	s.logger.Log(logging.LogLevelInfo, "Deleted session %s", id)
	return true
}

func (s *SessionStore) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.sessions)
}

// Expire drops every session idle for longer than the TTL and returns how
// many were dropped.
func (s *SessionStore) Expire() int {
	now := s.now()

	var expired []string
	s.mutex.RLock()
	for id, sess := range s.sessions {
		sess.Mutex.Lock()
		if now.Sub(sess.lastUsed) > s.ttl {
			expired = append(expired, id)
		}
		sess.Mutex.Unlock()
	}
	s.mutex.RUnlock()

	n := 0
	for _, id := range expired {
		if s.Delete(id) {
			n++
		}
	}
	if n > 0 {
		s.logger.Log(logging.LogLevelDebug, "Expired %d idle sessions", n)
	}
	return n
}

// Run expires idle sessions every half TTL until ctx is done.
func (s *SessionStore) Run(ctx context.Context) {
	ticker := time.NewTicker(s.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Expire()
		}
	}
}
