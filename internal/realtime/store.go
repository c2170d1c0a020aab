package realtime

import (
	"errors"
	"fmt"
	"sync"
)

// ErrSessionExists indicates a lifecycle bug or a lost race: a live session
// is already registered for the note id.
var ErrSessionExists = errors.New("realtime: session already exists")

// Store is the registry mapping a note id to at most one live session.
type Store struct {
	mu       sync.Mutex
	sessions map[int64]*Session
}

// NewStore builds an empty session registry.
func NewStore() *Store {
	return &Store{sessions: make(map[int64]*Session)}
}

// Create registers a new session for the note. It fails with ErrSessionExists
// when a live session is already present; the session deregisters itself from
// the store once it is destroyed.
func (s *Store) Create(cfg SessionConfig) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[cfg.NoteID]; exists {
		return nil, fmt.Errorf("%w: note %d", ErrSessionExists, cfg.NoteID)
	}
	session, err := NewSession(cfg)
	if err != nil {
		return nil, err
	}
	session.OnDestroyed(func(destroyed *Session) {
		s.remove(destroyed)
	})
	s.sessions[cfg.NoteID] = session
	return session, nil
}

// Find returns the live session for a note, if any. It never creates one.
func (s *Store) Find(noteID int64) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[noteID]
	return session, ok
}

// All returns a snapshot of every live session, used by the shutdown sweep.
func (s *Store) All() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	return sessions
}

func (s *Store) remove(session *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.sessions[session.NoteID()]; ok && current == session {
		delete(s.sessions, session.NoteID())
	}
}
