package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/apollolytics/dialogue-backend/internal/model/conversation"
)

var ErrSessionNotFound = errors.New("session not found")

// Store provides per-connection session isolation. Each connection handler
// creates exactly one session, mutates it from its own goroutine, and deletes
// it on teardown; the store only guards the id map itself.
type Store interface {
	Create() *conversation.Session
	Get(id string) (*conversation.Session, error)
	Delete(id string)
}

// MemoryStore implements Store with an in-memory map.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*conversation.Session
}

// NewMemoryStore bootstraps an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*conversation.Session)}
}

// Create provisions a new session in the awaiting-start state.
func (s *MemoryStore) Create() *conversation.Session {
	sess := &conversation.Session{
		ID:        uuid.NewString(),
		State:     conversation.StateAwaitingStart,
		Turns:     make([]conversation.Turn, 0, 16),
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	return sess
}

// Get retrieves a session by identifier.
func (s *MemoryStore) Get(id string) (*conversation.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Delete discards all in-memory state for a session.
func (s *MemoryStore) Delete(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// Prune drops sessions created more than maxAge ago and reports how many were
// removed. WebSocket sessions are deleted by their connection on teardown;
// pruning covers cookie sessions, which have no teardown signal. The age check
// uses CreatedAt only, so maxAge must comfortably exceed any plausible
// conversation length.
func (s *MemoryStore) Prune(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()

	pruned := 0
	for id, sess := range s.sessions {
		if sess.CreatedAt.Before(cutoff) {
			delete(s.sessions, id)
			pruned++
		}
	}
	return pruned
}
