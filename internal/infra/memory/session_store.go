package memory

import (
	"context"
	"sync"
	"time"

	"spi-exam-service/internal/domain"
)

// SessionStore is an in-memory implementation of app.SessionRepository.
// Sessions idle for longer than ttl are treated as absent.
type SessionStore struct {
	ttl   time.Duration
	clock func() time.Time

	mu       sync.Mutex
	sessions map[string]storedSession
}

type storedSession struct {
	session  domain.ExamSession
	lastSeen time.Time
}

func NewSessionStore(ttl time.Duration) *SessionStore {
	return NewSessionStoreWithClock(ttl, time.Now)
}

// NewSessionStoreWithClock is test-only for deterministic expiry.
func NewSessionStoreWithClock(ttl time.Duration, clock func() time.Time) *SessionStore {
	return &SessionStore{
		ttl:      ttl,
		clock:    clock,
		sessions: make(map[string]storedSession),
	}
}

func (s *SessionStore) Load(_ context.Context, id string) (domain.ExamSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	stored, ok := s.sessions[id]
	if !ok {
		return domain.ExamSession{}, nil
	}
	if s.expired(stored, now) {
		delete(s.sessions, id)
		return domain.ExamSession{}, nil
	}
	stored.lastSeen = now
	s.sessions[id] = stored
	return clone(stored.session), nil
}

func (s *SessionStore) Save(_ context.Context, id string, session domain.ExamSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = storedSession{session: clone(session), lastSeen: s.clock()}
	return nil
}

func (s *SessionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// Sweep drops expired sessions and reports how many were removed.
func (s *SessionStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()
	removed := 0
	for id, stored := range s.sessions {
		if s.expired(stored, now) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// Len is the number of stored sessions, expired or not.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *SessionStore) expired(stored storedSession, now time.Time) bool {
	return s.ttl > 0 && now.Sub(stored.lastSeen) > s.ttl
}

func clone(session domain.ExamSession) domain.ExamSession {
	if session.Answers != nil {
		answers := make([]*int, len(session.Answers))
		for i, a := range session.Answers {
			if a != nil {
				v := *a
				answers[i] = &v
			}
		}
		session.Answers = answers
	}
	return session
}
