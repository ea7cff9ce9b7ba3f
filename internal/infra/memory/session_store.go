package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"battle-service/internal/domain"
)

// SessionStore is an in-memory implementation of app.SessionRepository.
// Sessions are copied on the way in and out so callers never share slices.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]domain.Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]domain.Session),
	}
}

func (s *SessionStore) Create(_ context.Context, session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; ok {
		return fmt.Errorf("session %s already exists", session.ID)
	}
	s.sessions[session.ID] = session.Clone()
	return nil
}

func (s *SessionStore) Load(_ context.Context, id string) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return session.Clone(), nil
}

func (s *SessionStore) Save(_ context.Context, session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; !ok {
		return domain.ErrSessionNotFound
	}
	s.sessions[session.ID] = session.Clone()
	return nil
}

func (s *SessionStore) FindWaiting(_ context.Context, mode domain.Mode) ([]domain.Session, error) {
	return s.filter(func(session domain.Session) bool {
		return session.Mode == mode && session.Status == domain.StatusWaiting
	}), nil
}

// FindByRoomCode returns the most recent session created with code.
func (s *SessionStore) FindByRoomCode(_ context.Context, code string) (domain.Session, error) {
	matches := s.filter(func(session domain.Session) bool {
		return code != "" && session.RoomCode == code
	})
	if len(matches) == 0 {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return matches[len(matches)-1], nil
}

func (s *SessionStore) ActiveForUser(_ context.Context, userID string) ([]domain.Session, error) {
	return s.filter(func(session domain.Session) bool {
		if session.Status != domain.StatusWaiting && session.Status != domain.StatusOngoing {
			return false
		}
		_, ok := session.Player(userID)
		return ok
	}), nil
}

// filter returns clones of matching sessions, oldest first.
func (s *SessionStore) filter(keep func(domain.Session) bool) []domain.Session {
	s.mu.RLock()
	out := make([]domain.Session, 0)
	for _, session := range s.sessions {
		if keep(session) {
			out = append(out, session.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
