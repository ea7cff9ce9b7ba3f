package memory

import (
	"context"
	"sync"

	"battle-service/internal/domain"
)

type ratingKey struct {
	userID string
	mode   domain.Mode
}

// RatingStore keeps per-mode ratings in memory. ApplyOutcomes is atomic per store.
type RatingStore struct {
	initial    int
	formLength int

	mu      sync.Mutex
	ratings map[ratingKey]domain.Rating
	applied map[string]struct{}
}

func NewRatingStore(cfg domain.RatingConfig) *RatingStore {
	return &RatingStore{
		initial:    cfg.Initial,
		formLength: cfg.FormLength,
		ratings:    make(map[ratingKey]domain.Rating),
		applied:    make(map[string]struct{}),
	}
}

func (s *RatingStore) LoadRating(_ context.Context, userID string, mode domain.Mode) (domain.Rating, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current(userID, mode), nil
}

func (s *RatingStore) ApplyOutcomes(_ context.Context, mode domain.Mode, outcomes []domain.Outcome) ([]domain.Rating, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Rating, 0, len(outcomes))
	if len(outcomes) == 0 {
		return out, nil
	}
	sessionID := outcomes[0].SessionID
	if _, done := s.applied[sessionID]; done {
		for _, o := range outcomes {
			out = append(out, s.current(o.UserID, mode))
		}
		return out, nil
	}
	for _, o := range outcomes {
		updated := s.current(o.UserID, mode).Apply(o, s.formLength)
		s.ratings[ratingKey{userID: o.UserID, mode: mode}] = updated
		out = append(out, updated)
	}
	s.applied[sessionID] = struct{}{}
	return out, nil
}

func (s *RatingStore) current(userID string, mode domain.Mode) domain.Rating {
	r, ok := s.ratings[ratingKey{userID: userID, mode: mode}]
	if !ok {
		return domain.NewRating(userID, mode, s.initial)
	}
	r.RecentForm = append([]domain.FormEntry(nil), r.RecentForm...)
	return r
}
