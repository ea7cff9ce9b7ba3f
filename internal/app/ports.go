package app

import (
	"context"
	"time"

	"battle-service/internal/domain"
)

// SessionRepository abstracts how durable session records are stored (in-memory, Postgres).
type SessionRepository interface {
	Create(ctx context.Context, session domain.Session) error
	Load(ctx context.Context, id string) (domain.Session, error)
	Save(ctx context.Context, session domain.Session) error
	// FindWaiting lists waiting sessions of mode, oldest first.
	FindWaiting(ctx context.Context, mode domain.Mode) ([]domain.Session, error)
	FindByRoomCode(ctx context.Context, code string) (domain.Session, error)
	// ActiveForUser lists the waiting and ongoing sessions userID holds a slot in.
	ActiveForUser(ctx context.Context, userID string) ([]domain.Session, error)
}

// RatingRepository stores per-mode user ratings.
type RatingRepository interface {
	// LoadRating returns the user's record, or a fresh one if they never played mode.
	LoadRating(ctx context.Context, userID string, mode domain.Mode) (domain.Rating, error)
	// ApplyOutcomes folds every player's outcome of one session into their
	// records in a single atomic step. A session already applied is skipped, so
	// a retried resolution never rates twice.
	ApplyOutcomes(ctx context.Context, mode domain.Mode, outcomes []domain.Outcome) ([]domain.Rating, error)
}

// ContentRepository selects and loads session content (from cache/backing store).
type ContentRepository interface {
	Pick(ctx context.Context, mode domain.Mode, n int) ([]string, error)
	LoadContent(ctx context.Context, mode domain.Mode, refs []string) (domain.Content, error)
}

// Notifier delivers events to a user's connection.
type Notifier interface {
	Notify(userID string, event domain.Event)
}

// ResultPublisher forwards final results to downstream consumers.
type ResultPublisher interface {
	Publish(ctx context.Context, results domain.FinalResults) error
}

// ActivityTracker marks sessions that hold runtime state in some process.
type ActivityTracker interface {
	Activate(ctx context.Context, sessionID string, ttl time.Duration) error
	Deactivate(ctx context.Context, sessionID string) error
	// Owner names the instance running sessionID, or "" when none does.
	Owner(ctx context.Context, sessionID string) (string, error)
}

// CodeRunner executes submitted code and returns one output per input.
type CodeRunner interface {
	Run(ctx context.Context, problemID, code string, inputs []string) ([]string, error)
}
