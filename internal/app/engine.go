package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"battle-service/internal/domain"
	"battle-service/internal/logging"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Config tunes session timing, scoring and rating.
type Config struct {
	TimeLimits       map[domain.Mode]time.Duration
	TickInterval     time.Duration
	SnapshotInterval time.Duration
	// TimeoutGrace is how much time may still be left when a client reports a timeout.
	TimeoutGrace time.Duration
	IOTimeout    time.Duration
	DeckSize     int
	CodeScoring  domain.CodeScoring
	Rating       domain.RatingConfig
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		TimeLimits: map[domain.Mode]time.Duration{
			domain.ModeRapidFire:  120 * time.Second,
			domain.ModeCodeBattle: 15 * time.Minute,
		},
		TickInterval:     time.Second,
		SnapshotInterval: 2 * time.Second,
		TimeoutGrace:     2 * time.Second,
		IOTimeout:        5 * time.Second,
		DeckSize:         10,
		CodeScoring:      domain.CodeScoringRatio,
		Rating:           domain.DefaultRatingConfig(),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	limits := make(map[domain.Mode]time.Duration, len(def.TimeLimits))
	for mode, limit := range def.TimeLimits {
		if custom := c.TimeLimits[mode]; custom > 0 {
			limit = custom
		}
		limits[mode] = limit
	}
	c.TimeLimits = limits
	if c.TickInterval <= 0 {
		c.TickInterval = def.TickInterval
	}
	if c.SnapshotInterval <= 0 {
		c.SnapshotInterval = def.SnapshotInterval
	}
	if c.TimeoutGrace < 0 {
		c.TimeoutGrace = 0
	}
	if c.IOTimeout <= 0 {
		c.IOTimeout = def.IOTimeout
	}
	if c.DeckSize <= 0 {
		c.DeckSize = def.DeckSize
	}
	if c.CodeScoring == "" {
		c.CodeScoring = def.CodeScoring
	}
	if c.Rating.KFactor <= 0 {
		c.Rating.KFactor = def.Rating.KFactor
	}
	if c.Rating.Floor <= 0 {
		c.Rating.Floor = def.Rating.Floor
	}
	if c.Rating.Initial <= 0 {
		c.Rating.Initial = def.Rating.Initial
	}
	if c.Rating.FormLength <= 0 {
		c.Rating.FormLength = def.Rating.FormLength
	}
	return c
}

// Engine runs two-player sessions: matchmaking, timers, scoring and resolution.
type Engine struct {
	sessions  SessionRepository
	ratings   RatingRepository
	content   ContentRepository
	notifier  Notifier
	publisher ResultPublisher
	tracker   ActivityTracker
	runner    CodeRunner

	registry *Registry
	cfg      Config
	clock    clockwork.Clock
	newID    func() string

	// matchMu serializes pairing so two joiners never take the same slot.
	matchMu sync.Mutex
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(clock clockwork.Clock) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithPublisher forwards final results to p.
func WithPublisher(p ResultPublisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithTracker marks active sessions through t.
func WithTracker(t ActivityTracker) Option {
	return func(e *Engine) { e.tracker = t }
}

// WithCodeRunner judges hidden test cases by running submitted code through r.
func WithCodeRunner(r CodeRunner) Option {
	return func(e *Engine) { e.runner = r }
}

// WithIDGenerator overrides session id generation.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

func NewEngine(sessions SessionRepository, ratings RatingRepository, content ContentRepository, notifier Notifier, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		sessions: sessions,
		ratings:  ratings,
		content:  content,
		notifier: notifier,
		registry: NewRegistry(),
		cfg:      cfg.withDefaults(),
		clock:    clockwork.NewRealClock(),
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ActiveSessions is the number of sessions with runtime state.
func (e *Engine) ActiveSessions() int {
	return e.registry.Len()
}

// Snapshot returns the public state of a session.
func (e *Engine) Snapshot(ctx context.Context, sessionID string) (domain.Snapshot, error) {
	ctx, cancel := e.ioContext(ctx)
	defer cancel()
	session, err := e.sessions.Load(ctx, sessionID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	return domain.NewSnapshot(session), nil
}

func (e *Engine) ioContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.cfg.IOTimeout)
}

func (e *Engine) broadcast(session domain.Session, event domain.Event) {
	for _, p := range session.Players {
		e.notifier.Notify(p.UserID, event)
	}
}

func (e *Engine) notifyAll(userIDs []string, event domain.Event) {
	for _, id := range userIDs {
		e.notifier.Notify(id, event)
	}
}

// inactiveError explains why a session has no runtime entry.
func (e *Engine) inactiveError(ctx context.Context, sessionID string) error {
	ctx, cancel := e.ioContext(ctx)
	defer cancel()
	if _, err := e.sessions.Load(ctx, sessionID); err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return err
		}
		return fmt.Errorf("load session: %w", err)
	}
	return domain.ErrSessionNotOngoing
}

// recoverSession turns a handler panic into a forced resolution of the owning session.
// It must be deferred directly.
func (e *Engine) recoverSession(sessionID string, errp *error) {
	r := recover()
	if r == nil {
		return
	}
	logging.Error("session handler panicked",
		zap.String("session_id", sessionID),
		zap.Any("panic", r),
		zap.Stack("stack"),
	)
	if errp != nil {
		*errp = fmt.Errorf("session %s: unexpected failure", sessionID)
	}
	e.forceResolve(sessionID)
}

// forceResolve ends a session as a draw and guarantees its runtime entry is gone.
func (e *Engine) forceResolve(sessionID string) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("forced resolution panicked", zap.String("session_id", sessionID), zap.Any("panic", r))
		}
		if entry, ok := e.registry.get(sessionID); ok {
			entry.mu.Lock()
			entry.resolved = true
			e.teardown(entry)
			entry.mu.Unlock()
		}
	}()
	if err := e.resolve(context.Background(), sessionID, ReasonFault, ""); err != nil {
		logging.Error("forced resolution failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}
