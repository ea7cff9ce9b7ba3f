package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"battle-service/internal/domain"
	"battle-service/internal/logging"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	roomCodeLength   = 6
	roomCodeAttempts = 5
)

// CreateOrMatch places userID into a session of mode. Random pairing joins the
// oldest public waiting session; a room code joins that room; CreateRoom opens a
// private room. The second join starts the session.
func (e *Engine) CreateOrMatch(ctx context.Context, userID string, mode domain.Mode, spec domain.JoinSpec) (domain.Snapshot, error) {
	if userID == "" || !mode.Valid() {
		return domain.Snapshot{}, domain.ErrInvalidInput
	}

	e.matchMu.Lock()
	defer e.matchMu.Unlock()

	ioCtx, cancel := e.ioContext(ctx)
	defer cancel()

	if err := e.ensureFree(ioCtx, userID, mode); err != nil {
		return domain.Snapshot{}, err
	}

	var (
		session domain.Session
		err     error
	)
	switch {
	case spec.CreateRoom:
		session, err = e.createSession(ioCtx, userID, mode, true)
	case spec.RoomCode != "":
		session, err = e.joinRoom(ioCtx, userID, mode, spec.RoomCode)
	default:
		session, err = e.matchRandom(ioCtx, userID, mode)
	}
	if err != nil {
		return domain.Snapshot{}, err
	}

	snap := domain.NewSnapshot(session)
	e.notifier.Notify(userID, domain.SessionState(snap))
	logging.Info("player joined",
		zap.String("session_id", session.ID),
		zap.String("user_id", userID),
		zap.String("mode", string(mode)),
		zap.String("status", string(session.Status)),
	)
	return snap, nil
}

func (e *Engine) ensureFree(ctx context.Context, userID string, mode domain.Mode) error {
	active, err := e.sessions.ActiveForUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("active sessions: %w", err)
	}
	for _, s := range active {
		if s.Mode != mode {
			continue
		}
		released, err := e.release(ctx, s)
		if err != nil {
			return err
		}
		if !released {
			return domain.ErrAlreadyInSession
		}
	}
	return nil
}

// release finishes an ongoing session that only looks active: one whose outcome
// is decided here but not yet saved, or one no process is running any more.
// It reports whether the session stopped holding its players.
func (e *Engine) release(ctx context.Context, s domain.Session) (bool, error) {
	if s.Status != domain.StatusOngoing {
		return false, nil
	}
	if entry, ok := e.registry.get(s.ID); ok {
		return e.retrySettlement(ctx, entry), nil
	}
	orphan, err := e.orphaned(ctx, s)
	if err != nil || !orphan {
		return false, err
	}
	if err := e.finishOrphan(ctx, s, ReasonFault, ""); err != nil {
		return false, err
	}
	return true, nil
}

// retrySettlement commits an outcome left pending by a failed resolution.
func (e *Engine) retrySettlement(ctx context.Context, entry *runtimeEntry) bool {
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.pending == nil {
		return entry.resolved
	}
	if err := e.resolveLocked(ctx, entry, entry.pending.reason, ""); err != nil {
		logging.Warn("retry resolution", zap.String("session_id", entry.sessionID), zap.Error(err))
	}
	return entry.resolved
}

// orphaned reports whether an ongoing session has no process running it. With a
// tracker that is an expired or removed liveness marker; without one, a session
// is abandoned once its time limit and grace have passed.
func (e *Engine) orphaned(ctx context.Context, s domain.Session) (bool, error) {
	if _, ok := e.registry.get(s.ID); ok {
		return false, nil
	}
	if e.tracker != nil {
		owner, err := e.tracker.Owner(ctx, s.ID)
		if err != nil {
			return false, fmt.Errorf("session owner: %w", err)
		}
		return owner == "", nil
	}
	if s.StartTime == nil {
		return true, nil
	}
	deadline := s.StartTime.Add(time.Duration(s.TimeLimitSeconds)*time.Second + e.cfg.TimeoutGrace)
	return !e.clock.Now().Before(deadline), nil
}

func (e *Engine) matchRandom(ctx context.Context, userID string, mode domain.Mode) (domain.Session, error) {
	waiting, err := e.sessions.FindWaiting(ctx, mode)
	if err != nil {
		return domain.Session{}, fmt.Errorf("find waiting: %w", err)
	}
	for _, s := range waiting {
		if s.RoomCode != "" || s.IsFull() {
			continue
		}
		if _, mine := s.Player(userID); mine {
			continue
		}
		return e.join(ctx, s, userID)
	}
	return e.createSession(ctx, userID, mode, false)
}

func (e *Engine) joinRoom(ctx context.Context, userID string, mode domain.Mode, code string) (domain.Session, error) {
	session, err := e.sessions.FindByRoomCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return domain.Session{}, err
	}
	if session.Mode != mode {
		return domain.Session{}, domain.ErrInvalidInput
	}
	if session.IsFull() {
		return domain.Session{}, domain.ErrRoomFull
	}
	if session.Status != domain.StatusWaiting {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return e.join(ctx, session, userID)
}

func (e *Engine) createSession(ctx context.Context, userID string, mode domain.Mode, private bool) (domain.Session, error) {
	units := e.cfg.DeckSize
	if mode == domain.ModeCodeBattle {
		units = 1
	}
	refs, err := e.content.Pick(ctx, mode, units)
	if err != nil {
		return domain.Session{}, fmt.Errorf("pick content: %w", err)
	}
	if len(refs) == 0 {
		return domain.Session{}, domain.ErrContentNotFound
	}

	session := domain.Session{
		ID:               e.newID(),
		Mode:             mode,
		Status:           domain.StatusWaiting,
		Players:          []domain.PlayerSlot{{UserID: userID}},
		ContentRefs:      refs,
		TotalUnits:       len(refs),
		TimeLimitSeconds: int(e.cfg.TimeLimits[mode].Seconds()),
		Result:           domain.ResultUnresolved,
		CreatedAt:        e.clock.Now(),
	}
	if private {
		if session.RoomCode, err = e.newRoomCode(ctx); err != nil {
			return domain.Session{}, err
		}
	}
	if err := e.sessions.Create(ctx, session); err != nil {
		return domain.Session{}, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

func (e *Engine) newRoomCode(ctx context.Context) (string, error) {
	for i := 0; i < roomCodeAttempts; i++ {
		code := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:roomCodeLength])
		_, err := e.sessions.FindByRoomCode(ctx, code)
		if errors.Is(err, domain.ErrSessionNotFound) {
			return code, nil
		}
		if err != nil {
			return "", fmt.Errorf("room code lookup: %w", err)
		}
	}
	return "", errors.New("could not allocate a room code")
}

// join adds userID to a waiting session and starts it once full.
func (e *Engine) join(ctx context.Context, session domain.Session, userID string) (domain.Session, error) {
	session.Players = append(session.Players, domain.PlayerSlot{UserID: userID})
	if !session.IsFull() {
		if err := e.sessions.Save(ctx, session); err != nil {
			return domain.Session{}, fmt.Errorf("save session: %w", err)
		}
		return session, nil
	}
	return e.start(ctx, session)
}

// start moves a full session to ongoing. Content is loaded and the runtime entry
// registered before the ongoing status is persisted.
func (e *Engine) start(ctx context.Context, session domain.Session) (domain.Session, error) {
	content, err := e.content.LoadContent(ctx, session.Mode, session.ContentRefs)
	if err != nil {
		return domain.Session{}, fmt.Errorf("load content: %w", err)
	}
	if content.TotalUnits() == 0 {
		return domain.Session{}, domain.ErrContentNotFound
	}

	now := e.clock.Now()
	session.Status = domain.StatusOngoing
	session.StartTime = &now
	session.TotalUnits = content.TotalUnits()

	players := make([]string, 0, len(session.Players))
	for _, p := range session.Players {
		players = append(players, p.UserID)
	}
	entry := &runtimeEntry{
		sessionID: session.ID,
		mode:      session.Mode,
		players:   players,
		content:   content,
		startedAt: now,
		timeLimit: e.cfg.TimeLimits[session.Mode],
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	e.registry.register(entry)
	if err := e.sessions.Save(ctx, session); err != nil {
		e.registry.deregister(session.ID)
		return domain.Session{}, fmt.Errorf("save session: %w", err)
	}

	clock, err := e.startClock(entry)
	if err != nil {
		logging.Error("session clock", zap.String("session_id", session.ID), zap.Error(err))
		entry.resolved = true
		e.teardown(entry)
		session.Status = domain.StatusCancelled
		session.EndTime = &now
		if saveErr := e.sessions.Save(ctx, session); saveErr != nil {
			logging.Error("cancel session", zap.String("session_id", session.ID), zap.Error(saveErr))
		}
		return domain.Session{}, fmt.Errorf("start clock: %w", err)
	}
	entry.clock = clock

	if e.tracker != nil {
		if err := e.tracker.Activate(ctx, session.ID, entry.timeLimit+e.cfg.IOTimeout); err != nil {
			logging.Warn("activate session", zap.String("session_id", session.ID), zap.Error(err))
		}
	}

	e.broadcast(session, domain.SessionStarted{
		SessionID:        session.ID,
		Mode:             session.Mode,
		Players:          players,
		StartTime:        now,
		TimeLimitSeconds: session.TimeLimitSeconds,
		TotalUnits:       session.TotalUnits,
		Content:          content.ClientView(),
	})
	logging.Info("session started",
		zap.String("session_id", session.ID),
		zap.String("mode", string(session.Mode)),
		zap.Strings("players", players),
	)
	return session, nil
}

// Leave withdraws userID from a session. A waiting slot is released; leaving an
// ongoing session forfeits it.
func (e *Engine) Leave(ctx context.Context, sessionID, userID string) (err error) {
	defer e.recoverSession(sessionID, &err)

	e.matchMu.Lock()
	if entry, ok := e.registry.get(sessionID); ok {
		e.matchMu.Unlock()
		if !entry.hasPlayer(userID) {
			return domain.ErrNotInSession
		}
		return e.resolve(ctx, sessionID, ReasonForfeit, userID)
	}
	defer e.matchMu.Unlock()

	ioCtx, cancel := e.ioContext(ctx)
	defer cancel()
	session, err := e.sessions.Load(ioCtx, sessionID)
	if err != nil {
		return err
	}
	if _, ok := session.Player(userID); !ok {
		return domain.ErrNotInSession
	}
	if session.Status == domain.StatusOngoing {
		orphan, err := e.orphaned(ioCtx, session)
		if err != nil {
			return err
		}
		if !orphan {
			return domain.ErrSessionNotOngoing
		}
		return e.finishOrphan(ctx, session, ReasonForfeit, userID)
	}
	if session.Status != domain.StatusWaiting {
		return domain.ErrSessionNotOngoing
	}

	session.RemovePlayer(userID)
	if len(session.Players) == 0 {
		now := e.clock.Now()
		session.Status = domain.StatusCancelled
		session.EndTime = &now
	}
	if err := e.sessions.Save(ioCtx, session); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	logging.Info("player left waiting session",
		zap.String("session_id", sessionID),
		zap.String("user_id", userID),
		zap.String("status", string(session.Status)),
	)
	return nil
}

// Disconnect leaves every active session of userID.
func (e *Engine) Disconnect(ctx context.Context, userID string) error {
	ioCtx, cancel := e.ioContext(ctx)
	active, err := e.sessions.ActiveForUser(ioCtx, userID)
	cancel()
	if err != nil {
		return fmt.Errorf("active sessions: %w", err)
	}
	var errs []error
	for _, s := range active {
		if err := e.Leave(ctx, s.ID, userID); err != nil && !errors.Is(err, domain.ErrSessionNotOngoing) {
			errs = append(errs, fmt.Errorf("leave %s: %w", s.ID, err))
		}
	}
	return errors.Join(errs...)
}

// teardown stops the clock and drops runtime state. Safe to call more than once.
func (e *Engine) teardown(entry *runtimeEntry) {
	entry.clock.stop()
	if !e.registry.deregister(entry.sessionID) {
		return
	}
	if e.tracker != nil {
		ctx, cancel := e.ioContext(context.Background())
		defer cancel()
		if err := e.tracker.Deactivate(ctx, entry.sessionID); err != nil {
			logging.Warn("deactivate session", zap.String("session_id", entry.sessionID), zap.Error(err))
		}
	}
}
