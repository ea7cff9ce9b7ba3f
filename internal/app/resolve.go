package app

import (
	"context"
	"fmt"
	"time"

	"battle-service/internal/domain"
	"battle-service/internal/logging"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Reason says what ended a session.
type Reason string

const (
	ReasonTimeUp        Reason = "time_up"
	ReasonAllFinished   Reason = "all_finished"
	ReasonForfeit       Reason = "forfeit"
	ReasonTimeoutReport Reason = "timeout_report"
	ReasonFault         Reason = "fault"
)

// resolve ends a session at most once. Later triggers are no-ops.
func (e *Engine) resolve(ctx context.Context, sessionID string, reason Reason, forfeiter string) error {
	entry, ok := e.registry.get(sessionID)
	if !ok {
		return nil
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return e.resolveLocked(ctx, entry, reason, forfeiter)
}

// settlement is a decided outcome that may still need to be made durable.
type settlement struct {
	session  domain.Session
	reason   Reason
	kinds    map[string]domain.OutcomeKind
	rated    bool
	outcomes []domain.Outcome
}

// resolveLocked requires entry.mu. Runtime state is torn down only once the
// finished record is saved; on failure the decided outcome stays on the entry
// and the next trigger commits it.
func (e *Engine) resolveLocked(ctx context.Context, entry *runtimeEntry, reason Reason, forfeiter string) error {
	if entry.resolved {
		return nil
	}

	// The triggering request may be gone; resolution must still complete.
	ioCtx, cancel := e.ioContext(context.WithoutCancel(ctx))
	defer cancel()

	if entry.pending == nil {
		session, err := e.sessions.Load(ioCtx, entry.sessionID)
		if err != nil {
			return fmt.Errorf("load session: %w", err)
		}
		if session.Status != domain.StatusOngoing {
			entry.resolved = true
			e.teardown(entry)
			return nil
		}
		entry.pending = e.conclude(session, reason, forfeiter)
	}
	if err := e.settle(ioCtx, entry.pending); err != nil {
		return err
	}
	entry.resolved = true
	e.teardown(entry)
	e.announce(ioCtx, entry.pending)
	return nil
}

// conclude decides the winner and fills in the finished record.
func (e *Engine) conclude(session domain.Session, reason Reason, forfeiter string) *settlement {
	now := e.clock.Now()
	winner, kinds := decide(session, reason, forfeiter)
	session.Status = domain.StatusFinished
	session.EndTime = &now
	session.Winner = winner
	session.Result = domain.ResultDraw
	if winner != "" {
		session.Result = domain.ResultWinner
	}
	for i := range session.Players {
		session.Players[i].Rank = rankOf(session.Players[i].UserID, winner)
	}
	return &settlement{session: session, reason: reason, kinds: kinds}
}

// settle rates both players and saves the finished record. Ratings are written
// first and are idempotent per session, so settle can be retried after any failure.
func (e *Engine) settle(ctx context.Context, s *settlement) error {
	if !s.rated {
		outcomes, err := e.rate(ctx, &s.session, s.kinds)
		if err != nil {
			return fmt.Errorf("rate players: %w", err)
		}
		s.outcomes, s.rated = outcomes, true
	}
	if len(s.outcomes) > 0 {
		if _, err := e.ratings.ApplyOutcomes(ctx, s.session.Mode, s.outcomes); err != nil {
			return fmt.Errorf("apply outcomes: %w", err)
		}
	}
	if err := e.sessions.Save(ctx, s.session); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// announce delivers the final results of a settled session.
func (e *Engine) announce(ctx context.Context, s *settlement) {
	session := s.session
	results := finalResults(session, s.reason, *session.EndTime)
	e.broadcast(session, results)
	if e.publisher != nil {
		if err := e.publisher.Publish(ctx, results); err != nil {
			logging.Warn("publish results", zap.String("session_id", session.ID), zap.Error(err))
		}
	}
	logging.Info("session resolved",
		zap.String("session_id", session.ID),
		zap.String("reason", string(s.reason)),
		zap.String("result", string(session.Result)),
		zap.String("winner", session.Winner),
	)
}

// finishOrphan settles an ongoing session that no process is running.
func (e *Engine) finishOrphan(ctx context.Context, session domain.Session, reason Reason, forfeiter string) error {
	ioCtx, cancel := e.ioContext(context.WithoutCancel(ctx))
	defer cancel()

	s := e.conclude(session, reason, forfeiter)
	if err := e.settle(ioCtx, s); err != nil {
		return err
	}
	logging.Warn("orphaned session finished", zap.String("session_id", session.ID), zap.String("reason", string(reason)))
	e.announce(ioCtx, s)
	return nil
}

// decide picks the winner. An empty winner means a draw.
func decide(session domain.Session, reason Reason, forfeiter string) (string, map[string]domain.OutcomeKind) {
	kinds := make(map[string]domain.OutcomeKind, len(session.Players))
	for _, p := range session.Players {
		kinds[p.UserID] = domain.OutcomeKindDraw
	}
	if len(session.Players) < domain.MaxPlayers || reason == ReasonFault {
		return "", kinds
	}

	a, b := session.Players[0], session.Players[1]
	var winner, loser string
	switch {
	case reason == ReasonForfeit && forfeiter == a.UserID:
		winner, loser = b.UserID, a.UserID
	case reason == ReasonForfeit && forfeiter == b.UserID:
		winner, loser = a.UserID, b.UserID
	case a.Score > b.Score:
		winner, loser = a.UserID, b.UserID
	case b.Score > a.Score:
		winner, loser = b.UserID, a.UserID
	default:
		return "", kinds
	}
	kinds[winner] = domain.OutcomeKindWin
	kinds[loser] = domain.OutcomeKindLoss
	return winner, kinds
}

func rankOf(userID, winner string) int {
	if winner == "" || userID == winner {
		return 1
	}
	return 2
}

// rate computes Elo changes from pre-game ratings and records them on the slots.
func (e *Engine) rate(ctx context.Context, session *domain.Session, kinds map[string]domain.OutcomeKind) ([]domain.Outcome, error) {
	if len(session.Players) < domain.MaxPlayers {
		return nil, nil
	}
	before := make([]domain.Rating, len(session.Players))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range session.Players {
		i, p := i, p
		g.Go(func() error {
			r, err := e.ratings.LoadRating(gctx, p.UserID, session.Mode)
			if err != nil {
				return fmt.Errorf("load rating of %s: %w", p.UserID, err)
			}
			before[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	outcomes := make([]domain.Outcome, len(session.Players))
	for i := range session.Players {
		slot := &session.Players[i]
		kind := kinds[slot.UserID]
		delta := domain.RatingDelta(before[i].Rating, before[1-i].Rating, kind.Actual(), e.cfg.Rating.KFactor)
		after := domain.ApplyDelta(before[i].Rating, delta, e.cfg.Rating.Floor)

		slot.RatingBefore = before[i].Rating
		slot.RatingAfter = after
		slot.RatingChange = after - before[i].Rating
		outcomes[i] = domain.Outcome{
			UserID:      slot.UserID,
			SessionID:   session.ID,
			OpponentID:  session.Players[1-i].UserID,
			Kind:        kind,
			RatingAfter: after,
			Change:      slot.RatingChange,
			At:          *session.EndTime,
		}
	}
	return outcomes, nil
}

func finalResults(session domain.Session, reason Reason, end time.Time) domain.FinalResults {
	results := domain.FinalResults{
		SessionID: session.ID,
		Mode:      session.Mode,
		Result:    session.Result,
		Winner:    session.Winner,
		Reason:    string(reason),
		Players:   make([]domain.PlayerResult, 0, len(session.Players)),
		EndTime:   end,
	}
	for _, p := range session.Players {
		results.Players = append(results.Players, domain.PlayerResult{
			UserID:        p.UserID,
			Score:         p.Score,
			Rank:          p.Rank,
			CorrectCount:  p.CorrectCount,
			WrongCount:    p.WrongCount,
			AnsweredCount: p.AnsweredCount,
			RatingBefore:  p.RatingBefore,
			RatingAfter:   p.RatingAfter,
			RatingChange:  p.RatingChange,
		})
	}
	return results
}
