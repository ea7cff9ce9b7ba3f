package app

import (
	"context"
	"fmt"
	"strings"

	"battle-service/internal/domain"
	"battle-service/internal/logging"
	"go.uber.org/zap"
)

// Submit records one answer of userID. It is rejected once time is up or the
// unit was already answered; the second player to finish ends the session.
func (e *Engine) Submit(ctx context.Context, sessionID, userID string, sub domain.Submission) (result domain.AnswerResult, err error) {
	defer e.recoverSession(sessionID, &err)

	if sub.UnitIndex < 0 {
		return domain.AnswerResult{}, domain.ErrInvalidUnit
	}
	entry, ok := e.registry.get(sessionID)
	if !ok {
		return domain.AnswerResult{}, e.inactiveError(ctx, sessionID)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.resolved || entry.pending != nil {
		return domain.AnswerResult{}, domain.ErrSessionNotOngoing
	}
	if !entry.hasPlayer(userID) {
		return domain.AnswerResult{}, domain.ErrNotInSession
	}
	now := e.clock.Now()
	if domain.Remaining(entry.startedAt, now, entry.timeLimit) == 0 {
		return domain.AnswerResult{}, domain.ErrTimeUp
	}

	ioCtx, cancel := e.ioContext(ctx)
	defer cancel()
	session, err := e.sessions.Load(ioCtx, sessionID)
	if err != nil {
		return domain.AnswerResult{}, fmt.Errorf("load session: %w", err)
	}
	if session.Status != domain.StatusOngoing {
		return domain.AnswerResult{}, domain.ErrSessionNotOngoing
	}
	player, ok := session.Player(userID)
	if !ok {
		return domain.AnswerResult{}, domain.ErrNotInSession
	}
	if sub.UnitIndex >= session.TotalUnits {
		return domain.AnswerResult{}, domain.ErrInvalidUnit
	}
	if player.HasAnswered(sub.UnitIndex) {
		return domain.AnswerResult{}, domain.ErrDuplicateSubmission
	}

	verdict, err := e.judge(ioCtx, entry.content, sub)
	if err != nil {
		return domain.AnswerResult{}, err
	}
	delta := domain.ScoreDelta(session.Mode, verdict.Judgement, e.cfg.CodeScoring)
	player.Record(domain.AnswerRecord{
		UnitIndex:      sub.UnitIndex,
		SelectedOption: verdict.selected,
		IsCorrect:      verdict.Correct,
		IsSkipped:      verdict.Skipped,
		ScoreDelta:     delta,
		PassRatio:      verdict.PassRatio,
		Timestamp:      now,
	})
	finished := player.AnsweredCount >= session.TotalUnits
	if finished {
		player.FinishedAt = &now
	}
	if err := e.sessions.Save(ioCtx, session); err != nil {
		return domain.AnswerResult{}, fmt.Errorf("save session: %w", err)
	}

	result = domain.AnswerResult{
		SessionID:     sessionID,
		UnitIndex:     sub.UnitIndex,
		Correct:       verdict.Correct,
		Skipped:       verdict.Skipped,
		CorrectAnswer: verdict.correctAnswer,
		Explanation:   verdict.explanation,
		PassRatio:     verdict.PassRatio,
		ScoreDelta:    delta,
		Score:         player.Score,
		AnsweredCount: player.AnsweredCount,
	}
	e.notifier.Notify(userID, result)
	e.broadcast(session, domain.Progress(domain.NewSnapshot(session)))

	if !finished {
		return result, nil
	}
	if session.AllFinished() {
		if err := e.resolveLocked(ctx, entry, ReasonAllFinished, ""); err != nil {
			logging.Error("resolve on all finished", zap.String("session_id", sessionID), zap.Error(err))
		}
		return result, nil
	}
	e.notifier.Notify(userID, domain.FinishedWaiting{SessionID: sessionID, Score: player.Score})
	if opp, ok := session.Opponent(userID); ok {
		e.notifier.Notify(opp.UserID, domain.OpponentFinished{SessionID: sessionID, OpponentID: userID})
	}
	return result, nil
}

// Skip records a penalty-free skip of one unit.
func (e *Engine) Skip(ctx context.Context, sessionID, userID string, unit int) (domain.AnswerResult, error) {
	return e.Submit(ctx, sessionID, userID, domain.Submission{UnitIndex: unit, Skip: true})
}

// ReportTimeout lets a client whose countdown reached zero ask for resolution.
// It is honoured only when the server agrees time is (nearly) up.
func (e *Engine) ReportTimeout(ctx context.Context, sessionID, userID string) (err error) {
	defer e.recoverSession(sessionID, &err)

	entry, ok := e.registry.get(sessionID)
	if !ok {
		return e.inactiveError(ctx, sessionID)
	}
	if !entry.hasPlayer(userID) {
		return domain.ErrNotInSession
	}
	if domain.Remaining(entry.startedAt, e.clock.Now(), entry.timeLimit) > e.cfg.TimeoutGrace {
		return domain.ErrTooEarly
	}
	return e.resolve(ctx, sessionID, ReasonTimeoutReport, "")
}

type verdict struct {
	domain.Judgement
	selected      string
	correctAnswer string
	explanation   string
}

// judge scores a submission against the cached content of the session.
func (e *Engine) judge(ctx context.Context, content domain.Content, sub domain.Submission) (verdict, error) {
	if sub.Skip {
		return verdict{Judgement: domain.Judgement{Skipped: true}, selected: domain.SkippedOption}, nil
	}
	switch content.Mode {
	case domain.ModeRapidFire:
		if sub.UnitIndex >= len(content.Questions) {
			return verdict{}, domain.ErrInvalidUnit
		}
		selected := strings.TrimSpace(sub.SelectedOption)
		if selected == "" || selected == domain.SkippedOption {
			return verdict{}, domain.ErrInvalidInput
		}
		q := content.Questions[sub.UnitIndex]
		return verdict{
			Judgement:     domain.JudgeOption(q, selected),
			selected:      selected,
			correctAnswer: q.CorrectOption,
			explanation:   q.Explanation,
		}, nil
	case domain.ModeCodeBattle:
		if content.Problem == nil {
			return verdict{}, domain.ErrContentNotFound
		}
		if len(sub.Outputs) == 0 && strings.TrimSpace(sub.Code) == "" {
			return verdict{}, domain.ErrInvalidInput
		}
		tests, outputs, err := e.codeResults(ctx, *content.Problem, sub)
		if err != nil {
			return verdict{}, err
		}
		return verdict{
			Judgement: domain.JudgeOutputs(tests, outputs),
			selected:  fmt.Sprintf("outputs:%d", len(sub.Outputs)),
		}, nil
	}
	return verdict{}, domain.ErrInvalidInput
}

// codeResults pairs each judged test case with its output. Client outputs answer
// the visible tests; hidden tests are judged only through the code runner.
func (e *Engine) codeResults(ctx context.Context, p domain.Problem, sub domain.Submission) ([]domain.TestCase, []string, error) {
	tests := p.VisibleTests()
	outputs := make([]string, len(tests), len(p.TestCases))
	copy(outputs, sub.Outputs)

	hidden := p.HiddenTests()
	if len(hidden) == 0 || e.runner == nil {
		return tests, outputs, nil
	}
	if strings.TrimSpace(sub.Code) == "" {
		return nil, nil, domain.ErrInvalidInput
	}
	inputs := make([]string, len(hidden))
	for i, tc := range hidden {
		inputs[i] = tc.Input
	}
	ran, err := e.runner.Run(ctx, p.ID, sub.Code, inputs)
	if err != nil {
		return nil, nil, fmt.Errorf("run hidden tests: %w", err)
	}
	ranOutputs := make([]string, len(hidden))
	copy(ranOutputs, ran)
	return append(tests, hidden...), append(outputs, ranOutputs...), nil
}
