package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"battle-service/internal/domain"
)

func TestSubmitScoresWithNegativeMarking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.startMatch(t, domain.ModeRapidFire)

	res, err := f.engine.Submit(ctx, id, "alice", domain.Submission{UnitIndex: 0, SelectedOption: "b"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !res.Correct || res.ScoreDelta != domain.CorrectReward || res.CorrectAnswer != "b" {
		t.Fatalf("unexpected correct result: %+v", res)
	}
	res, err = f.engine.Submit(ctx, id, "alice", domain.Submission{UnitIndex: 1, SelectedOption: "a"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Correct || res.ScoreDelta != domain.WrongPenalty || res.Score != 0.75 || res.AnsweredCount != 2 {
		t.Fatalf("unexpected wrong result: %+v", res)
	}

	sess := f.session(t, id)
	alice, _ := sess.Player("alice")
	if alice.CorrectCount != 1 || alice.WrongCount != 1 || len(alice.Answers) != 2 {
		t.Fatalf("unexpected slot totals: %+v", alice)
	}
	if n := len(f.notes.of("bob", domain.EventProgress)); n != 2 {
		t.Fatalf("expected bob to see 2 progress updates, got %d", n)
	}
	if n := len(f.notes.of("bob", domain.EventAnswerResult)); n != 0 {
		t.Fatalf("answer results must only go to the submitter, bob got %d", n)
	}
}

func TestSkipIsPenaltyFree(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.startMatch(t, domain.ModeRapidFire)

	res, err := f.engine.Skip(ctx, id, "alice", 0)
	if err != nil {
		t.Fatalf("skip: %v", err)
	}
	if !res.Skipped || res.ScoreDelta != 0 || res.Score != 0 || res.AnsweredCount != 1 {
		t.Fatalf("unexpected skip result: %+v", res)
	}
	sess := f.session(t, id)
	alice, _ := sess.Player("alice")
	if alice.CorrectCount != 0 || alice.WrongCount != 0 || alice.Answers[0].SelectedOption != domain.SkippedOption {
		t.Fatalf("skip must not count as correct or wrong: %+v", alice)
	}
	if _, err := f.engine.Skip(ctx, id, "alice", 0); !errors.Is(err, domain.ErrDuplicateSubmission) {
		t.Fatalf("expected ErrDuplicateSubmission, got %v", err)
	}
	if _, err := f.engine.Submit(ctx, id, "alice", domain.Submission{UnitIndex: 1, SelectedOption: domain.SkippedOption}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected the skip marker to be rejected as an option, got %v", err)
	}
}

func TestSubmitRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.startMatch(t, domain.ModeRapidFire)

	cases := []struct {
		name      string
		sessionID string
		userID    string
		sub       domain.Submission
		want      error
	}{
		{"unknown session", "missing", "alice", domain.Submission{SelectedOption: "b"}, domain.ErrSessionNotFound},
		{"stranger", id, "mallory", domain.Submission{SelectedOption: "b"}, domain.ErrNotInSession},
		{"negative unit", id, "alice", domain.Submission{UnitIndex: -1, SelectedOption: "b"}, domain.ErrInvalidUnit},
		{"unit out of range", id, "alice", domain.Submission{UnitIndex: 3, SelectedOption: "b"}, domain.ErrInvalidUnit},
		{"empty option", id, "alice", domain.Submission{UnitIndex: 0}, domain.ErrInvalidInput},
	}
	for _, tc := range cases {
		_, err := f.engine.Submit(ctx, tc.sessionID, tc.userID, tc.sub)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}

	sess := f.session(t, id)
	alice, _ := sess.Player("alice")
	if alice.AnsweredCount != 0 {
		t.Fatalf("rejected submissions must not be recorded: %+v", alice)
	}
}

func TestSubmitAfterTimeUpIsRejected(t *testing.T) {
	f := newFixture(t)
	id := f.startMatch(t, domain.ModeRapidFire)

	f.clock.Advance(DefaultConfig().TimeLimits[domain.ModeRapidFire])
	_, err := f.engine.Submit(context.Background(), id, "alice", domain.Submission{UnitIndex: 0, SelectedOption: "b"})
	if !errors.Is(err, domain.ErrTimeUp) {
		t.Fatalf("expected ErrTimeUp, got %v", err)
	}
	if n := len(f.notes.of("alice", domain.EventAnswerResult)); n != 0 {
		t.Fatalf("late submission produced %d answer results", n)
	}
}

func TestConcurrentDuplicateSubmissionsRecordOnce(t *testing.T) {
	f := newFixture(t)
	id := f.startMatch(t, domain.ModeRapidFire)

	const attempts = 20
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		accepted   int
		duplicates int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Submit(context.Background(), id, "alice", domain.Submission{UnitIndex: 0, SelectedOption: "b"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, domain.ErrDuplicateSubmission):
				duplicates++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if accepted != 1 || duplicates != attempts-1 {
		t.Fatalf("expected 1 accepted and %d duplicates, got %d and %d", attempts-1, accepted, duplicates)
	}
	sess := f.session(t, id)
	alice, _ := sess.Player("alice")
	if len(alice.Answers) != 1 || alice.Score != domain.CorrectReward {
		t.Fatalf("expected a single record, got %+v", alice)
	}
}

func TestFinishingFirstNotifiesBothPlayers(t *testing.T) {
	f := newFixture(t)
	id := f.startMatch(t, domain.ModeRapidFire)

	f.answerAll(t, id, "alice", "b")

	waiting := f.notes.of("alice", domain.EventFinishedWaiting)
	if len(waiting) != 1 || waiting[0].(domain.FinishedWaiting).Score != 3 {
		t.Fatalf("expected one finished_waiting with score 3, got %v", waiting)
	}
	opp := f.notes.of("bob", domain.EventOpponentFinished)
	if len(opp) != 1 || opp[0].(domain.OpponentFinished).OpponentID != "alice" {
		t.Fatalf("expected bob to learn alice finished, got %v", opp)
	}
	sess := f.session(t, id)
	alice, _ := sess.Player("alice")
	if alice.FinishedAt == nil {
		t.Fatalf("expected finish time to be recorded")
	}
	if f.engine.ActiveSessions() != 1 {
		t.Fatalf("session must keep running until bob finishes")
	}
}

func TestSaveFailureEmitsNothing(t *testing.T) {
	f := newFixture(t)
	id := f.startMatch(t, domain.ModeRapidFire)

	f.sessions.failSave.Store(true)
	_, err := f.engine.Submit(context.Background(), id, "alice", domain.Submission{UnitIndex: 0, SelectedOption: "b"})
	if !errors.Is(err, errStoreDown) {
		t.Fatalf("expected store error, got %v", err)
	}
	if domain.Code(err) != domain.CodeInternal {
		t.Fatalf("expected INTERNAL code, got %s", domain.Code(err))
	}
	f.sessions.failSave.Store(false)

	if n := len(f.notes.of("alice", domain.EventAnswerResult)); n != 0 {
		t.Fatalf("expected no answer_result after failed save, got %d", n)
	}
	if _, err := f.engine.Submit(context.Background(), id, "alice", domain.Submission{UnitIndex: 0, SelectedOption: "b"}); err != nil {
		t.Fatalf("retry after failed save should be accepted, got %v", err)
	}
}

func TestReportTimeout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.startMatch(t, domain.ModeRapidFire)
	limit := DefaultConfig().TimeLimits[domain.ModeRapidFire]

	if err := f.engine.ReportTimeout(ctx, id, "alice"); !errors.Is(err, domain.ErrTooEarly) {
		t.Fatalf("expected ErrTooEarly, got %v", err)
	}
	if err := f.engine.ReportTimeout(ctx, id, "mallory"); !errors.Is(err, domain.ErrNotInSession) {
		t.Fatalf("expected ErrNotInSession, got %v", err)
	}

	// Within the grace window the server accepts the client's countdown.
	f.clock.Advance(limit - time.Second)
	if err := f.engine.ReportTimeout(ctx, id, "alice"); err != nil {
		t.Fatalf("report timeout: %v", err)
	}
	final := f.notes.final(t, "alice")
	if final.Reason != string(ReasonTimeoutReport) || final.Result != domain.ResultDraw {
		t.Fatalf("expected a timeout-report draw, got %+v", final)
	}
	if err := f.engine.ReportTimeout(ctx, id, "bob"); !errors.Is(err, domain.ErrSessionNotOngoing) {
		t.Fatalf("expected ErrSessionNotOngoing, got %v", err)
	}
	f.notes.final(t, "bob")
}

// shoutRunner upper-cases every input when the code is "shout".
type shoutRunner struct {
	calls atomic.Int32
	fail  bool
}

func (r *shoutRunner) Run(_ context.Context, _, code string, inputs []string) ([]string, error) {
	r.calls.Add(1)
	if r.fail {
		return nil, errStoreDown
	}
	out := make([]string, len(inputs))
	for i, in := range inputs {
		out[i] = in
		if code == "shout" {
			out[i] = strings.ToUpper(in)
		}
	}
	return out, nil
}

// visibleOutputs answers every test case the client was shown, in order.
func visibleOutputs(t *testing.T, f *fixture, userID string) []string {
	t.Helper()
	started := f.notes.of(userID, domain.EventSessionStarted)
	if len(started) != 1 {
		t.Fatalf("expected one session_started for %s, got %d", userID, len(started))
	}
	problem := started[0].(domain.SessionStarted).Content.Problem
	if problem == nil {
		t.Fatalf("expected a problem in the started content")
	}
	var out []string
	for _, tc := range problem.TestCases {
		if tc.Hidden {
			t.Fatalf("hidden test case leaked to %s: %+v", userID, tc)
		}
		out = append(out, tc.Expected+"\n")
	}
	return out
}

func TestCodeBattleScoresPassRatio(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.startMatch(t, domain.ModeCodeBattle)

	if s := f.session(t, id); s.TotalUnits != 1 {
		t.Fatalf("code battle must have one unit, got %d", s.TotalUnits)
	}
	outputs := visibleOutputs(t, f, "alice")
	if len(outputs) != 2 {
		t.Fatalf("expected two visible test cases, got %d", len(outputs))
	}

	if _, err := f.engine.Submit(ctx, id, "alice", domain.Submission{UnitIndex: 0}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput without outputs, got %v", err)
	}
	res, err := f.engine.Submit(ctx, id, "alice", domain.Submission{UnitIndex: 0, Outputs: outputs})
	if err != nil {
		t.Fatalf("alice submit: %v", err)
	}
	if !res.Correct || res.PassRatio != 1 || res.Score != 1 {
		t.Fatalf("a perfect answer to every shown test must be correct, got %+v", res)
	}
	res, err = f.engine.Submit(ctx, id, "bob", domain.Submission{UnitIndex: 0, Outputs: []string{"ONE"}})
	if err != nil {
		t.Fatalf("bob submit: %v", err)
	}
	if res.Correct || res.PassRatio != 0.5 || res.Score != 0.5 {
		t.Fatalf("unexpected bob result: %+v", res)
	}

	final := f.notes.final(t, "bob")
	if final.Winner != "alice" || final.Reason != string(ReasonAllFinished) {
		t.Fatalf("expected alice to win on pass ratio, got %+v", final)
	}
}

func TestCodeBattleBinaryScoringIsReachable(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.CodeScoring = domain.CodeScoringBinary })
	id := f.startMatch(t, domain.ModeCodeBattle)

	res, err := f.engine.Submit(context.Background(), id, "alice", domain.Submission{UnitIndex: 0, Outputs: visibleOutputs(t, f, "alice")})
	if err != nil {
		t.Fatalf("alice submit: %v", err)
	}
	if !res.Correct || res.Score != 1 {
		t.Fatalf("expected a full point, got %+v", res)
	}
}

func TestCodeBattleRunsHiddenTests(t *testing.T) {
	f := newFixture(t)
	runner := &shoutRunner{}
	f.engine.runner = runner
	ctx := context.Background()
	id := f.startMatch(t, domain.ModeCodeBattle)
	outputs := visibleOutputs(t, f, "alice")

	if _, err := f.engine.Submit(ctx, id, "alice", domain.Submission{UnitIndex: 0, Outputs: outputs}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput without code when hidden tests exist, got %v", err)
	}

	res, err := f.engine.Submit(ctx, id, "alice", domain.Submission{UnitIndex: 0, Outputs: outputs, Code: "shout"})
	if err != nil {
		t.Fatalf("alice submit: %v", err)
	}
	if !res.Correct || res.PassRatio != 1 {
		t.Fatalf("expected every test to pass, got %+v", res)
	}

	res, err = f.engine.Submit(ctx, id, "bob", domain.Submission{UnitIndex: 0, Outputs: outputs, Code: "whisper"})
	if err != nil {
		t.Fatalf("bob submit: %v", err)
	}
	if res.Correct || res.PassRatio < 0.66 || res.PassRatio > 0.67 {
		t.Fatalf("expected the hidden test to fail, got %+v", res)
	}
	if got := runner.calls.Load(); got != 2 {
		t.Fatalf("expected two runs, got %d", got)
	}
}

func TestCodeRunnerFailureRecordsNothing(t *testing.T) {
	f := newFixture(t)
	f.engine.runner = &shoutRunner{fail: true}
	id := f.startMatch(t, domain.ModeCodeBattle)

	_, err := f.engine.Submit(context.Background(), id, "alice", domain.Submission{UnitIndex: 0, Outputs: visibleOutputs(t, f, "alice"), Code: "shout"})
	if !errors.Is(err, errStoreDown) {
		t.Fatalf("expected the runner error, got %v", err)
	}
	sess := f.session(t, id)
	if p, _ := sess.Player("alice"); p.AnsweredCount != 0 {
		t.Fatalf("a failed run must not record an answer: %+v", p)
	}
	if n := len(f.notes.of("alice", domain.EventAnswerResult)); n != 0 {
		t.Fatalf("expected no answer_result, got %d", n)
	}
}
