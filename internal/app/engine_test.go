package app

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"battle-service/internal/domain"
	"battle-service/internal/infra/memory"
	"github.com/jonboulle/clockwork"
)

var errStoreDown = errors.New("store down")

type fixture struct {
	engine    *Engine
	sessions  *flakySessions
	ratings   *countingRatings
	notes     *recorder
	clock     *clockwork.FakeClock
	published *publishRecorder
	tracker   *trackerRecorder
}

func newFixture(t *testing.T, mutate ...func(*Config)) *fixture {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DeckSize = 3
	cfg.TickInterval = time.Hour
	cfg.SnapshotInterval = time.Hour
	for _, m := range mutate {
		m(&cfg)
	}

	f := &fixture{
		sessions:  &flakySessions{SessionStore: memory.NewSessionStore()},
		ratings:   &countingRatings{RatingStore: memory.NewRatingStore(domain.DefaultRatingConfig())},
		notes:     newRecorder(),
		clock:     clockwork.NewFakeClockAt(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)),
		published: &publishRecorder{},
		tracker:   &trackerRecorder{active: map[string]bool{}},
	}
	loader := memory.NewStaticContentLoader(sampleQuestions(), sampleProblems())
	f.engine = NewEngine(
		f.sessions,
		f.ratings,
		memory.NewContentRepository(loader, time.Minute),
		f.notes,
		cfg,
		WithClock(f.clock),
		WithPublisher(f.published),
		WithTracker(f.tracker),
	)
	t.Cleanup(func() {
		for _, id := range f.engine.registry.Active() {
			if entry, ok := f.engine.registry.get(id); ok {
				entry.clock.stop()
			}
		}
	})
	return f
}

// startMatch pairs alice and bob in mode and returns the ongoing session id.
func (f *fixture) startMatch(t *testing.T, mode domain.Mode) string {
	t.Helper()
	ctx := context.Background()
	first, err := f.engine.CreateOrMatch(ctx, "alice", mode, domain.JoinSpec{})
	if err != nil {
		t.Fatalf("alice join: %v", err)
	}
	second, err := f.engine.CreateOrMatch(ctx, "bob", mode, domain.JoinSpec{})
	if err != nil {
		t.Fatalf("bob join: %v", err)
	}
	if first.SessionID != second.SessionID || second.Status != domain.StatusOngoing {
		t.Fatalf("expected bob to join alice's session, got %+v / %+v", first, second)
	}
	return second.SessionID
}

func (f *fixture) session(t *testing.T, id string) domain.Session {
	t.Helper()
	s, err := f.sessions.Load(context.Background(), id)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	return s
}

func (f *fixture) answerAll(t *testing.T, sessionID, userID, option string) {
	t.Helper()
	total := f.session(t, sessionID).TotalUnits
	for i := 0; i < total; i++ {
		if _, err := f.engine.Submit(context.Background(), sessionID, userID, domain.Submission{UnitIndex: i, SelectedOption: option}); err != nil {
			t.Fatalf("%s submit unit %d: %v", userID, i, err)
		}
	}
}

type recorder struct {
	mu       sync.Mutex
	events   map[string][]domain.Event
	panicOn  domain.EventType
	panicked bool
}

func newRecorder() *recorder {
	return &recorder{events: make(map[string][]domain.Event)}
}

func (r *recorder) Notify(userID string, event domain.Event) {
	r.mu.Lock()
	if r.panicOn != "" && event.EventType() == r.panicOn && !r.panicked {
		r.panicked = true
		r.mu.Unlock()
		panic("notifier exploded")
	}
	r.events[userID] = append(r.events[userID], event)
	r.mu.Unlock()
}

func (r *recorder) of(userID string, typ domain.EventType) []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Event
	for _, ev := range r.events[userID] {
		if ev.EventType() == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) final(t *testing.T, userID string) domain.FinalResults {
	t.Helper()
	events := r.of(userID, domain.EventFinalResults)
	if len(events) != 1 {
		t.Fatalf("expected exactly one final_results for %s, got %d", userID, len(events))
	}
	return events[0].(domain.FinalResults)
}

type flakySessions struct {
	*memory.SessionStore
	failSave atomic.Bool
}

func (s *flakySessions) Save(ctx context.Context, session domain.Session) error {
	if s.failSave.Load() {
		return errStoreDown
	}
	return s.SessionStore.Save(ctx, session)
}

type countingRatings struct {
	*memory.RatingStore
	applies   atomic.Int32
	failLoad  atomic.Bool
	failApply atomic.Bool
}

func (r *countingRatings) LoadRating(ctx context.Context, userID string, mode domain.Mode) (domain.Rating, error) {
	if r.failLoad.Load() {
		return domain.Rating{}, errStoreDown
	}
	return r.RatingStore.LoadRating(ctx, userID, mode)
}

func (r *countingRatings) ApplyOutcomes(ctx context.Context, mode domain.Mode, outcomes []domain.Outcome) ([]domain.Rating, error) {
	r.applies.Add(1)
	if r.failApply.Load() {
		return nil, errStoreDown
	}
	return r.RatingStore.ApplyOutcomes(ctx, mode, outcomes)
}

type publishRecorder struct {
	mu      sync.Mutex
	results []domain.FinalResults
}

func (p *publishRecorder) Publish(_ context.Context, results domain.FinalResults) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = append(p.results, results)
	return nil
}

func (p *publishRecorder) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.results)
}

type trackerRecorder struct {
	mu     sync.Mutex
	active map[string]bool
}

func (tr *trackerRecorder) Activate(_ context.Context, sessionID string, _ time.Duration) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.active[sessionID] = true
	return nil
}

func (tr *trackerRecorder) Deactivate(_ context.Context, sessionID string) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	delete(tr.active, sessionID)
	return nil
}

func (tr *trackerRecorder) Owner(_ context.Context, sessionID string) (string, error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.active[sessionID] {
		return "test", nil
	}
	return "", nil
}

func (tr *trackerRecorder) isActive(sessionID string) bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.active[sessionID]
}

// Every question's correct option is "b".
func sampleQuestions() []domain.Question {
	var out []domain.Question
	for _, id := range []string{"q1", "q2", "q3"} {
		out = append(out, domain.Question{
			ID:     id,
			Prompt: "prompt " + id,
			Options: []domain.Option{
				{ID: "a", Text: "wrong"},
				{ID: "b", Text: "right"},
			},
			CorrectOption: "b",
			Explanation:   "b is right",
		})
	}
	return out
}

func sampleProblems() []domain.Problem {
	return []domain.Problem{
		{
			ID:    "p1",
			Title: "Shout",
			TestCases: []domain.TestCase{
				{Input: "secret", Expected: "SECRET", Hidden: true},
				{Input: "one", Expected: "ONE"},
				{Input: "two", Expected: "TWO"},
			},
		},
	}
}
