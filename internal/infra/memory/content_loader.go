package memory

import (
	"context"
	"math/rand"
	"sort"

	"battle-service/internal/domain"
)

// ItemSource resolves single content items by id.
type ItemSource interface {
	LoadQuestion(ctx context.Context, id string) (domain.Question, error)
	LoadProblem(ctx context.Context, id string) (domain.Problem, error)
}

// ContentLoader fetches content from a backing store (e.g., Postgres).
type ContentLoader interface {
	ItemSource
	// ListRefs returns the ids of every item available for mode.
	ListRefs(ctx context.Context, mode domain.Mode) ([]string, error)
}

// Assemble builds session content from refs: one question per ref for rapid-fire,
// the first ref as the problem for code-battle.
func Assemble(ctx context.Context, mode domain.Mode, refs []string, src ItemSource) (domain.Content, error) {
	if len(refs) == 0 {
		return domain.Content{}, domain.ErrContentNotFound
	}
	switch mode {
	case domain.ModeRapidFire:
		questions := make([]domain.Question, 0, len(refs))
		for _, id := range refs {
			q, err := src.LoadQuestion(ctx, id)
			if err != nil {
				return domain.Content{}, err
			}
			questions = append(questions, q)
		}
		return domain.Content{Mode: mode, Questions: questions}, nil
	case domain.ModeCodeBattle:
		p, err := src.LoadProblem(ctx, refs[0])
		if err != nil {
			return domain.Content{}, err
		}
		return domain.Content{Mode: mode, Problem: &p}, nil
	}
	return domain.Content{}, domain.ErrInvalidInput
}

// PickRefs returns up to n refs in random order. Code-battle always gets one.
func PickRefs(mode domain.Mode, refs []string, n int) []string {
	if mode == domain.ModeCodeBattle {
		n = 1
	}
	shuffled := append([]string(nil), refs...)
	rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	if n > 0 && len(shuffled) > n {
		shuffled = shuffled[:n]
	}
	return shuffled
}

// StaticContentLoader is a simple loader backed by in-memory maps (useful for tests/demos).
type StaticContentLoader struct {
	questions map[string]domain.Question
	problems  map[string]domain.Problem
}

func NewStaticContentLoader(questions []domain.Question, problems []domain.Problem) *StaticContentLoader {
	l := &StaticContentLoader{
		questions: make(map[string]domain.Question, len(questions)),
		problems:  make(map[string]domain.Problem, len(problems)),
	}
	for _, q := range questions {
		l.questions[q.ID] = q
	}
	for _, p := range problems {
		l.problems[p.ID] = p
	}
	return l
}

func (l *StaticContentLoader) ListRefs(_ context.Context, mode domain.Mode) ([]string, error) {
	var refs []string
	switch mode {
	case domain.ModeRapidFire:
		for id := range l.questions {
			refs = append(refs, id)
		}
	case domain.ModeCodeBattle:
		for id := range l.problems {
			refs = append(refs, id)
		}
	default:
		return nil, domain.ErrInvalidInput
	}
	sort.Strings(refs)
	return refs, nil
}

func (l *StaticContentLoader) LoadQuestion(_ context.Context, id string) (domain.Question, error) {
	if q, ok := l.questions[id]; ok {
		return q, nil
	}
	return domain.Question{}, domain.ErrContentNotFound
}

func (l *StaticContentLoader) LoadProblem(_ context.Context, id string) (domain.Problem, error) {
	if p, ok := l.problems[id]; ok {
		return p, nil
	}
	return domain.Problem{}, domain.ErrContentNotFound
}
