package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"battle-service/internal/domain"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"
)

// ContentRepository caches content items with TTL to avoid repeated DB hits.
type ContentRepository struct {
	loader ContentLoader
	ttl    time.Duration
	clock  clockwork.Clock
	sf     singleflight.Group

	mu    sync.RWMutex
	cache map[string]cachedItem
}

type cachedItem struct {
	value     any
	expiresAt time.Time
}

func NewContentRepository(loader ContentLoader, ttl time.Duration) *ContentRepository {
	return &ContentRepository{
		loader: loader,
		ttl:    ttl,
		clock:  clockwork.NewRealClock(),
		cache:  make(map[string]cachedItem),
	}
}

func (r *ContentRepository) Pick(ctx context.Context, mode domain.Mode, n int) ([]string, error) {
	refs, err := load(r, "refs:"+string(mode), func() ([]string, error) {
		return r.loader.ListRefs(ctx, mode)
	})
	if err != nil {
		return nil, err
	}
	return PickRefs(mode, refs, n), nil
}

func (r *ContentRepository) LoadContent(ctx context.Context, mode domain.Mode, refs []string) (domain.Content, error) {
	return Assemble(ctx, mode, refs, r)
}

func (r *ContentRepository) LoadQuestion(ctx context.Context, id string) (domain.Question, error) {
	return load(r, "question:"+id, func() (domain.Question, error) {
		return r.loader.LoadQuestion(ctx, id)
	})
}

func (r *ContentRepository) LoadProblem(ctx context.Context, id string) (domain.Problem, error) {
	return load(r, "problem:"+id, func() (domain.Problem, error) {
		return r.loader.LoadProblem(ctx, id)
	})
}

// load serves key from cache, or calls fetch once per key across concurrent callers.
func load[T any](r *ContentRepository, key string, fetch func() (T, error)) (T, error) {
	if v, ok := r.lookup(key); ok {
		return v.(T), nil
	}

	result, err, _ := r.sf.Do(key, func() (interface{}, error) {
		if v, ok := r.lookup(key); ok {
			return v, nil
		}
		v, err := fetch()
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.cache[key] = cachedItem{value: v, expiresAt: r.clock.Now().Add(r.ttlWithJitter())}
		r.mu.Unlock()
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result.(T), nil
}

func (r *ContentRepository) lookup(key string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.cache[key]
	if !ok || !entry.expiresAt.After(r.clock.Now()) {
		return nil, false
	}
	return entry.value, true
}

func (r *ContentRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(rand.Int63n(jitterMax+1))
}
