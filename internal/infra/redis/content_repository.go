package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"battle-service/internal/domain"
	"battle-service/internal/infra/memory"
	"battle-service/internal/logging"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ContentRepository caches content items in Redis as JSON and falls back to a loader on cache miss.
// Keys:
//
//	content:refs:{mode}      id list of the mode
//	content:question:{id}    one question, answer included
//	content:problem:{id}     one problem, hidden tests included
type ContentRepository struct {
	client *redis.Client
	loader memory.ContentLoader
	ttl    time.Duration
	sf     singleflight.Group
}

func NewContentRepository(client *redis.Client, loader memory.ContentLoader, ttl time.Duration) *ContentRepository {
	return &ContentRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
	}
}

func (r *ContentRepository) Pick(ctx context.Context, mode domain.Mode, n int) ([]string, error) {
	refs, err := cached(ctx, r, "content:refs:"+string(mode), func() ([]string, error) {
		return r.loader.ListRefs(ctx, mode)
	})
	if err != nil {
		return nil, err
	}
	return memory.PickRefs(mode, refs, n), nil
}

func (r *ContentRepository) LoadContent(ctx context.Context, mode domain.Mode, refs []string) (domain.Content, error) {
	return memory.Assemble(ctx, mode, refs, r)
}

func (r *ContentRepository) LoadQuestion(ctx context.Context, id string) (domain.Question, error) {
	return cached(ctx, r, "content:question:"+id, func() (domain.Question, error) {
		return r.loader.LoadQuestion(ctx, id)
	})
}

func (r *ContentRepository) LoadProblem(ctx context.Context, id string) (domain.Problem, error) {
	return cached(ctx, r, "content:problem:"+id, func() (domain.Problem, error) {
		return r.loader.LoadProblem(ctx, id)
	})
}

func cached[T any](ctx context.Context, r *ContentRepository, key string, fetch func() (T, error)) (T, error) {
	if v, ok := readJSON[T](ctx, r.client, key); ok {
		return v, nil
	}

	result, err, _ := r.sf.Do(key, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if v, ok := readJSON[T](ctx, r.client, key); ok {
			return v, nil
		}
		v, err := fetch()
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(v)
		if err == nil {
			err = r.client.Set(ctx, key, raw, r.ttlWithJitter()).Err()
		}
		if err != nil {
			logging.Warn("content cache write", zap.String("key", key), zap.Error(err))
		}
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result.(T), nil
}

func readJSON[T any](ctx context.Context, client *redis.Client, key string) (T, bool) {
	var v T
	raw, err := client.Get(ctx, key).Bytes()
	if err != nil {
		return v, false
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, false
	}
	return v, true
}

func (r *ContentRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(rand.Int63n(jitterMax+1))
}
