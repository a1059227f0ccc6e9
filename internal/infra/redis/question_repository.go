package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"assessment-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// QuestionLoader fetches question content from a backing store (e.g.,
// Postgres).
type QuestionLoader interface {
	LoadQuestions(ctx context.Context, ids []string) ([]domain.Question, error)
}

// QuestionRepository caches question JSON in Redis (one key per
// question) and falls back to a loader on cache miss. Cached entries
// include the answer key, so this cache must never be exposed directly
// to clients.
type QuestionRepository struct {
	client *redis.Client
	loader QuestionLoader
	ttl    time.Duration
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewQuestionRepository(client *redis.Client, loader QuestionLoader, ttl time.Duration) *QuestionRepository {
	return &QuestionRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *QuestionRepository) GetQuestions(ctx context.Context, ids []string) ([]domain.Question, error) {
	found, missing, err := r.fromCache(ctx, ids)
	if err != nil {
		// Treat a cache read failure as a full miss; the loader is the
		// source of truth.
		found = map[string]domain.Question{}
		missing = ids
	}

	if len(missing) > 0 {
		result, err, _ := r.sf.Do(sfKey(missing), func() (any, error) {
			loaded, err := r.loader.LoadQuestions(ctx, missing)
			if err != nil {
				return nil, err
			}
			ttl := r.ttlWithJitter()
			pipe := r.client.Pipeline()
			for _, q := range loaded {
				data, err := json.Marshal(q)
				if err != nil {
					return nil, fmt.Errorf("marshal question: %w", err)
				}
				pipe.Set(ctx, questionKey(q.ID), data, ttl)
			}
			_, _ = pipe.Exec(ctx)
			return loaded, nil
		})
		if err != nil {
			return nil, err
		}
		for _, q := range result.([]domain.Question) {
			found[q.ID] = q
		}
	}

	out := make([]domain.Question, 0, len(ids))
	for _, id := range ids {
		if q, ok := found[id]; ok {
			out = append(out, q)
		}
	}
	return out, nil
}

func (r *QuestionRepository) fromCache(ctx context.Context, ids []string) (map[string]domain.Question, []string, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = questionKey(id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, nil, err
	}

	found := make(map[string]domain.Question, len(ids))
	var missing []string
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			missing = append(missing, ids[i])
			continue
		}
		var q domain.Question
		if err := json.Unmarshal([]byte(s), &q); err != nil {
			missing = append(missing, ids[i])
			continue
		}
		found[q.ID] = q
	}
	return found, missing, nil
}

func questionKey(id string) string {
	return "assessment:question:" + id
}

func sfKey(ids []string) string {
	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

func (r *QuestionRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	jitter := r.rnd.Int63n(jitterMax + 1)
	r.rndMu.Unlock()
	return r.ttl + time.Duration(jitter)
}
