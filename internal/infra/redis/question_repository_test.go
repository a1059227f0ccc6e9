package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"assessment-service/internal/domain"
	"assessment-service/internal/infra/memory"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestQuestionRepositoryCachesInRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := newClient(mr)

	loader := &countingLoader{
		QuestionLoader: memory.NewStaticQuestionLoader(sampleQuestions()),
	}
	repo := NewQuestionRepository(client, loader, time.Minute)

	qs, err := repo.GetQuestions(context.Background(), []string{"q1", "q2"})
	if err != nil {
		t.Fatalf("get questions: %v", err)
	}
	if len(qs) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(qs))
	}
	if loader.calls != 1 {
		t.Fatalf("expected loader called once, got %d", loader.calls)
	}

	// Second call should hit Redis, loader not incremented.
	qs, err = repo.GetQuestions(context.Background(), []string{"q1", "q2"})
	if err != nil {
		t.Fatalf("cached get: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected cache hit, loader calls=%d", loader.calls)
	}
	// The answer key survives the round trip; stripping happens upstream.
	for _, q := range qs {
		if q.CorrectAnswer == nil {
			t.Fatalf("cached question %s lost its answer key", q.ID)
		}
	}
}

func TestQuestionRepositoryReloadsAfterExpiry(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	loader := &countingLoader{
		QuestionLoader: memory.NewStaticQuestionLoader(sampleQuestions()),
	}
	repo := NewQuestionRepository(newClient(mr), loader, time.Minute)

	if _, err := repo.GetQuestions(context.Background(), []string{"q1"}); err != nil {
		t.Fatalf("warm cache: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	if _, err := repo.GetQuestions(context.Background(), []string{"q1"}); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if loader.calls != 2 {
		t.Fatalf("expected reload after expiry, loader calls=%d", loader.calls)
	}
}

func TestQuestionRepositoryConcurrentMisses(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	repo := NewQuestionRepository(newClient(mr), memory.NewStaticQuestionLoader(sampleQuestions()), time.Minute)

	// Distinct id sets fill under distinct singleflight keys at the same
	// time; both must land.
	var wg sync.WaitGroup
	for _, ids := range [][]string{{"q1"}, {"q2"}} {
		wg.Add(1)
		go func(ids []string) {
			defer wg.Done()
			qs, err := repo.GetQuestions(context.Background(), ids)
			if err != nil {
				t.Errorf("get %v: %v", ids, err)
				return
			}
			if len(qs) != 1 || qs[0].ID != ids[0] {
				t.Errorf("expected %v back, got %v", ids, qs)
			}
		}(ids)
	}
	wg.Wait()
}

type countingLoader struct {
	QuestionLoader
	calls int
}

func (l *countingLoader) LoadQuestions(ctx context.Context, ids []string) ([]domain.Question, error) {
	l.calls++
	return l.QuestionLoader.LoadQuestions(ctx, ids)
}

func sampleQuestions() []domain.Question {
	return []domain.Question{
		{
			ID:     "q1",
			Prompt: "What is 2 + 2?",
			Type:   domain.SingleChoice,
			Choices: []domain.Choice{
				{ID: "c1", Text: "3"},
				{ID: "c2", Text: "4"},
			},
			CorrectAnswer: "c2",
			Points:        1,
		},
		{
			ID:            "q2",
			Prompt:        "Water boils at 100C at sea level.",
			Type:          domain.TrueFalse,
			CorrectAnswer: true,
			Points:        1,
		},
	}
}

func newClient(mr *miniredis.Miniredis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
}
