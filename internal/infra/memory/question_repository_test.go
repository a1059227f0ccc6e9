package memory

import (
	"context"
	"testing"
	"time"

	"assessment-service/internal/domain"
)

func TestQuestionRepositoryCaches(t *testing.T) {
	loader := &countingLoader{
		QuestionLoader: NewStaticQuestionLoader(sampleQuestions()),
	}
	repo := NewQuestionRepository(loader, time.Minute)

	qs, err := repo.GetQuestions(context.Background(), []string{"q1", "q2"})
	if err != nil {
		t.Fatalf("get questions: %v", err)
	}
	if len(qs) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(qs))
	}
	if loader.calls != 1 {
		t.Fatalf("expected one batch load, got %d", loader.calls)
	}

	if _, err := repo.GetQuestions(context.Background(), []string{"q1", "q2"}); err != nil {
		t.Fatalf("get questions 2: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected cache hit, loader calls %d", loader.calls)
	}
}

func TestQuestionRepositoryLoadsOnlyMisses(t *testing.T) {
	loader := &countingLoader{
		QuestionLoader: NewStaticQuestionLoader(sampleQuestions()),
	}
	repo := NewQuestionRepository(loader, time.Minute)

	if _, err := repo.GetQuestions(context.Background(), []string{"q1"}); err != nil {
		t.Fatalf("warm cache: %v", err)
	}
	if _, err := repo.GetQuestions(context.Background(), []string{"q1", "q2"}); err != nil {
		t.Fatalf("partial miss: %v", err)
	}
	if loader.calls != 2 {
		t.Fatalf("expected 2 loads, got %d", loader.calls)
	}
	if got := loader.lastIDs; len(got) != 1 || got[0] != "q2" {
		t.Fatalf("expected only q2 loaded, got %v", got)
	}
}

func TestQuestionRepositorySkipsUnknownIDs(t *testing.T) {
	repo := NewQuestionRepository(NewStaticQuestionLoader(sampleQuestions()), time.Minute)

	qs, err := repo.GetQuestions(context.Background(), []string{"q1", "ghost"})
	if err != nil {
		t.Fatalf("get questions: %v", err)
	}
	if len(qs) != 1 || qs[0].ID != "q1" {
		t.Fatalf("expected only q1 back, got %v", qs)
	}
}

type countingLoader struct {
	QuestionLoader
	calls   int
	lastIDs []string
}

func (l *countingLoader) LoadQuestions(ctx context.Context, ids []string) ([]domain.Question, error) {
	l.calls++
	l.lastIDs = ids
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
