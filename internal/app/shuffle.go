package app

import (
	"math/rand"
	"sync"
	"time"

	"assessment-service/internal/domain"
)

// Shuffler abstracts the randomization source so tests can pin the
// materialized order.
type Shuffler interface {
	Shuffle(n int, swap func(i, j int))
}

type randShuffler struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewRandShuffler returns the production shuffler (Fisher-Yates via
// math/rand, time-seeded).
func NewRandShuffler() Shuffler {
	return &randShuffler{rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (r *randShuffler) Shuffle(n int, swap func(i, j int)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rnd.Shuffle(n, swap)
}

// questionOrder computes the question presentation order for a new
// attempt. The result is persisted on the attempt so resume calls see
// the same permutation.
func (s *AssessmentService) questionOrder(def domain.AssessmentDefinition, qs []domain.Question) []string {
	order := make([]string, len(def.QuestionRefs))
	copy(order, def.QuestionRefs)
	if def.ShuffleQuestions {
		s.shuffler.Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})
	}
	return order
}

// choiceOrder computes, per choice-bearing question, the choice
// presentation order for a new attempt.
func (s *AssessmentService) choiceOrder(def domain.AssessmentDefinition, qs []domain.Question) map[string][]string {
	if !def.ShuffleChoices {
		return nil
	}
	orders := make(map[string][]string)
	for _, q := range qs {
		if len(q.Choices) == 0 {
			continue
		}
		ids := make([]string, len(q.Choices))
		for i, c := range q.Choices {
			ids[i] = c.ID
		}
		s.shuffler.Shuffle(len(ids), func(i, j int) {
			ids[i], ids[j] = ids[j], ids[i]
		})
		orders[q.ID] = ids
	}
	return orders
}
