package memory

import (
	"context"
	"sort"
	"sync"

	"assessment-service/internal/domain"
)

// AttemptStore is an in-memory implementation of app.AttemptStore. The
// active index guarantees at most one in-progress attempt per
// (definition, participant) pair; finalization is compare-and-swap under
// the write lock.
type AttemptStore struct {
	mu       sync.RWMutex
	attempts map[string]domain.Attempt
	active   map[string]string // pair key -> attempt id
}

func NewAttemptStore() *AttemptStore {
	return &AttemptStore{
		attempts: make(map[string]domain.Attempt),
		active:   make(map[string]string),
	}
}

func pairKey(definitionID, participantID string) string {
	return definitionID + "|" + participantID
}

func (s *AttemptStore) CreateInProgress(_ context.Context, a domain.Attempt) (domain.Attempt, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey(a.DefinitionID, a.ParticipantID)
	if existingID, ok := s.active[key]; ok {
		return s.attempts[existingID], false, nil
	}
	s.attempts[a.ID] = a
	s.active[key] = a.ID
	return a, true, nil
}

func (s *AttemptStore) GetActive(_ context.Context, definitionID, participantID string) (domain.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.active[pairKey(definitionID, participantID)]
	if !ok {
		return domain.Attempt{}, domain.ErrNoActiveAttempt
	}
	return s.attempts[id], nil
}

func (s *AttemptStore) CountForParticipant(_ context.Context, definitionID, participantID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, a := range s.attempts {
		if a.DefinitionID == definitionID && a.ParticipantID == participantID {
			n++
		}
	}
	return n, nil
}

func (s *AttemptStore) Finalize(_ context.Context, a domain.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.attempts[a.ID]
	if !ok {
		return domain.ErrAttemptNotFound
	}
	if current.FinishedAt != nil {
		return domain.ErrAlreadySubmitted
	}
	s.attempts[a.ID] = a
	delete(s.active, pairKey(a.DefinitionID, a.ParticipantID))
	return nil
}

func (s *AttemptStore) ListForParticipant(_ context.Context, definitionID, participantID string) ([]domain.Attempt, error) {
	s.mu.RLock()
	out := make([]domain.Attempt, 0, 4)
	for _, a := range s.attempts {
		if a.DefinitionID == definitionID && a.ParticipantID == participantID {
			out = append(out, a)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].AttemptNumber < out[j].AttemptNumber })
	return out, nil
}

func (s *AttemptStore) ListForDefinition(_ context.Context, definitionID string, limit, offset int) ([]domain.Attempt, int, error) {
	s.mu.RLock()
	out := make([]domain.Attempt, 0, 16)
	for _, a := range s.attempts {
		if a.DefinitionID == definitionID {
			out = append(out, a)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})

	total := len(out)
	if offset >= total {
		return nil, total, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

func (s *AttemptStore) HasAttempts(_ context.Context, definitionID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.attempts {
		if a.DefinitionID == definitionID {
			return true, nil
		}
	}
	return false, nil
}
