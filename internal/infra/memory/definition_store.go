package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"assessment-service/internal/app"
	"assessment-service/internal/domain"
)

// DefinitionStore is an in-memory implementation of app.DefinitionStore.
type DefinitionStore struct {
	mu   sync.RWMutex
	defs map[string]domain.AssessmentDefinition
}

func NewDefinitionStore() *DefinitionStore {
	return &DefinitionStore{defs: make(map[string]domain.AssessmentDefinition)}
}

func (s *DefinitionStore) Create(_ context.Context, def domain.AssessmentDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.defs[def.ID]; exists {
		return domain.NewError(domain.KindConflict, "assessment %q already exists", def.ID)
	}
	s.defs[def.ID] = def
	return nil
}

func (s *DefinitionStore) Get(_ context.Context, id string) (domain.AssessmentDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.defs[id]
	if !ok {
		return domain.AssessmentDefinition{}, domain.ErrDefinitionNotFound
	}
	return def, nil
}

func (s *DefinitionStore) Update(_ context.Context, def domain.AssessmentDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.defs[def.ID]; !ok {
		return domain.ErrDefinitionNotFound
	}
	s.defs[def.ID] = def
	return nil
}

func (s *DefinitionStore) List(_ context.Context, opts app.ListOpts) ([]domain.AssessmentDefinition, int, error) {
	s.mu.RLock()
	matched := make([]domain.AssessmentDefinition, 0, len(s.defs))
	for _, def := range s.defs {
		if opts.CourseRef != "" && def.CourseRef != opts.CourseRef {
			continue
		}
		if opts.Published != nil && def.Published != *opts.Published {
			continue
		}
		matched = append(matched, def)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	total := len(matched)
	if opts.Offset >= total {
		return nil, total, nil
	}
	matched = matched[opts.Offset:]
	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}
	return matched, total, nil
}

func (s *DefinitionStore) DeactivateClosed(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, def := range s.defs {
		if def.Active && def.ClosesAt != nil && now.After(*def.ClosesAt) {
			def.Active = false
			def.UpdatedAt = now
			s.defs[id] = def
			n++
		}
	}
	return n, nil
}
