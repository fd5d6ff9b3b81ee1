package profile

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryStore struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
	now      func() time.Time
}

// NewMemoryStore returns a Store kept in process memory.
func NewMemoryStore() Store {
	return &memoryStore{
		profiles: make(map[string]*Profile),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func clone(p *Profile) *Profile {
	cp := *p
	if p.PlanUpdatedAt != nil {
		at := *p.PlanUpdatedAt
		cp.PlanUpdatedAt = &at
	}
	return &cp
}

func (s *memoryStore) Upsert(_ context.Context, d Details) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	p, ok := s.profiles[d.ExternalUserID]
	if !ok {
		p = &Profile{
			ID:             uuid.New(),
			ExternalUserID: d.ExternalUserID,
			Plan:           PlanFree,
			CreatedAt:      now,
		}
		s.profiles[d.ExternalUserID] = p
	}
	p.Email = d.Email
	p.Name = d.Name
	p.UpdatedAt = now
	return clone(p), nil
}

func (s *memoryStore) GetByExternalID(_ context.Context, externalUserID string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[externalUserID]
	if !ok {
		return nil, nil
	}
	return clone(p), nil
}

func (s *memoryStore) SetPlan(_ context.Context, externalUserID string, plan Plan, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	p, ok := s.profiles[externalUserID]
	if !ok {
		p = &Profile{
			ID:             uuid.New(),
			ExternalUserID: externalUserID,
			CreatedAt:      now,
		}
		s.profiles[externalUserID] = p
	} else if p.PlanUpdatedAt != nil && !p.PlanUpdatedAt.Before(at) {
		return false, nil
	}

	p.Plan = plan
	p.PlanUpdatedAt = &at
	p.UpdatedAt = now
	return true, nil
}
