package minutes

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type memoryStore struct {
	mu      sync.RWMutex
	records map[uuid.UUID]Minutes
}

func NewMemoryStore() Store {
	return &memoryStore{records: make(map[uuid.UUID]Minutes)}
}

func (s *memoryStore) Create(_ context.Context, m *Minutes) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[m.ID] = *m
	return nil
}

func (s *memoryStore) GetByID(_ context.Context, id uuid.UUID) (*Minutes, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	return &m, nil
}
