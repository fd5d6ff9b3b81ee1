package outbox

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStorage keeps records in process. Expired leases become claimable
// again, so no background sweeper is needed.
type MemoryStorage struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*Record
	keys    map[string]uuid.UUID
	dlq     []DeadLetter
	now     func() time.Time
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		records: make(map[uuid.UUID]*Record),
		keys:    make(map[string]uuid.UUID),
		now:     time.Now,
	}
}

func dedupKey(queue string, key *string) string {
	if key == nil {
		return ""
	}
	return queue + "\x00" + *key
}

func (m *MemoryStorage) Insert(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if k := dedupKey(rec.Queue, rec.Key); k != "" {
		if _, ok := m.keys[k]; ok {
			return ErrDuplicateRecord
		}
		m.keys[k] = rec.ID
	}
	cp := *rec
	m.records[rec.ID] = &cp
	return nil
}

func (m *MemoryStorage) claimable(rec *Record, queues []string, now time.Time) bool {
	if !slices.Contains(queues, rec.Queue) {
		return false
	}
	switch rec.Status {
	case StatusPending:
		return !rec.ScheduledAt.After(now)
	case StatusProcessing:
		return rec.LockedUntil != nil && rec.LockedUntil.Before(now)
	default:
		return false
	}
}

func (m *MemoryStorage) Claim(_ context.Context, workerID uuid.UUID, queues []string, lease time.Duration) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var best *Record
	for _, rec := range m.records {
		if !m.claimable(rec, queues, now) {
			continue
		}
		if best == nil ||
			rec.Priority > best.Priority ||
			(rec.Priority == best.Priority && rec.ScheduledAt.Before(best.ScheduledAt)) {
			best = rec
		}
	}
	if best == nil {
		return nil, ErrNoRecord
	}

	until := now.Add(lease)
	best.Status = StatusProcessing
	best.Attempts++
	best.LockedUntil = &until
	best.LockedBy = &workerID

	cp := *best
	return &cp, nil
}

func (m *MemoryStorage) processing(id uuid.UUID) (*Record, error) {
	rec, ok := m.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	if rec.Status != StatusProcessing {
		return nil, ErrNotProcessing
	}
	return rec, nil
}

func (m *MemoryStorage) Complete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.processing(id)
	if err != nil {
		return err
	}
	now := m.now()
	rec.Status = StatusCompleted
	rec.ProcessedAt = &now
	rec.LockedUntil = nil
	rec.LockedBy = nil
	rec.Error = nil
	return nil
}

func (m *MemoryStorage) Fail(_ context.Context, id uuid.UUID, errMsg string, retryAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.processing(id)
	if err != nil {
		return err
	}
	rec.Status = StatusPending
	rec.Error = &errMsg
	rec.ScheduledAt = retryAt
	rec.LockedUntil = nil
	rec.LockedBy = nil
	return nil
}

func (m *MemoryStorage) MoveToDLQ(_ context.Context, id uuid.UUID, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return ErrRecordNotFound
	}
	now := m.now()
	m.dlq = append(m.dlq, DeadLetter{
		ID:        uuid.New(),
		RecordID:  rec.ID,
		Queue:     rec.Queue,
		Name:      rec.Name,
		Key:       rec.Key,
		Payload:   rec.Payload,
		Attempts:  rec.Attempts,
		Error:     errMsg,
		FailedAt:  now,
		CreatedAt: rec.CreatedAt,
	})
	delete(m.records, id)
	delete(m.keys, dedupKey(rec.Queue, rec.Key))
	return nil
}

// Get returns a copy of the record with id.
func (m *MemoryStorage) Get(_ context.Context, id uuid.UUID) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	cp := *rec
	return &cp, nil
}

// Records returns copies of all live records.
func (m *MemoryStorage) Records() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, *rec)
	}
	return out
}

func (m *MemoryStorage) DeadLetters() []DeadLetter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.dlq)
}
