package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Inserter persists new records. Implementations return ErrDuplicateRecord
// when a record with the same queue and key exists.
type Inserter interface {
	Insert(ctx context.Context, rec *Record) error
}

type Enqueuer struct {
	store       Inserter
	queue       string
	maxAttempts int
	now         func() time.Time
}

type EnqueuerOption func(*Enqueuer)

func WithDefaultQueue(queue string) EnqueuerOption {
	return func(e *Enqueuer) {
		if queue != "" {
			e.queue = queue
		}
	}
}

func WithDefaultMaxAttempts(n int) EnqueuerOption {
	return func(e *Enqueuer) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

func NewEnqueuer(store Inserter, opts ...EnqueuerOption) (*Enqueuer, error) {
	if store == nil {
		return nil, ErrStorageNil
	}
	e := &Enqueuer{
		store:       store,
		queue:       DefaultQueue,
		maxAttempts: 8,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

type enqueueOptions struct {
	queue       string
	key         string
	priority    Priority
	maxAttempts int
	delay       time.Duration
}

type EnqueueOption func(*enqueueOptions)

func WithQueue(queue string) EnqueueOption {
	return func(o *enqueueOptions) {
		if queue != "" {
			o.queue = queue
		}
	}
}

// WithKey makes the insert idempotent for the given key.
func WithKey(key string) EnqueueOption {
	return func(o *enqueueOptions) { o.key = key }
}

func WithPriority(p Priority) EnqueueOption {
	return func(o *enqueueOptions) { o.priority = p }
}

func WithMaxAttempts(n int) EnqueueOption {
	return func(o *enqueueOptions) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

func WithDelay(d time.Duration) EnqueueOption {
	return func(o *enqueueOptions) {
		if d > 0 {
			o.delay = d
		}
	}
}

// Enqueue stores payload as a pending record named after its Go type.
func (e *Enqueuer) Enqueue(ctx context.Context, payload any, opts ...EnqueueOption) (*Record, error) {
	if payload == nil {
		return nil, ErrPayloadNil
	}
	o := &enqueueOptions{
		queue:       e.queue,
		priority:    PriorityDefault,
		maxAttempts: e.maxAttempts,
	}
	for _, opt := range opts {
		opt(o)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Join(ErrPayloadMarshal, err)
	}

	now := e.now()
	rec := &Record{
		ID:          uuid.New(),
		Queue:       o.queue,
		Name:        payloadName(payload),
		Payload:     data,
		Status:      StatusPending,
		Priority:    o.priority,
		MaxAttempts: o.maxAttempts,
		ScheduledAt: now.Add(o.delay),
		CreatedAt:   now,
	}
	if o.key != "" {
		rec.Key = &o.key
	}

	if err := e.store.Insert(ctx, rec); err != nil {
		if errors.Is(err, ErrDuplicateRecord) {
			return nil, err
		}
		return nil, errors.Join(ErrInsert, fmt.Errorf("%s in %q: %w", rec.Name, rec.Queue, err))
	}
	return rec, nil
}

func payloadName(v any) string {
	return strings.TrimLeft(fmt.Sprintf("%T", v), "*")
}
