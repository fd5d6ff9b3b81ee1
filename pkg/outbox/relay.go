package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/minutes/pkg/logger"
)

// RelayStorage is the storage contract used by the relay.
type RelayStorage interface {
	// Claim leases the next due record in queues, marks it processing and
	// increments its attempt counter. It returns ErrNoRecord when nothing is due.
	Claim(ctx context.Context, workerID uuid.UUID, queues []string, lease time.Duration) (*Record, error)
	Complete(ctx context.Context, id uuid.UUID) error
	// Fail records errMsg and makes the record claimable again at retryAt.
	Fail(ctx context.Context, id uuid.UUID, errMsg string, retryAt time.Time) error
	MoveToDLQ(ctx context.Context, id uuid.UUID, errMsg string) error
}

// Backoff returns the delay before the next attempt, given the number of
// attempts already made.
type Backoff func(attempts int) time.Duration

// MinBackoff is the smallest delay ExponentialBackoff returns.
const MinBackoff = 100 * time.Millisecond

// ExponentialBackoff doubles base per attempt, capped at maxDelay. Both are
// raised to at least MinBackoff.
func ExponentialBackoff(base, maxDelay time.Duration) Backoff {
	base = max(base, MinBackoff)
	maxDelay = max(maxDelay, base)
	return func(attempts int) time.Duration {
		if attempts < 1 {
			attempts = 1
		}
		d := base
		for range attempts - 1 {
			d *= 2
			if d >= maxDelay {
				return maxDelay
			}
		}
		return min(d, maxDelay)
	}
}

type RelayOption func(*Relay)

func WithQueues(queues ...string) RelayOption {
	return func(r *Relay) {
		if len(queues) > 0 {
			r.queues = queues
		}
	}
}

func WithPollInterval(d time.Duration) RelayOption {
	return func(r *Relay) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

func WithLease(d time.Duration) RelayOption {
	return func(r *Relay) {
		if d > 0 {
			r.lease = d
		}
	}
}

func WithMaxConcurrent(n int) RelayOption {
	return func(r *Relay) {
		if n > 0 {
			r.maxConcurrent = n
		}
	}
}

func WithBackoff(b Backoff) RelayOption {
	return func(r *Relay) {
		if b != nil {
			r.backoff = b
		}
	}
}

func WithLogger(l *slog.Logger) RelayOption {
	return func(r *Relay) {
		if l != nil {
			r.log = l
		}
	}
}

// FromConfig maps Config onto relay options.
func FromConfig(cfg Config) []RelayOption {
	return []RelayOption{
		WithPollInterval(cfg.PollInterval),
		WithLease(cfg.LeaseDuration),
		WithMaxConcurrent(cfg.MaxConcurrent),
		WithBackoff(ExponentialBackoff(cfg.BaseBackoff, cfg.MaxBackoff)),
	}
}

// Relay polls storage and dispatches due records to their handlers. At most
// maxConcurrent records are processed at once. Stop waits for in-flight
// records to finish.
type Relay struct {
	store    RelayStorage
	workerID uuid.UUID
	log      *slog.Logger

	queues        []string
	pollInterval  time.Duration
	lease         time.Duration
	maxConcurrent int
	backoff       Backoff

	mu       sync.RWMutex
	handlers map[string]Handler

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	sem       chan struct{}
	wg        sync.WaitGroup
}

func NewRelay(store RelayStorage, opts ...RelayOption) (*Relay, error) {
	if store == nil {
		return nil, ErrStorageNil
	}
	r := &Relay{
		store:         store,
		workerID:      uuid.New(),
		log:           slog.Default(),
		queues:        []string{DefaultQueue},
		pollInterval:  time.Second,
		lease:         time.Minute,
		maxConcurrent: 1,
		backoff:       ExponentialBackoff(5*time.Second, 10*time.Minute),
		handlers:      make(map[string]Handler),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With(logger.Component("outbox"), slog.String("worker_id", r.workerID.String()))
	return r, nil
}

func (r *Relay) Register(handlers ...Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range handlers {
		if h == nil {
			continue
		}
		if _, ok := r.handlers[h.Name()]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateHandler, h.Name())
		}
		r.handlers[h.Name()] = h
	}
	return nil
}

// Start launches the polling loop.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.RLock()
	n := len(r.handlers)
	r.mu.RUnlock()
	if n == 0 {
		return ErrNoHandlers
	}

	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()
	if r.cancel != nil {
		return ErrRelayRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.sem = make(chan struct{}, r.maxConcurrent)

	r.wg.Add(1)
	go r.loop(loopCtx)

	r.log.InfoContext(ctx, "outbox relay started",
		slog.Any("queues", r.queues),
		slog.Int("max_concurrent", r.maxConcurrent),
	)
	return nil
}

// Stop cancels polling and waits for in-flight records.
func (r *Relay) Stop() error {
	r.lifecycle.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.lifecycle.Unlock()
	if cancel == nil {
		return ErrRelayNotRunning
	}

	cancel()
	r.wg.Wait()
	r.log.Info("outbox relay stopped")
	return nil
}

// Run starts the relay and stops it when ctx is done. Suitable for errgroup.
func (r *Relay) Run(ctx context.Context) func() error {
	return func() error {
		if err := r.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return r.Stop()
	}
}

func (r *Relay) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.fill(ctx)
		}
	}
}

// fill starts one drain worker per free slot.
func (r *Relay) fill(ctx context.Context) {
	for {
		select {
		case r.sem <- struct{}{}:
		default:
			return
		}
		if ctx.Err() != nil {
			<-r.sem
			return
		}

		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			defer func() { <-r.sem }()
			r.drain(ctx)
		}()
	}
}

// drain processes due records until none are left or ctx is cancelled.
func (r *Relay) drain(ctx context.Context) {
	for ctx.Err() == nil {
		processed, err := r.ProcessNext(ctx)
		if err != nil {
			if ctx.Err() == nil {
				r.log.ErrorContext(ctx, "outbox processing failed", logger.Error(err))
			}
			return
		}
		if !processed {
			return
		}
	}
}

// ProcessNext claims and handles a single record. It reports whether a
// record was claimed.
func (r *Relay) ProcessNext(ctx context.Context) (bool, error) {
	rec, err := r.store.Claim(ctx, r.workerID, r.queues, r.lease)
	if errors.Is(err, ErrNoRecord) || (err == nil && rec == nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim: %w", err)
	}
	return true, r.process(ctx, rec)
}

func (r *Relay) process(ctx context.Context, rec *Record) error {
	// Handlers outlive relay shutdown up to the lease.
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.lease)
	defer cancel()

	log := r.log.With(
		logger.RecordID(rec.ID),
		slog.String("name", rec.Name),
		logger.Attempt(rec.Attempts),
	)

	r.mu.RLock()
	h, ok := r.handlers[rec.Name]
	r.mu.RUnlock()
	if !ok {
		log.ErrorContext(hctx, "no handler for outbox record, dead-lettering")
		if err := r.store.MoveToDLQ(hctx, rec.ID, ErrHandlerNotFound.Error()); err != nil {
			return fmt.Errorf("move %s to dlq: %w", rec.ID, err)
		}
		return nil
	}

	started := time.Now()
	herr := r.safeHandle(hctx, h, rec)
	if herr == nil {
		if err := r.store.Complete(hctx, rec.ID); err != nil {
			return fmt.Errorf("complete %s: %w", rec.ID, err)
		}
		log.DebugContext(hctx, "outbox record completed", logger.Duration(time.Since(started)))
		return nil
	}

	if rec.Exhausted() {
		if err := r.store.MoveToDLQ(hctx, rec.ID, herr.Error()); err != nil {
			return fmt.Errorf("move %s to dlq: %w", rec.ID, err)
		}
		log.ErrorContext(hctx, "outbox record dead-lettered", logger.Error(herr),
			slog.Int("max_attempts", rec.MaxAttempts))
		return nil
	}

	retryAt := time.Now().Add(r.backoff(rec.Attempts))
	if err := r.store.Fail(hctx, rec.ID, herr.Error(), retryAt); err != nil {
		return fmt.Errorf("fail %s: %w", rec.ID, err)
	}
	log.WarnContext(hctx, "outbox record failed, will retry", logger.Error(herr),
		slog.Time("retry_at", retryAt))
	return nil
}

func (r *Relay) safeHandle(ctx context.Context, h Handler, rec *Record) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanicked, p)
		}
	}()
	return h.Handle(ctx, rec.Payload)
}
