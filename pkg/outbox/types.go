package outbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const DefaultQueue = "default"

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Priority orders claimable records; higher runs first.
type Priority int16

const (
	PriorityLow     Priority = 25
	PriorityDefault Priority = 50
	PriorityHigh    Priority = 75
)

// Record is one unit of deferred work. Key, when set, is unique within its
// queue and makes Insert idempotent.
type Record struct {
	ID          uuid.UUID       `json:"id"`
	Queue       string          `json:"queue"`
	Name        string          `json:"name"`
	Key         *string         `json:"key,omitempty"`
	Payload     json.RawMessage `json:"payload"`
	Status      Status          `json:"status"`
	Priority    Priority        `json:"priority"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	ScheduledAt time.Time       `json:"scheduled_at"`
	LockedUntil *time.Time      `json:"locked_until,omitempty"`
	LockedBy    *uuid.UUID      `json:"locked_by,omitempty"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
	Error       *string         `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Exhausted reports whether no attempts are left after the current one.
func (r *Record) Exhausted() bool {
	return r.Attempts >= r.MaxAttempts
}

// DeadLetter is a record that exhausted its attempts or had no handler.
type DeadLetter struct {
	ID        uuid.UUID       `json:"id"`
	RecordID  uuid.UUID       `json:"record_id"`
	Queue     string          `json:"queue"`
	Name      string          `json:"name"`
	Key       *string         `json:"key,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int             `json:"attempts"`
	Error     string          `json:"error"`
	FailedAt  time.Time       `json:"failed_at"`
	CreatedAt time.Time       `json:"created_at"`
}

// Config drives the relay and enqueue defaults.
type Config struct {
	Driver        string        `env:"OUTBOX_DRIVER" envDefault:"memory"`
	PollInterval  time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"1s"`
	LeaseDuration time.Duration `env:"OUTBOX_LEASE_DURATION" envDefault:"1m"`
	MaxConcurrent int           `env:"OUTBOX_MAX_CONCURRENT" envDefault:"4"`
	MaxAttempts   int           `env:"OUTBOX_MAX_ATTEMPTS" envDefault:"8"`
	BaseBackoff   time.Duration `env:"OUTBOX_BASE_BACKOFF" envDefault:"5s"`
	MaxBackoff    time.Duration `env:"OUTBOX_MAX_BACKOFF" envDefault:"10m"`
}

// Validate rejects settings that would spin the relay or never retry.
func (c Config) Validate() error {
	var errs []error
	switch c.Driver {
	case "memory", "postgres":
	default:
		errs = append(errs, fmt.Errorf("unknown driver %q", c.Driver))
	}
	if c.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("max attempts must be positive, got %d", c.MaxAttempts))
	}
	if c.BaseBackoff < MinBackoff {
		errs = append(errs, fmt.Errorf("base backoff must be at least %s, got %s", MinBackoff, c.BaseBackoff))
	}
	if c.MaxBackoff < c.BaseBackoff {
		errs = append(errs, fmt.Errorf("max backoff %s is below base backoff %s", c.MaxBackoff, c.BaseBackoff))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll interval must be positive, got %s", c.PollInterval))
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvalidConfig}, errs...)...)
	}
	return nil
}
