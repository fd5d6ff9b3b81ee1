package profile

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrMissingUserID = errors.New("profile: external user id is empty")
	ErrInvalidPlan   = errors.New("profile: invalid plan")
	ErrStore         = errors.New("profile: store operation failed")
)

// Plan is the entitlement flag mirrored into the identity provider metadata.
type Plan string

const (
	PlanFree Plan = "free"
	PlanPro  Plan = "pro"
)

func (p Plan) Valid() bool {
	return p == PlanFree || p == PlanPro
}

func (p Plan) String() string { return string(p) }

// Profile is the internal record of an identity provider user.
type Profile struct {
	ID             uuid.UUID  `json:"id"`
	ExternalUserID string     `json:"externalUserId"`
	Email          string     `json:"email"`
	Name           string     `json:"name"`
	Plan           Plan       `json:"plan"`
	PlanUpdatedAt  *time.Time `json:"planUpdatedAt"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// Details are the identity fields written by a sync.
type Details struct {
	ExternalUserID string
	Email          string
	Name           string
}

// Store persists profiles keyed by external user id.
//
// Upsert writes identity fields only: new rows start on the free plan and
// existing rows keep their plan. SetPlan writes plan fields only and applies
// the change only when at is newer than the stored planUpdatedAt; for an
// unknown user it creates a row with empty identity fields. It reports
// whether the change was applied. GetByExternalID returns nil, nil for
// unknown users.
type Store interface {
	Upsert(ctx context.Context, d Details) (*Profile, error)
	GetByExternalID(ctx context.Context, externalUserID string) (*Profile, error)
	SetPlan(ctx context.Context, externalUserID string, plan Plan, at time.Time) (bool, error)
}
