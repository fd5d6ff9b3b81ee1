package profile

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// CollectionName is the Mongo collection holding profile documents.
const CollectionName = "profiles"

type mongoStore struct {
	coll *mongo.Collection
	now  func() time.Time
}

type profileDocument struct {
	ID             string     `bson:"_id"`
	ExternalUserID string     `bson:"external_user_id"`
	Email          string     `bson:"email"`
	Name           string     `bson:"name"`
	Plan           string     `bson:"plan"`
	PlanUpdatedAt  *time.Time `bson:"plan_updated_at"`
	CreatedAt      time.Time  `bson:"created_at"`
	UpdatedAt      time.Time  `bson:"updated_at"`
}

func (d profileDocument) profile() (*Profile, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, err
	}
	p := &Profile{
		ID:             id,
		ExternalUserID: d.ExternalUserID,
		Email:          d.Email,
		Name:           d.Name,
		Plan:           Plan(d.Plan),
		CreatedAt:      d.CreatedAt.UTC(),
		UpdatedAt:      d.UpdatedAt.UTC(),
	}
	if d.PlanUpdatedAt != nil {
		at := d.PlanUpdatedAt.UTC()
		p.PlanUpdatedAt = &at
	}
	return p, nil
}

// NewMongoStore returns a Store backed by the profiles collection of db.
// The unique index on external_user_id is created if missing.
func NewMongoStore(ctx context.Context, db *mongo.Database) (Store, error) {
	coll := db.Collection(CollectionName)
	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "external_user_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, errors.Join(ErrStore, err)
	}
	return &mongoStore{
		coll: coll,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *mongoStore) Upsert(ctx context.Context, d Details) (*Profile, error) {
	now := s.now()
	update := bson.M{
		"$set": bson.M{
			"email":      d.Email,
			"name":       d.Name,
			"updated_at": now,
		},
		"$setOnInsert": bson.M{
			"_id":             uuid.NewString(),
			"plan":            string(PlanFree),
			"plan_updated_at": nil,
			"created_at":      now,
		},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var doc profileDocument
	err := s.coll.FindOneAndUpdate(ctx, bson.M{"external_user_id": d.ExternalUserID}, update, opts).Decode(&doc)
	if err != nil {
		return nil, errors.Join(ErrStore, err)
	}
	p, err := doc.profile()
	if err != nil {
		return nil, errors.Join(ErrStore, err)
	}
	return p, nil
}

func (s *mongoStore) GetByExternalID(ctx context.Context, externalUserID string) (*Profile, error) {
	var doc profileDocument
	err := s.coll.FindOne(ctx, bson.M{"external_user_id": externalUserID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Join(ErrStore, err)
	}
	p, err := doc.profile()
	if err != nil {
		return nil, errors.Join(ErrStore, err)
	}
	return p, nil
}

// SetPlan matches only documents whose plan is older than at. A stale
// document fails the filter and the upsert then collides with the unique
// index, which is reported as not applied.
func (s *mongoStore) SetPlan(ctx context.Context, externalUserID string, plan Plan, at time.Time) (bool, error) {
	now := s.now()
	filter := bson.M{
		"external_user_id": externalUserID,
		"$or": bson.A{
			bson.M{"plan_updated_at": nil},
			bson.M{"plan_updated_at": bson.M{"$lt": at}},
		},
	}
	update := bson.M{
		"$set": bson.M{
			"plan":            string(plan),
			"plan_updated_at": at,
			"updated_at":      now,
		},
		"$setOnInsert": bson.M{
			"_id":        uuid.NewString(),
			"email":      "",
			"name":       "",
			"created_at": now,
		},
	}

	res, err := s.coll.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Join(ErrStore, err)
	}
	return res.MatchedCount > 0 || res.UpsertedCount > 0, nil
}
