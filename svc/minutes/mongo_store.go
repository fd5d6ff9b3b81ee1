package minutes

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

const CollectionName = "minutes"

type mongoStore struct {
	coll *mongo.Collection
}

type minutesDocument struct {
	ID        string    `bson:"_id"`
	UserID    string    `bson:"user_id"`
	Title     string    `bson:"title"`
	Content   string    `bson:"content"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func NewMongoStore(db *mongo.Database) Store {
	return &mongoStore{coll: db.Collection(CollectionName)}
}

func (s *mongoStore) Create(ctx context.Context, m *Minutes) error {
	_, err := s.coll.InsertOne(ctx, minutesDocument{
		ID:        m.ID.String(),
		UserID:    m.UserID,
		Title:     m.Title,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	})
	if err != nil {
		return errors.Join(ErrStore, err)
	}
	return nil
}

func (s *mongoStore) GetByID(ctx context.Context, id uuid.UUID) (*Minutes, error) {
	var doc minutesDocument
	err := s.coll.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Join(ErrStore, err)
	}
	return &Minutes{
		ID:        id,
		UserID:    doc.UserID,
		Title:     doc.Title,
		Content:   doc.Content,
		CreatedAt: doc.CreatedAt.UTC(),
		UpdatedAt: doc.UpdatedAt.UTC(),
	}, nil
}
