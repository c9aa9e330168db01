package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/veridian-id/go-authn-backend/internal/domain"
	"github.com/veridian-id/go-authn-backend/internal/storage"
)

// ChallengeStore implements MongoDB challenge storage
type ChallengeStore struct {
	collection *mongo.Collection
}

func (s *ChallengeStore) Create(ctx context.Context, challenge *domain.Challenge) error {
	if challenge.CreatedAt.IsZero() {
		challenge.CreatedAt = time.Now()
	}
	_, err := s.collection.InsertOne(ctx, challenge)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create challenge: %w", err)
	}
	return nil
}

func (s *ChallengeStore) LatestUnused(ctx context.Context, purpose domain.ChallengePurpose, userID string) (*domain.Challenge, error) {
	filter := bson.M{
		"purpose": purpose,
		"used":    false,
	}
	if userID == "" {
		filter["user_id"] = bson.M{"$exists": false}
	} else {
		filter["user_id"] = userID
	}

	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})

	var challenge domain.Challenge
	err := s.collection.FindOne(ctx, filter, opts).Decode(&challenge)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get challenge: %w", err)
	}
	return &challenge, nil
}

// MarkUsed performs the conditional single-consumption write: the filter
// matches only while used=false, so concurrent callers cannot both win.
func (s *ChallengeStore) MarkUsed(ctx context.Context, id string) error {
	res, err := s.collection.UpdateOne(ctx,
		bson.M{"_id": id, "used": false},
		bson.M{"$set": bson.M{"used": true}},
	)
	if err != nil {
		return fmt.Errorf("failed to mark challenge used: %w", err)
	}
	if res.MatchedCount == 0 {
		// Distinguish already-used from missing
		count, err := s.collection.CountDocuments(ctx, bson.M{"_id": id})
		if err != nil {
			return fmt.Errorf("failed to check challenge: %w", err)
		}
		if count > 0 {
			return storage.ErrConflict
		}
		return storage.ErrNotFound
	}
	return nil
}

func (s *ChallengeStore) DeleteExpired(ctx context.Context) error {
	_, err := s.collection.DeleteMany(ctx, bson.M{
		"expires_at": bson.M{"$lt": time.Now()},
	})
	if err != nil {
		return fmt.Errorf("failed to delete expired challenges: %w", err)
	}
	return nil
}
