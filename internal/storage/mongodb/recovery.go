package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/veridian-id/go-authn-backend/internal/domain"
	"github.com/veridian-id/go-authn-backend/internal/storage"
)

// RecoveryCodeStore implements MongoDB recovery code storage
type RecoveryCodeStore struct {
	collection *mongo.Collection
	client     *mongo.Client
}

// CreateBatch inserts a batch of hashed codes. With invalidateExisting set,
// the prior unused codes are retired and the new batch inserted inside one
// transaction, so no interleaved redeem can see a state with two live
// batches.
func (s *RecoveryCodeStore) CreateBatch(ctx context.Context, userID string, codes []*domain.RecoveryCode, invalidateExisting bool) error {
	now := time.Now()
	docs := make([]interface{}, 0, len(codes))
	for _, code := range codes {
		if code.CreatedAt.IsZero() {
			code.CreatedAt = now
		}
		docs = append(docs, code)
	}

	if !invalidateExisting {
		_, err := s.collection.InsertMany(ctx, docs)
		if err != nil {
			return fmt.Errorf("failed to insert recovery codes: %w", err)
		}
		return nil
	}

	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		_, err := s.collection.UpdateMany(sc,
			bson.M{"user_id": userID, "used": false},
			bson.M{"$set": bson.M{"used": true, "used_at": now}},
		)
		if err != nil {
			return nil, err
		}
		return s.collection.InsertMany(sc, docs)
	})
	if err != nil {
		return fmt.Errorf("failed to regenerate recovery codes: %w", err)
	}
	return nil
}

func (s *RecoveryCodeStore) GetUnusedByUser(ctx context.Context, userID string) ([]*domain.RecoveryCode, error) {
	cursor, err := s.collection.Find(ctx, bson.M{"user_id": userID, "used": false})
	if err != nil {
		return nil, fmt.Errorf("failed to list recovery codes: %w", err)
	}
	defer cursor.Close(ctx)

	codes := make([]*domain.RecoveryCode, 0)
	for cursor.Next(ctx) {
		var code domain.RecoveryCode
		if err := cursor.Decode(&code); err != nil {
			return nil, fmt.Errorf("failed to decode recovery code: %w", err)
		}
		codes = append(codes, &code)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate recovery codes: %w", err)
	}
	return codes, nil
}

// MarkUsed flips a single code used=false -> true; the conditional filter
// guarantees exactly-once redemption under concurrent submissions.
func (s *RecoveryCodeStore) MarkUsed(ctx context.Context, id string) error {
	res, err := s.collection.UpdateOne(ctx,
		bson.M{"_id": id, "used": false},
		bson.M{"$set": bson.M{"used": true, "used_at": time.Now()}},
	)
	if err != nil {
		return fmt.Errorf("failed to mark recovery code used: %w", err)
	}
	if res.MatchedCount == 0 {
		count, err := s.collection.CountDocuments(ctx, bson.M{"_id": id})
		if err != nil {
			return fmt.Errorf("failed to check recovery code: %w", err)
		}
		if count > 0 {
			return storage.ErrConflict
		}
		return storage.ErrNotFound
	}
	return nil
}

func (s *RecoveryCodeStore) CountUnused(ctx context.Context, userID string) (int, error) {
	count, err := s.collection.CountDocuments(ctx, bson.M{"user_id": userID, "used": false})
	if err != nil {
		return 0, fmt.Errorf("failed to count recovery codes: %w", err)
	}
	return int(count), nil
}
