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

// CredentialStore implements MongoDB credential storage
type CredentialStore struct {
	collection *mongo.Collection
}

func (s *CredentialStore) Create(ctx context.Context, credential *domain.Credential) error {
	if credential.CreatedAt.IsZero() {
		credential.CreatedAt = time.Now()
	}
	_, err := s.collection.InsertOne(ctx, credential)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create credential: %w", err)
	}
	return nil
}

func (s *CredentialStore) GetByCredentialID(ctx context.Context, credentialID string) (*domain.Credential, error) {
	var credential domain.Credential
	err := s.collection.FindOne(ctx, bson.M{"credential_id": credentialID}).Decode(&credential)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	return &credential, nil
}

func (s *CredentialStore) GetAllByUser(ctx context.Context, userID string) ([]*domain.Credential, error) {
	cursor, err := s.collection.Find(ctx, bson.M{"user_id": userID})
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	defer cursor.Close(ctx)

	credentials := make([]*domain.Credential, 0)
	for cursor.Next(ctx) {
		var credential domain.Credential
		if err := cursor.Decode(&credential); err != nil {
			return nil, fmt.Errorf("failed to decode credential: %w", err)
		}
		credentials = append(credentials, &credential)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate credentials: %w", err)
	}
	return credentials, nil
}

// UpdateCounter advances the signature counter with a conditional update.
// The filter expresses the same acceptance rule as replayguard.Valid: the
// stored counter must be strictly below the new one, except that a
// zero-to-zero transition (counter-less authenticator) is allowed. Running
// the rule inside the filter closes the read-then-write race: of two
// concurrent assertions carrying the same counter, only the first writer's
// filter still matches.
func (s *CredentialStore) UpdateCounter(ctx context.Context, credentialID string, newCounter uint32) (*domain.Credential, error) {
	filter := bson.M{"credential_id": credentialID}
	if newCounter == 0 {
		filter["counter"] = 0
	} else {
		filter["counter"] = bson.M{"$lt": newCounter}
	}

	update := bson.M{"$set": bson.M{
		"counter":      newCounter,
		"last_used_at": time.Now(),
	}}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var credential domain.Credential
	err := s.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&credential)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			// Distinguish a stale counter from a missing credential
			count, cerr := s.collection.CountDocuments(ctx, bson.M{"credential_id": credentialID})
			if cerr != nil {
				return nil, fmt.Errorf("failed to check credential: %w", cerr)
			}
			if count > 0 {
				return nil, storage.ErrConflict
			}
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to update credential counter: %w", err)
	}
	return &credential, nil
}

func (s *CredentialStore) Delete(ctx context.Context, userID, credentialID string) error {
	res, err := s.collection.DeleteOne(ctx, bson.M{"credential_id": credentialID, "user_id": userID})
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	if res.DeletedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}
