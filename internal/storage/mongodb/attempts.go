package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/veridian-id/go-authn-backend/internal/domain"
)

// AttemptStore implements MongoDB audit-attempt storage. Records are
// insert-only; nothing in this store mutates or deletes them.
type AttemptStore struct {
	collection *mongo.Collection
}

func (s *AttemptStore) Create(ctx context.Context, attempt *domain.AuthAttempt) error {
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now()
	}
	_, err := s.collection.InsertOne(ctx, attempt)
	if err != nil {
		return fmt.Errorf("failed to record auth attempt: %w", err)
	}
	return nil
}
