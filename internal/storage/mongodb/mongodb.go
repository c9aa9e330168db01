package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/veridian-id/go-authn-backend/internal/storage"
	"github.com/veridian-id/go-authn-backend/pkg/config"
)

// Store implements MongoDB storage
type Store struct {
	client   *mongo.Client
	database *mongo.Database
	cfg      *config.MongoDBConfig

	challenges    *ChallengeStore
	credentials   *CredentialStore
	recoveryCodes *RecoveryCodeStore
	attempts      *AttemptStore
}

// NewStore creates a new MongoDB store
func NewStore(ctx context.Context, cfg *config.MongoDBConfig) (*Store, error) {
	clientOptions := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(time.Duration(cfg.Timeout) * time.Second).
		SetTimeout(time.Duration(cfg.Timeout) * time.Second)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Ping the database to verify connection
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	database := client.Database(cfg.Database)

	s := &Store{
		client:   client,
		database: database,
		cfg:      cfg,
	}

	// Initialize sub-stores
	s.challenges = &ChallengeStore{collection: database.Collection("challenges")}
	s.credentials = &CredentialStore{collection: database.Collection("credentials")}
	s.recoveryCodes = &RecoveryCodeStore{collection: database.Collection("recovery_codes"), client: client}
	s.attempts = &AttemptStore{collection: database.Collection("auth_attempts")}

	// Create indexes
	if err := s.createIndexes(ctx); err != nil {
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}

	return s, nil
}

func (s *Store) createIndexes(ctx context.Context) error {
	// Challenges: consumption lookup plus TTL-based expiry sweep. The TTL
	// index is hygiene only; expiry is always re-checked at consumption.
	_, err := s.challenges.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "purpose", Value: 1}, {Key: "user_id", Value: 1}, {Key: "used", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "expires_at", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(0)},
	})
	if err != nil {
		return fmt.Errorf("failed to create challenge indexes: %w", err)
	}

	// Credentials: the unique index on credential_id enforces system-wide
	// uniqueness across all users.
	_, err = s.credentials.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "credential_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "user_id", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create credential indexes: %w", err)
	}

	// Recovery codes
	_, err = s.recoveryCodes.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "used", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create recovery code indexes: %w", err)
	}

	// Auth attempts
	_, err = s.attempts.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create attempt indexes: %w", err)
	}

	return nil
}

func (s *Store) Challenges() storage.ChallengeStore       { return s.challenges }
func (s *Store) Credentials() storage.CredentialStore     { return s.credentials }
func (s *Store) RecoveryCodes() storage.RecoveryCodeStore { return s.recoveryCodes }
func (s *Store) Attempts() storage.AttemptStore           { return s.attempts }

// Ping checks if the database connection is alive
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close closes the database connection
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
