package storage

import (
	"context"
	"errors"

	"github.com/veridian-id/go-authn-backend/internal/domain"
)

// Common errors
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidInput  = errors.New("invalid input")
	ErrConflict      = errors.New("conditional write failed")
	ErrDatabase      = errors.New("database error")
)

// ChallengeStore defines the interface for ceremony challenge storage.
//
// MarkUsed is the only way a challenge's used flag can change, and it is a
// conditional write: of any number of concurrent callers, exactly one
// observes used=false and wins.
type ChallengeStore interface {
	// Create persists a new challenge
	Create(ctx context.Context, challenge *domain.Challenge) error

	// LatestUnused returns the most recently issued unused challenge for
	// the given purpose. userID filters by ceremony subject; pass "" for
	// challenges issued without a bound user (discoverable login).
	// Expiry is not evaluated here; callers re-check it at consumption.
	LatestUnused(ctx context.Context, purpose domain.ChallengePurpose, userID string) (*domain.Challenge, error)

	// MarkUsed flips used from false to true exactly once. Returns
	// ErrConflict if the challenge was already used, ErrNotFound if it
	// does not exist.
	MarkUsed(ctx context.Context, id string) error

	// DeleteExpired deletes all expired challenges
	DeleteExpired(ctx context.Context) error
}

// CredentialStore defines the interface for registered credential storage
type CredentialStore interface {
	// Create persists a new credential. Returns ErrAlreadyExists if the
	// authenticator credential ID is already registered to any user.
	Create(ctx context.Context, credential *domain.Credential) error

	// GetByCredentialID retrieves a credential by its authenticator
	// credential ID (system-wide lookup, not scoped to a user)
	GetByCredentialID(ctx context.Context, credentialID string) (*domain.Credential, error)

	// GetAllByUser retrieves all credentials registered to a user
	GetAllByUser(ctx context.Context, userID string) ([]*domain.Credential, error)

	// UpdateCounter advances the signature counter and last-used time in a
	// single conditional write: the update applies only while the stored
	// counter still satisfies the replay rule against newCounter. Returns
	// ErrConflict if the condition no longer holds, ErrNotFound if the
	// credential does not exist.
	UpdateCounter(ctx context.Context, credentialID string, newCounter uint32) (*domain.Credential, error)

	// Delete removes a credential (explicit revocation only)
	Delete(ctx context.Context, userID, credentialID string) error
}

// RecoveryCodeStore defines the interface for recovery code storage
type RecoveryCodeStore interface {
	// CreateBatch inserts a batch of hashed codes. When invalidateExisting
	// is set, all prior unused codes for the user are marked used in the
	// same atomic operation, so at most one live batch exists per user.
	CreateBatch(ctx context.Context, userID string, codes []*domain.RecoveryCode, invalidateExisting bool) error

	// GetUnusedByUser retrieves all unused codes for a user
	GetUnusedByUser(ctx context.Context, userID string) ([]*domain.RecoveryCode, error)

	// MarkUsed flips a single code's used flag from false to true exactly
	// once. Returns ErrConflict if the code was already redeemed.
	MarkUsed(ctx context.Context, id string) error

	// CountUnused returns the number of unused codes for a user
	CountUnused(ctx context.Context, userID string) (int, error)
}

// AttemptStore defines the interface for the append-only audit log
type AttemptStore interface {
	// Create appends an attempt record. Records are never updated.
	Create(ctx context.Context, attempt *domain.AuthAttempt) error
}

// Store aggregates all storage interfaces
type Store interface {
	Challenges() ChallengeStore
	Credentials() CredentialStore
	RecoveryCodes() RecoveryCodeStore
	Attempts() AttemptStore

	// Close closes the storage connection
	Close() error

	// Ping checks if the storage is alive
	Ping(ctx context.Context) error
}
