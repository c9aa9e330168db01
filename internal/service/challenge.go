package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/veridian-id/go-authn-backend/internal/domain"
	"github.com/veridian-id/go-authn-backend/internal/storage"
	"github.com/veridian-id/go-authn-backend/pkg/config"
)

// ChallengeService manages the lifecycle of single-use ceremony nonces.
//
// Issuance and consumption are deliberately decoupled from burning: a
// challenge is only burned (used=true) after cryptographic verification
// succeeds, so a failed attempt leaves the challenge live for retry until
// it expires. Burning goes through the storage layer's conditional write,
// which is what makes concurrent duplicate submissions lose.
type ChallengeService struct {
	store  storage.Store
	ttl    time.Duration
	logger *zap.Logger
}

// NewChallengeService creates a new ChallengeService
func NewChallengeService(store storage.Store, cfg *config.Config, logger *zap.Logger) *ChallengeService {
	return &ChallengeService{
		store:  store,
		ttl:    time.Duration(cfg.WebAuthn.ChallengeTTLSeconds) * time.Second,
		logger: logger.Named("challenge-service"),
	}
}

// Issue persists a challenge for a ceremony. value is the base64url nonce
// generated by the WebAuthn layer (32 bytes of entropy). Multiple unused
// challenges may be live for the same subject at once; each open tab gets
// its own.
func (s *ChallengeService) Issue(ctx context.Context, purpose domain.ChallengePurpose, userID, value string) (*domain.Challenge, error) {
	now := time.Now()
	challenge := &domain.Challenge{
		ID:        uuid.NewString(),
		UserID:    userID,
		Purpose:   purpose,
		Value:     value,
		Used:      false,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}

	if err := s.store.Challenges().Create(ctx, challenge); err != nil {
		return nil, fmt.Errorf("failed to store challenge: %w", err)
	}

	s.logger.Debug("Issued challenge",
		zap.String("purpose", string(purpose)),
		zap.String("challenge_id", challenge.ID),
	)
	return challenge, nil
}

// Consume selects the most recently issued unused challenge for the given
// purpose and subject. Expiry is evaluated here, at consumption time, so
// correctness never depends on the background reaper. The challenge is not
// marked used; see Burn.
func (s *ChallengeService) Consume(ctx context.Context, purpose domain.ChallengePurpose, userID string) (*domain.Challenge, error) {
	challenge, err := s.store.Challenges().LatestUnused(ctx, purpose, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("failed to get challenge: %w", err)
	}

	if challenge.IsExpired() {
		return nil, ErrChallengeExpired
	}

	return challenge, nil
}

// Burn marks a challenge used. Exactly one caller succeeds; concurrent
// duplicates get ErrChallengeAlreadyUsed.
func (s *ChallengeService) Burn(ctx context.Context, id string) error {
	err := s.store.Challenges().MarkUsed(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return ErrChallengeAlreadyUsed
		}
		if errors.Is(err, storage.ErrNotFound) {
			return ErrChallengeNotFound
		}
		return fmt.Errorf("failed to burn challenge: %w", err)
	}
	return nil
}
