package service

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/veridian-id/go-authn-backend/internal/domain"
	"github.com/veridian-id/go-authn-backend/internal/storage"
	"github.com/veridian-id/go-authn-backend/pkg/config"
)

// codeEncoding is unpadded base32; 15 characters carry 75 bits of entropy.
var codeEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

const codeGroupSize = 5

// RecoveryService generates and redeems single-use fallback codes.
//
// Plaintext codes exist only in the return value of Generate; storage holds
// bcrypt hashes (salted per code). Redemption compares the supplied code
// against every unused hash and the winning record is retired through the
// storage layer's conditional write, so a code redeems at most once even
// under concurrent submissions.
type RecoveryService struct {
	store     storage.Store
	batchSize int
	logger    *zap.Logger
}

// RedeemResult is returned on successful redemption
type RedeemResult struct {
	UserID    string
	Remaining int
}

// NewRecoveryService creates a new RecoveryService
func NewRecoveryService(store storage.Store, cfg *config.Config, logger *zap.Logger) *RecoveryService {
	return &RecoveryService{
		store:     store,
		batchSize: cfg.Recovery.BatchSize,
		logger:    logger.Named("recovery-service"),
	}
}

// Generate issues a fresh batch of codes for the user and returns the
// plaintexts, exactly once. With regenerate set, every unused code from the
// prior batch is invalidated atomically with the insert, so at most one
// live batch exists per user.
func (s *RecoveryService) Generate(ctx context.Context, userID string, regenerate bool) ([]string, error) {
	plaintexts := make([]string, 0, s.batchSize)
	records := make([]*domain.RecoveryCode, 0, s.batchSize)
	now := time.Now()

	for i := 0; i < s.batchSize; i++ {
		code, err := newRecoveryCode()
		if err != nil {
			return nil, fmt.Errorf("failed to generate recovery code: %w", err)
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash recovery code: %w", err)
		}

		plaintexts = append(plaintexts, code)
		records = append(records, &domain.RecoveryCode{
			ID:        uuid.NewString(),
			UserID:    userID,
			CodeHash:  string(hash),
			Used:      false,
			CreatedAt: now,
		})
	}

	if err := s.store.RecoveryCodes().CreateBatch(ctx, userID, records, regenerate); err != nil {
		return nil, fmt.Errorf("failed to store recovery codes: %w", err)
	}

	s.logger.Info("Generated recovery codes",
		zap.String("user_id", userID),
		zap.Int("count", s.batchSize),
		zap.Bool("regenerate", regenerate),
	)
	return plaintexts, nil
}

// Redeem validates a code for the user and retires it. The comparison runs
// against every unused hash (bcrypt's comparison is constant-time per
// hash), and a no-match result is uniform: the caller learns nothing about
// which part of the check failed.
func (s *RecoveryService) Redeem(ctx context.Context, userID, code string) (*RedeemResult, error) {
	normalized := normalizeCode(code)
	if normalized == "" {
		return nil, ErrRecoveryCodeInvalid
	}

	codes, err := s.store.RecoveryCodes().GetUnusedByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load recovery codes: %w", err)
	}
	if len(codes) == 0 {
		return nil, ErrRecoveryCodeExhausted
	}

	for _, candidate := range codes {
		if bcrypt.CompareHashAndPassword([]byte(candidate.CodeHash), []byte(normalized)) != nil {
			continue
		}

		// Conditional flip: a concurrent redemption of the same code
		// already won if this conflicts, and the code is spent.
		if err := s.store.RecoveryCodes().MarkUsed(ctx, candidate.ID); err != nil {
			if errors.Is(err, storage.ErrConflict) || errors.Is(err, storage.ErrNotFound) {
				return nil, ErrRecoveryCodeInvalid
			}
			return nil, fmt.Errorf("failed to mark recovery code used: %w", err)
		}

		remaining, err := s.store.RecoveryCodes().CountUnused(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to count recovery codes: %w", err)
		}

		return &RedeemResult{UserID: userID, Remaining: remaining}, nil
	}

	return nil, ErrRecoveryCodeInvalid
}

// newRecoveryCode returns a grouped base32 code, e.g. "M7QPX-2KJ4D-9WTRZ".
func newRecoveryCode() (string, error) {
	raw := make([]byte, 10)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}

	encoded := codeEncoding.EncodeToString(raw)[:codeGroupSize*3]
	groups := make([]string, 0, 3)
	for i := 0; i < len(encoded); i += codeGroupSize {
		groups = append(groups, encoded[i:i+codeGroupSize])
	}
	return strings.Join(groups, "-"), nil
}

// normalizeCode strips separators and whitespace so user-mangled input
// still matches, then restores the canonical grouping.
func normalizeCode(code string) string {
	cleaned := strings.ToUpper(strings.Map(func(r rune) rune {
		switch r {
		case '-', ' ', '\t':
			return -1
		}
		return r
	}, code))

	if len(cleaned) != codeGroupSize*3 {
		return ""
	}

	groups := make([]string, 0, 3)
	for i := 0; i < len(cleaned); i += codeGroupSize {
		groups = append(groups, cleaned[i:i+codeGroupSize])
	}
	return strings.Join(groups, "-")
}
