package service

import (
	"go.uber.org/zap"

	"github.com/veridian-id/go-authn-backend/internal/storage"
	"github.com/veridian-id/go-authn-backend/pkg/config"
)

// Services aggregates all application services
type Services struct {
	Challenge        *ChallengeService
	Verifier         *AssertionVerifier
	Recovery         *RecoveryService
	Audit            *AuditRecorder
	Token            *TokenService
	Auth             *AuthService
	ChallengeCleanup *ChallengeCleanupWorker
}

// NewServices creates a new Services instance
func NewServices(store storage.Store, cfg *config.Config, logger *zap.Logger) (*Services, error) {
	verifier, err := NewAssertionVerifier(cfg, logger)
	if err != nil {
		return nil, err
	}

	challenges := NewChallengeService(store, cfg, logger)
	recovery := NewRecoveryService(store, cfg, logger)
	audit := NewAuditRecorder(store.Attempts(), logger)
	token := NewTokenService(cfg, logger)

	return &Services{
		Challenge:        challenges,
		Verifier:         verifier,
		Recovery:         recovery,
		Audit:            audit,
		Token:            token,
		Auth:             NewAuthService(store, challenges, verifier, recovery, audit, token, cfg, logger),
		ChallengeCleanup: NewChallengeCleanupWorker(cfg.Cleanup, store, logger),
	}, nil
}

// Start starts background workers
func (s *Services) Start() {
	if s.ChallengeCleanup != nil {
		s.ChallengeCleanup.Start()
	}
}

// Stop gracefully stops background workers
func (s *Services) Stop() {
	if s.ChallengeCleanup != nil {
		s.ChallengeCleanup.Stop()
	}
}
