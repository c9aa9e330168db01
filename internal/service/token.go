package service

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/veridian-id/go-authn-backend/pkg/config"
)

// SessionIssuer is the session-issuance trigger invoked after a ceremony
// succeeds. It is never called on a failure path.
type SessionIssuer interface {
	IssueSession(ctx context.Context, userID string) (string, error)
}

// TokenService issues signed session tokens.
type TokenService struct {
	cfg    *config.JWTConfig
	logger *zap.Logger
}

// NewTokenService creates a new TokenService
func NewTokenService(cfg *config.Config, logger *zap.Logger) *TokenService {
	return &TokenService{
		cfg:    &cfg.JWT,
		logger: logger.Named("token-service"),
	}
}

// IssueSession mints a session token for the authenticated user.
func (s *TokenService) IssueSession(ctx context.Context, userID string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(time.Duration(s.cfg.ExpiryHours) * time.Hour).Unix(),
		"iss": s.cfg.Issuer,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}
