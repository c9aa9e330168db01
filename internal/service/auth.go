package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/veridian-id/go-authn-backend/internal/domain"
	"github.com/veridian-id/go-authn-backend/internal/replayguard"
	"github.com/veridian-id/go-authn-backend/internal/storage"
	"github.com/veridian-id/go-authn-backend/pkg/config"
)

// ClientInfo carries request metadata recorded with every attempt.
type ClientInfo struct {
	IPAddress string
	UserAgent string
}

// AuthResult is returned after a successful authentication ceremony.
type AuthResult struct {
	UserID       string
	CredentialID string
	SessionToken string
}

// RecoveryResult is returned after a successful recovery-code redemption.
type RecoveryResult struct {
	UserID       string
	Remaining    int
	SessionToken string
}

// AuthService composes the challenge, verification, registry and recovery
// components into the three ceremonies. Each ceremony runs
// issue -> verify -> commit; every attempt, success or failure, is recorded
// to the audit store, and session issuance fires only after a commit.
//
// The challenge is burned immediately after cryptographic verification
// succeeds and before any registry write. The burn is a conditional write,
// so of two concurrent submissions against the same challenge at most one
// proceeds past that point.
type AuthService struct {
	store      storage.Store
	challenges *ChallengeService
	verifier   *AssertionVerifier
	recovery   *RecoveryService
	audit      *AuditRecorder
	sessions   SessionIssuer
	limiter    *CredentialRateLimiter
	logger     *zap.Logger
}

// NewAuthService creates a new AuthService
func NewAuthService(
	store storage.Store,
	challenges *ChallengeService,
	verifier *AssertionVerifier,
	recovery *RecoveryService,
	audit *AuditRecorder,
	sessions SessionIssuer,
	cfg *config.Config,
	logger *zap.Logger,
) *AuthService {
	return &AuthService{
		store:      store,
		challenges: challenges,
		verifier:   verifier,
		recovery:   recovery,
		audit:      audit,
		sessions:   sessions,
		limiter:    NewCredentialRateLimiter(cfg.WebAuthn.ZeroCounterRPM),
		logger:     logger.Named("auth-service"),
	}
}

// BeginRegistration starts a registration ceremony for the user and
// returns standard credential creation options carrying the issued
// challenge.
func (s *AuthService) BeginRegistration(ctx context.Context, userID string) (*protocol.CredentialCreation, error) {
	user, err := s.loadCeremonyUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	options, session, err := s.verifier.BeginRegistration(user, user.exclusionList())
	if err != nil {
		return nil, fmt.Errorf("failed to begin registration: %w", err)
	}

	if _, err := s.challenges.Issue(ctx, domain.PurposeRegistration, userID, session.Challenge); err != nil {
		return nil, err
	}

	s.logger.Info("Started registration", zap.String("user_id", userID))
	return options, nil
}

// FinishRegistration completes a registration ceremony and registers the
// verified credential.
func (s *AuthService) FinishRegistration(ctx context.Context, userID string, response json.RawMessage, deviceType, displayName string, client ClientInfo) (*domain.Credential, error) {
	challenge, err := s.challenges.Consume(ctx, domain.PurposeRegistration, userID)
	if err != nil {
		s.recordAttempt(userID, "", domain.MethodRegistration, client, err)
		return nil, err
	}

	user, err := s.loadCeremonyUser(ctx, userID)
	if err != nil {
		s.recordAttempt(userID, "", domain.MethodRegistration, client, err)
		return nil, err
	}

	verified, err := s.verifier.VerifyRegistration(response, challenge, user)
	if err != nil {
		// Challenge deliberately left live: possession of it grants no
		// advantage without the private key, and the user can retry the
		// same ceremony until expiry.
		s.recordAttempt(userID, "", domain.MethodRegistration, client, err)
		return nil, err
	}

	if err := s.challenges.Burn(ctx, challenge.ID); err != nil {
		s.recordAttempt(userID, "", domain.MethodRegistration, client, err)
		return nil, err
	}

	if displayName == "" {
		displayName = "Passkey"
	}

	transports := make([]string, 0, len(verified.Transport))
	for _, t := range verified.Transport {
		transports = append(transports, string(t))
	}

	credential := &domain.Credential{
		ID:              uuid.NewString(),
		UserID:          userID,
		CredentialID:    domain.EncodeCredentialID(verified.ID),
		PublicKey:       verified.PublicKey,
		AttestationType: verified.AttestationType,
		Transport:       transports,
		Flags:           encodeFlags(verified.Flags),
		AAGUID:          verified.Authenticator.AAGUID,
		Counter:         verified.Authenticator.SignCount,
		DeviceType:      deviceType,
		DisplayName:     displayName,
		CreatedAt:       time.Now(),
	}

	if err := s.store.Credentials().Create(ctx, credential); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			s.recordAttempt(userID, credential.CredentialID, domain.MethodRegistration, client, ErrDuplicateCredential)
			return nil, ErrDuplicateCredential
		}
		s.recordAttempt(userID, credential.CredentialID, domain.MethodRegistration, client, err)
		return nil, fmt.Errorf("failed to register credential: %w", err)
	}

	s.recordAttempt(userID, credential.CredentialID, domain.MethodRegistration, client, nil)
	s.logger.Info("Registered credential",
		zap.String("user_id", userID),
		zap.String("credential_id", credential.CredentialID),
	)
	return credential, nil
}

// BeginAuthentication starts an authentication ceremony. No user is bound:
// the assertion itself names the credential (discoverable flow).
func (s *AuthService) BeginAuthentication(ctx context.Context) (*protocol.CredentialAssertion, error) {
	options, session, err := s.verifier.BeginAuthentication()
	if err != nil {
		return nil, fmt.Errorf("failed to begin authentication: %w", err)
	}

	if _, err := s.challenges.Issue(ctx, domain.PurposeAuthentication, "", session.Challenge); err != nil {
		return nil, err
	}

	s.logger.Info("Started authentication")
	return options, nil
}

// FinishAuthentication completes an authentication ceremony: it resolves
// the credential named by the assertion, verifies the assertion against
// the issued challenge and the stored public key, applies the replay
// policy, advances the counter through the registry's conditional write
// and triggers session issuance.
func (s *AuthService) FinishAuthentication(ctx context.Context, response json.RawMessage, client ClientInfo) (*AuthResult, error) {
	parsed, err := s.verifier.ParseAssertion(response)
	if err != nil {
		s.recordAttempt("", "", domain.MethodAuthentication, client, err)
		return nil, err
	}

	credentialID := domain.EncodeCredentialID(parsed.RawID)

	credential, err := s.store.Credentials().GetByCredentialID(ctx, credentialID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.recordAttempt("", credentialID, domain.MethodAuthentication, client, ErrCredentialNotFound)
			return nil, ErrCredentialNotFound
		}
		s.recordAttempt("", credentialID, domain.MethodAuthentication, client, err)
		return nil, fmt.Errorf("failed to resolve credential: %w", err)
	}

	fail := func(ferr error) error {
		s.recordAttempt(credential.UserID, credentialID, domain.MethodAuthentication, client, ferr)
		return ferr
	}

	challenge, err := s.challenges.Consume(ctx, domain.PurposeAuthentication, "")
	if err != nil {
		return nil, fail(err)
	}

	user, err := s.loadCeremonyUser(ctx, credential.UserID)
	if err != nil {
		return nil, fail(err)
	}

	verified, err := s.verifier.VerifyAuthentication(parsed, challenge, user)
	if err != nil {
		return nil, fail(err)
	}

	newCounter := verified.Authenticator.SignCount
	if !replayguard.Valid(newCounter, credential.Counter) {
		return nil, fail(ErrReplayDetected)
	}

	// Counter-less authenticators get no counter-based replay protection,
	// so cap their authentication rate instead.
	if newCounter == 0 && credential.Counter == 0 && !s.limiter.Allow(credentialID) {
		return nil, fail(ErrTooManyAttempts)
	}

	if err := s.challenges.Burn(ctx, challenge.ID); err != nil {
		return nil, fail(err)
	}

	// The registry re-evaluates the counter rule inside the write. A
	// concurrent authentication that advanced the counter first makes
	// this conflict even though the read above looked valid.
	if _, err := s.store.Credentials().UpdateCounter(ctx, credentialID, newCounter); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, fail(ErrReplayDetected)
		}
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fail(ErrCredentialNotFound)
		}
		return nil, fail(fmt.Errorf("failed to update credential usage: %w", err))
	}

	token, err := s.sessions.IssueSession(ctx, credential.UserID)
	if err != nil {
		return nil, fail(fmt.Errorf("failed to issue session: %w", err))
	}

	s.recordAttempt(credential.UserID, credentialID, domain.MethodAuthentication, client, nil)
	s.logger.Info("User authenticated",
		zap.String("user_id", credential.UserID),
		zap.String("credential_id", credentialID),
	)

	return &AuthResult{
		UserID:       credential.UserID,
		CredentialID: credentialID,
		SessionToken: token,
	}, nil
}

// GenerateRecoveryCodes issues a fresh code batch for the user.
func (s *AuthService) GenerateRecoveryCodes(ctx context.Context, userID string, regenerate bool) ([]string, error) {
	return s.recovery.Generate(ctx, userID, regenerate)
}

// RedeemRecoveryCode authenticates via the fallback path, bypassing the
// challenge and credential machinery entirely.
func (s *AuthService) RedeemRecoveryCode(ctx context.Context, userID, code string, client ClientInfo) (*RecoveryResult, error) {
	result, err := s.recovery.Redeem(ctx, userID, code)
	if err != nil {
		s.recordAttempt(userID, "", domain.MethodRecovery, client, err)
		return nil, err
	}

	token, err := s.sessions.IssueSession(ctx, result.UserID)
	if err != nil {
		s.recordAttempt(userID, "", domain.MethodRecovery, client, err)
		return nil, fmt.Errorf("failed to issue session: %w", err)
	}

	s.recordAttempt(result.UserID, "", domain.MethodRecovery, client, nil)
	s.logger.Info("User authenticated via recovery code",
		zap.String("user_id", result.UserID),
		zap.Int("remaining", result.Remaining),
	)

	return &RecoveryResult{
		UserID:       result.UserID,
		Remaining:    result.Remaining,
		SessionToken: token,
	}, nil
}

// ListCredentials returns all credentials registered to a user.
func (s *AuthService) ListCredentials(ctx context.Context, userID string) ([]*domain.Credential, error) {
	return s.store.Credentials().GetAllByUser(ctx, userID)
}

// RevokeCredential removes a credential. This is the only way a credential
// leaves the registry.
func (s *AuthService) RevokeCredential(ctx context.Context, userID, credentialID string) error {
	err := s.store.Credentials().Delete(ctx, userID, credentialID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrCredentialNotFound
		}
		return fmt.Errorf("failed to revoke credential: %w", err)
	}

	s.logger.Info("Revoked credential",
		zap.String("user_id", userID),
		zap.String("credential_id", credentialID),
	)
	return nil
}

func (s *AuthService) loadCeremonyUser(ctx context.Context, userID string) (*ceremonyUser, error) {
	credentials, err := s.store.Credentials().GetAllByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	return &ceremonyUser{id: userID, credentials: credentials}, nil
}

func (s *AuthService) recordAttempt(userID, credentialID string, method domain.AuthMethod, client ClientInfo, ferr error) {
	s.audit.Record(&domain.AuthAttempt{
		UserID:       userID,
		CredentialID: credentialID,
		Method:       method,
		Success:      ferr == nil,
		IPAddress:    client.IPAddress,
		UserAgent:    client.UserAgent,
		ErrorReason:  failureReason(ferr),
	})
}

// failureReason maps taxonomy errors to stable audit strings.
func failureReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrChallengeNotFound):
		return "challenge_not_found"
	case errors.Is(err, ErrChallengeExpired):
		return "challenge_expired"
	case errors.Is(err, ErrChallengeAlreadyUsed):
		return "challenge_already_used"
	case errors.Is(err, ErrReplayDetected):
		return "replay_detected"
	case errors.Is(err, ErrCredentialNotFound):
		return "credential_not_found"
	case errors.Is(err, ErrDuplicateCredential):
		return "duplicate_credential"
	case errors.Is(err, ErrRecoveryCodeInvalid):
		return "recovery_code_invalid"
	case errors.Is(err, ErrRecoveryCodeExhausted):
		return "recovery_code_exhausted"
	case errors.Is(err, ErrTooManyAttempts):
		return "too_many_attempts"
	case errors.Is(err, ErrVerificationFailed):
		return "verification_failed"
	default:
		return "internal_error"
	}
}
