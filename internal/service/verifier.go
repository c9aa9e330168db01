package service

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"go.uber.org/zap"

	"github.com/veridian-id/go-authn-backend/internal/domain"
	"github.com/veridian-id/go-authn-backend/pkg/config"
)

// AssertionVerifier orchestrates the cryptographic verification of
// attestation and assertion responses. The signature/attestation math is
// delegated to go-webauthn; on top of that this component pins the
// ceremony binding: the challenge embedded in the client response must be
// byte-identical to the issued one, and origin/relying-party checks run
// against the configured values, so a cross-origin or stale-challenge
// response fails here regardless of cryptographic validity.
//
// The verifier never consults the replay counter - that is orchestrator
// policy, kept out of this component so the counter rule stays
// independently testable.
type AssertionVerifier struct {
	webauthn *webauthn.WebAuthn
	logger   *zap.Logger
}

// NewAssertionVerifier creates a new AssertionVerifier
func NewAssertionVerifier(cfg *config.Config, logger *zap.Logger) (*AssertionVerifier, error) {
	wconfig := &webauthn.Config{
		RPDisplayName: cfg.Server.RPName,
		RPID:          cfg.Server.RPID,
		RPOrigins:     []string{cfg.Server.RPOrigin},
	}

	wa, err := webauthn.New(wconfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create webauthn: %w", err)
	}

	return &AssertionVerifier{
		webauthn: wa,
		logger:   logger.Named("assertion-verifier"),
	}, nil
}

// BeginRegistration generates standard credential creation options with a
// fresh 32-byte challenge.
func (v *AssertionVerifier) BeginRegistration(user webauthn.User, exclusions []protocol.CredentialDescriptor) (*protocol.CredentialCreation, *webauthn.SessionData, error) {
	return v.webauthn.BeginRegistration(user,
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementRequired),
		webauthn.WithExclusions(exclusions),
	)
}

// BeginAuthentication generates standard assertion request options for the
// discoverable credential flow (no user bound yet).
func (v *AssertionVerifier) BeginAuthentication() (*protocol.CredentialAssertion, *webauthn.SessionData, error) {
	return v.webauthn.BeginDiscoverableLogin(
		webauthn.WithUserVerification(protocol.VerificationRequired),
	)
}

// VerifyRegistration validates an attestation response against the issued
// challenge and returns the verified credential to register.
func (v *AssertionVerifier) VerifyRegistration(response json.RawMessage, challenge *domain.Challenge, user webauthn.User) (*webauthn.Credential, error) {
	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(response))
	if err != nil {
		v.logger.Debug("Failed to parse attestation response", zap.Error(err))
		return nil, ErrVerificationFailed
	}

	if string(parsed.Response.CollectedClientData.Challenge) != challenge.Value {
		v.logger.Debug("Attestation challenge mismatch")
		return nil, ErrVerificationFailed
	}

	session := webauthn.SessionData{
		Challenge:        challenge.Value,
		UserID:           user.WebAuthnID(),
		UserVerification: protocol.VerificationRequired,
	}

	credential, err := v.webauthn.CreateCredential(user, session, parsed)
	if err != nil {
		v.logger.Debug("Attestation verification failed", zap.Error(err))
		return nil, ErrVerificationFailed
	}
	return credential, nil
}

// ParseAssertion decodes an assertion response without verifying it, so the
// orchestrator can resolve the credential it names first.
func (v *AssertionVerifier) ParseAssertion(response json.RawMessage) (*protocol.ParsedCredentialAssertionData, error) {
	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(response))
	if err != nil {
		v.logger.Debug("Failed to parse assertion response", zap.Error(err))
		return nil, ErrVerificationFailed
	}
	return parsed, nil
}

// VerifyAuthentication validates a parsed assertion against the issued
// challenge and the stored public key of the resolved credential. The
// returned credential carries the authenticator's reported signature
// counter; counter policy is not applied here.
func (v *AssertionVerifier) VerifyAuthentication(parsed *protocol.ParsedCredentialAssertionData, challenge *domain.Challenge, user webauthn.User) (*webauthn.Credential, error) {
	if string(parsed.Response.CollectedClientData.Challenge) != challenge.Value {
		v.logger.Debug("Assertion challenge mismatch")
		return nil, ErrVerificationFailed
	}

	session := webauthn.SessionData{
		Challenge:        challenge.Value,
		UserID:           user.WebAuthnID(),
		UserVerification: protocol.VerificationRequired,
	}

	credential, err := v.webauthn.ValidateLogin(user, session, parsed)
	if err != nil {
		v.logger.Debug("Assertion verification failed", zap.Error(err))
		return nil, ErrVerificationFailed
	}
	return credential, nil
}

// ceremonyUser adapts a user ID and their registered credentials to the
// webauthn.User interface for the duration of one ceremony. The
// surrounding application owns user profiles; the engine only needs the
// user handle and key material.
type ceremonyUser struct {
	id          string
	credentials []*domain.Credential
}

func (u *ceremonyUser) WebAuthnID() []byte {
	return []byte(u.id)
}

func (u *ceremonyUser) WebAuthnName() string {
	return u.id
}

func (u *ceremonyUser) WebAuthnDisplayName() string {
	return u.id
}

func (u *ceremonyUser) WebAuthnCredentials() []webauthn.Credential {
	creds := make([]webauthn.Credential, 0, len(u.credentials))
	for _, c := range u.credentials {
		rawID, err := c.RawCredentialID()
		if err != nil {
			continue
		}
		creds = append(creds, webauthn.Credential{
			ID:              rawID,
			PublicKey:       c.PublicKey,
			AttestationType: c.AttestationType,
			Transport:       parseTransports(c.Transport),
			Flags: webauthn.CredentialFlags{
				UserPresent:    c.Flags&0x01 != 0,
				UserVerified:   c.Flags&0x04 != 0,
				BackupEligible: c.Flags&0x08 != 0,
				BackupState:    c.Flags&0x10 != 0,
			},
			Authenticator: webauthn.Authenticator{
				AAGUID:    c.AAGUID,
				SignCount: c.Counter,
			},
		})
	}
	return creds
}

// exclusionList builds the descriptor list preventing re-registration of
// credentials the user already holds.
func (u *ceremonyUser) exclusionList() []protocol.CredentialDescriptor {
	exclusions := make([]protocol.CredentialDescriptor, 0, len(u.credentials))
	for _, c := range u.credentials {
		rawID, err := c.RawCredentialID()
		if err != nil {
			continue
		}
		exclusions = append(exclusions, protocol.CredentialDescriptor{
			Type:         protocol.PublicKeyCredentialType,
			CredentialID: rawID,
			Transport:    parseTransports(c.Transport),
		})
	}
	return exclusions
}

func parseTransports(transports []string) []protocol.AuthenticatorTransport {
	result := make([]protocol.AuthenticatorTransport, 0, len(transports))
	for _, t := range transports {
		result = append(result, protocol.AuthenticatorTransport(t))
	}
	return result
}

func encodeFlags(flags webauthn.CredentialFlags) uint8 {
	var result uint8
	if flags.UserPresent {
		result |= 0x01
	}
	if flags.UserVerified {
		result |= 0x04
	}
	if flags.BackupEligible {
		result |= 0x08
	}
	if flags.BackupState {
		result |= 0x10
	}
	return result
}
