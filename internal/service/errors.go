package service

import "errors"

// Ceremony failure taxonomy. Every failure terminates the current ceremony
// attempt; a retry is a brand-new ceremony with a freshly issued challenge.
var (
	ErrChallengeNotFound    = errors.New("challenge not found")
	ErrChallengeExpired     = errors.New("challenge expired")
	ErrChallengeAlreadyUsed = errors.New("challenge already used")

	// ErrVerificationFailed covers signature, origin and relying-party
	// mismatches. Timeouts on the verification path surface as this too.
	ErrVerificationFailed = errors.New("verification failed")

	// ErrReplayDetected is a counter regression. It is never collapsed
	// into ErrVerificationFailed so operators can alert on suspected
	// credential cloning specifically.
	ErrReplayDetected = errors.New("replay detected")

	ErrCredentialNotFound  = errors.New("credential not found")
	ErrDuplicateCredential = errors.New("credential already registered")

	ErrRecoveryCodeInvalid   = errors.New("invalid recovery code")
	ErrRecoveryCodeExhausted = errors.New("no recovery codes remaining")

	ErrTooManyAttempts = errors.New("too many attempts")
)
