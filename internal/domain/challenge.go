package domain

import (
	"time"
)

// ChallengePurpose identifies which ceremony a challenge was issued for.
type ChallengePurpose string

const (
	// PurposeRegistration is an attestation (credential creation) ceremony
	PurposeRegistration ChallengePurpose = "registration"
	// PurposeAuthentication is an assertion (login) ceremony
	PurposeAuthentication ChallengePurpose = "authentication"
)

// Challenge is a single-use, time-bounded ceremony nonce.
//
// Used transitions false -> true exactly once, enforced by a conditional
// write in the storage layer. A challenge that fails cryptographic
// verification is left unused so the ceremony can be retried until expiry.
type Challenge struct {
	ID        string           `json:"id" bson:"_id"`
	UserID    string           `json:"user_id,omitempty" bson:"user_id,omitempty"` // empty for discoverable login
	Purpose   ChallengePurpose `json:"purpose" bson:"purpose"`
	Value     string           `json:"value" bson:"value"` // base64url-encoded nonce
	Used      bool             `json:"used" bson:"used"`
	ExpiresAt time.Time        `json:"expires_at" bson:"expires_at"`
	CreatedAt time.Time        `json:"created_at" bson:"created_at"`
}

// IsExpired checks if the challenge has expired
func (c *Challenge) IsExpired() bool {
	return time.Now().After(c.ExpiresAt)
}
