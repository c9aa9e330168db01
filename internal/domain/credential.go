package domain

import (
	"encoding/base64"
	"time"
)

// Credential is a registered WebAuthn public-key credential.
//
// CredentialID is unique system-wide, not merely per user, so a phished
// authenticator cannot be bound to a second account. Counter is
// non-decreasing across successful authentications; it is advanced only by
// the storage layer's conditional counter update.
type Credential struct {
	ID              string     `json:"id" bson:"_id"`
	UserID          string     `json:"user_id" bson:"user_id"`
	CredentialID    string     `json:"credential_id" bson:"credential_id"` // base64url-encoded authenticator credential ID
	PublicKey       []byte     `json:"public_key" bson:"public_key"`
	AttestationType string     `json:"attestation_type" bson:"attestation_type"`
	Transport       []string   `json:"transport" bson:"transport"`
	Flags           uint8      `json:"flags" bson:"flags"`
	AAGUID          []byte     `json:"aaguid" bson:"aaguid"`
	Counter         uint32     `json:"counter" bson:"counter"`
	DeviceType      string     `json:"device_type" bson:"device_type"`
	DisplayName     string     `json:"display_name" bson:"display_name"`
	CreatedAt       time.Time  `json:"created_at" bson:"created_at"`
	LastUsedAt      *time.Time `json:"last_used_at,omitempty" bson:"last_used_at,omitempty"`
}

// RawCredentialID decodes the authenticator credential ID to its raw bytes.
func (c *Credential) RawCredentialID() ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(c.CredentialID)
}

// EncodeCredentialID encodes a raw authenticator credential ID for storage.
func EncodeCredentialID(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}
