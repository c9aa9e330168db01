package domain

import (
	"time"
)

// AuthMethod identifies how an authentication attempt was made.
type AuthMethod string

const (
	MethodRegistration   AuthMethod = "webauthn_registration"
	MethodAuthentication AuthMethod = "webauthn_authentication"
	MethodRecovery       AuthMethod = "recovery_code"
)

// AuthAttempt is an append-only audit record of a ceremony attempt.
// It is never mutated after creation and never consulted for
// authorization decisions.
type AuthAttempt struct {
	ID           string     `json:"id" bson:"_id"`
	UserID       string     `json:"user_id,omitempty" bson:"user_id,omitempty"`
	CredentialID string     `json:"credential_id,omitempty" bson:"credential_id,omitempty"`
	Method       AuthMethod `json:"method" bson:"method"`
	Success      bool       `json:"success" bson:"success"`
	IPAddress    string     `json:"ip_address" bson:"ip_address"`
	UserAgent    string     `json:"user_agent" bson:"user_agent"`
	ErrorReason  string     `json:"error_reason,omitempty" bson:"error_reason,omitempty"`
	CreatedAt    time.Time  `json:"created_at" bson:"created_at"`
}
