package domain

import (
	"time"
)

// RecoveryCode is a single-use fallback secret for account recovery.
// Only the salted hash is persisted; the plaintext is returned to the
// caller exactly once at generation time.
type RecoveryCode struct {
	ID        string     `json:"id" bson:"_id"`
	UserID    string     `json:"user_id" bson:"user_id"`
	CodeHash  string     `json:"-" bson:"code_hash"`
	Used      bool       `json:"used" bson:"used"`
	UsedAt    *time.Time `json:"used_at,omitempty" bson:"used_at,omitempty"`
	CreatedAt time.Time  `json:"created_at" bson:"created_at"`
}
