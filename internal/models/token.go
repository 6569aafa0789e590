package models

import (
	"time"

	"github.com/google/uuid"
)

// Client that refresh token was issued to. Informational only
type Device struct {
	Name      string
	UserAgent string
	IPAddress string
}

// Persisted refresh token record
// Plaintext token is never stored, only TokenHash (hex sha256 of it)
type RefreshToken struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	TokenHash  string
	ExpiresAt  time.Time
	Revoked    bool
	RevokedAt  *time.Time // nil until revoked
	Device     Device
	CreatedAt  time.Time
	LastUsedAt *time.Time // nil if token never presented
}

// Active reports whether token may still be exchanged at the moment
func (t RefreshToken) Active(at time.Time) bool {
	return !t.Revoked && at.Before(t.ExpiresAt)
}

type IssuedToken struct {
	Value     string
	ExpiresAt time.Time
}

// Token pair issues by TokenManager, AuthService
type TokenPair struct {
	Access  IssuedToken
	Refresh IssuedToken
}
