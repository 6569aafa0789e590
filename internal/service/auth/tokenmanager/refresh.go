package tokenmanager

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
	"github.com/nkiryanov/gopherauth/internal/models"
)

// 512 bits of entropy
const refreshTokenBytes = 64

type Reason string

const (
	ReasonRevoked    Reason = "revoked"
	ReasonExpired    Reason = "expired"
	ReasonMismatched Reason = "mismatched"
)

type VerifyResult struct {
	Valid  bool
	Reason Reason // empty when valid
}

// Err converts failed result to sentinel error, nil for valid one
func (r VerifyResult) Err() error {
	switch {
	case r.Valid:
		return nil
	case r.Reason == ReasonRevoked:
		return apperrors.ErrRefreshTokenRevoked
	case r.Reason == ReasonExpired:
		return apperrors.ErrRefreshTokenExpired
	default:
		return apperrors.ErrRefreshTokenMismatched
	}
}

// GenerateRefresh returns url-safe token and its digest
// Only digest is stored; token is given to the client once
func GenerateRefresh() (token string, digest string, err error) {
	b := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("error while generate refresh token. Err: %w", err)
	}

	token = base64.RawURLEncoding.EncodeToString(b)
	return token, HashRefresh(token), nil
}

// Hex encoded sha256 of the token
func HashRefresh(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// VerifyRefresh checks candidate against stored record at the moment 'now'
// Checks order: revoked, expired, mismatched. Digest comparison is constant time.
func VerifyRefresh(candidate string, record models.RefreshToken, now time.Time) VerifyResult {
	switch {
	case record.Revoked:
		return VerifyResult{Reason: ReasonRevoked}
	case !now.Before(record.ExpiresAt):
		return VerifyResult{Reason: ReasonExpired}
	case subtle.ConstantTimeCompare([]byte(HashRefresh(candidate)), []byte(record.TokenHash)) != 1:
		return VerifyResult{Reason: ReasonMismatched}
	default:
		return VerifyResult{Valid: true}
	}
}
