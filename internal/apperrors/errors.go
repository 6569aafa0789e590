package apperrors

import (
	"errors"
)

// Internal failure causes. They never cross the service boundary as is:
// FromError converts them to DomainError first.
var (
	ErrUserAlreadyExists = errors.New("user already exists")
	ErrUserNotFound      = errors.New("user not found")
	ErrInvalidPassword   = errors.New("password does not match")

	ErrEmptyPassword   = errors.New("password must not be empty")
	ErrMalformedDigest = errors.New("password digest is malformed")

	ErrAccessTokenInvalid = errors.New("access token is invalid")

	ErrRefreshTokenNotFound   = errors.New("refresh token not found")
	ErrRefreshTokenRevoked    = errors.New("refresh token is revoked")
	ErrRefreshTokenExpired    = errors.New("refresh token is expired")
	ErrRefreshTokenMismatched = errors.New("refresh token does not match record")

	ErrPermissionDenied = errors.New("permission denied")
)
