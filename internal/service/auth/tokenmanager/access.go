package tokenmanager

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
	"github.com/nkiryanov/gopherauth/internal/models"
)

const defaultSigningMethod = "HS256"

// Signs and parses JWTs
// Implementations must pin the algorithm: tokens signed with any other one (or 'none') are rejected
type TokenSigner interface {
	Alg() string
	Sign(claims jwt.Claims) (string, error)
	Parse(token string, claims jwt.Claims, opts ...jwt.ParserOption) error
}

// HMAC signer with shared secret key
type HMACSigner struct {
	method *jwt.SigningMethodHMAC
	key    []byte
}

// NewHMACSigner accepts HS256, HS384 or HS512
// If alg is empty than HS256 is used
func NewHMACSigner(alg string, key string) (*HMACSigner, error) {
	if key == "" {
		return nil, errors.New("secret key must not be empty")
	}
	if alg == "" {
		alg = defaultSigningMethod
	}

	method, ok := jwt.GetSigningMethod(alg).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("unsupported signing method %q", alg)
	}

	return &HMACSigner{method: method, key: []byte(key)}, nil
}

func (s *HMACSigner) Alg() string {
	return s.method.Alg()
}

func (s *HMACSigner) Sign(claims jwt.Claims) (string, error) {
	return jwt.NewWithClaims(s.method, claims).SignedString(s.key)
}

func (s *HMACSigner) Parse(token string, claims jwt.Claims, opts ...jwt.ParserOption) error {
	opts = append(opts, jwt.WithValidMethods([]string{s.method.Alg()}))
	_, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (any, error) { return s.key, nil },
		opts...,
	)
	return err
}

// Access token payload: sub, role, iat, exp, jti
type AccessClaims struct {
	jwt.RegisteredClaims
	Role models.Role `json:"role"`
}

// Verified access token content
type AccessIdentity struct {
	UserID    uuid.UUID
	Role      models.Role
	TokenID   string
	ExpiresAt time.Time
}

// Issues and verifies short-lived access tokens
// Stateless: nothing is stored, token is valid until exp
type AccessCodec struct {
	signer TokenSigner
	ttl    time.Duration
	now    func() time.Time
}

func NewAccessCodec(signer TokenSigner, ttl time.Duration, now func() time.Time) *AccessCodec {
	if now == nil {
		now = time.Now
	}
	return &AccessCodec{signer: signer, ttl: ttl, now: now}
}

func (c *AccessCodec) Issue(userID uuid.UUID, role models.Role) (models.IssuedToken, error) {
	// JWT dates have seconds precision
	now := c.now().UTC().Truncate(time.Second)
	expiresAt := now.Add(c.ttl)

	token, err := c.signer.Sign(AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Role: role,
	})
	if err != nil {
		return models.IssuedToken{}, fmt.Errorf("error while signing access token. Err: %w", err)
	}

	return models.IssuedToken{Value: token, ExpiresAt: expiresAt}, nil
}

// Verify checks signature, then expiry
// Every failure wraps apperrors.ErrAccessTokenInvalid, library reason is kept for logs only
func (c *AccessCodec) Verify(token string) (AccessIdentity, error) {
	claims := &AccessClaims{}

	err := c.signer.Parse(token, claims,
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return AccessIdentity{}, fmt.Errorf("%w: %w", apperrors.ErrAccessTokenInvalid, err)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return AccessIdentity{}, fmt.Errorf("%w: bad subject: %v", apperrors.ErrAccessTokenInvalid, err)
	}
	if !claims.Role.Valid() {
		return AccessIdentity{}, fmt.Errorf("%w: unknown role %q", apperrors.ErrAccessTokenInvalid, claims.Role)
	}

	return AccessIdentity{
		UserID:    userID,
		Role:      claims.Role,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
