package credential

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
)

// Interface to create or verify password digests
type PasswordHasher interface {
	// Produce self-describing digest with fresh random salt
	Hash(password string) (string, error)

	// Compare password with known digest. Must be constant time.
	// (true, nil) on match, (false, nil) on mismatch, error on malformed digest only
	Verify(password string, digest string) (bool, error)
}

const (
	argon2ID = "argon2id"

	defaultMemory      = 64 * 1024 // KiB
	defaultIterations  = 3
	defaultParallelism = 2
	defaultSaltLength  = 16
	defaultKeyLength   = 32
)

// Argon2id hasher settings
type Config struct {
	// Memory in KiB
	// If not set than default is used
	Memory uint32

	// Number of passes over the memory
	// If not set than default is used
	Iterations uint32

	// Degree of parallelism
	// If not set than default is used
	Parallelism uint8

	// Salt and derived key lengths in bytes
	// If not set than default is used
	SaltLength uint32
	KeyLength  uint32
}

// Argon2id hasher, default one
// Digests are PHC strings: $argon2id$v=19$m=65536,t=3,p=2$<salt>$<hash>
type Argon2Hasher struct {
	cfg Config

	// Digests made by previous versions of the service
	legacy BcryptHasher
}

func NewArgon2(cfg Config) *Argon2Hasher {
	if cfg.Memory == 0 {
		cfg.Memory = defaultMemory
	}
	if cfg.Iterations == 0 {
		cfg.Iterations = defaultIterations
	}
	if cfg.Parallelism == 0 {
		cfg.Parallelism = defaultParallelism
	}
	if cfg.SaltLength == 0 {
		cfg.SaltLength = defaultSaltLength
	}
	if cfg.KeyLength == 0 {
		cfg.KeyLength = defaultKeyLength
	}

	return &Argon2Hasher{cfg: cfg}
}

func (h *Argon2Hasher) Hash(password string) (string, error) {
	if password == "" {
		return "", apperrors.ErrEmptyPassword
	}

	salt := make([]byte, h.cfg.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("error while generating salt. Err: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, h.cfg.Iterations, h.cfg.Memory, h.cfg.Parallelism, h.cfg.KeyLength)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2ID,
		argon2.Version,
		h.cfg.Memory,
		h.cfg.Iterations,
		h.cfg.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify argon2id digest or bcrypt digest produced by legacy hasher
func (h *Argon2Hasher) Verify(password string, digest string) (bool, error) {
	if isBcrypt(digest) {
		return h.legacy.Verify(password, digest)
	}

	d, err := parseArgon2(digest)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(password), d.salt, d.iterations, d.memory, d.parallelism, uint32(len(d.key)))

	return subtle.ConstantTimeCompare(computed, d.key) == 1, nil
}

// NeedsRehash reports digests that are made by another algorithm or weaker settings
// Caller expected to rehash the password after successful verification
func (h *Argon2Hasher) NeedsRehash(digest string) bool {
	d, err := parseArgon2(digest)
	if err != nil {
		return true
	}

	return d.memory < h.cfg.Memory ||
		d.iterations < h.cfg.Iterations ||
		d.parallelism != h.cfg.Parallelism ||
		uint32(len(d.key)) < h.cfg.KeyLength
}

type argon2Digest struct {
	memory      uint32
	iterations  uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

func parseArgon2(digest string) (argon2Digest, error) {
	var d argon2Digest

	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, key
	parts := strings.Split(digest, "$")
	if len(parts) != 6 || parts[0] != "" {
		return d, fmt.Errorf("invalid format: %w", apperrors.ErrMalformedDigest)
	}
	if parts[1] != argon2ID {
		return d, fmt.Errorf("unsupported algorithm %q: %w", parts[1], apperrors.ErrMalformedDigest)
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return d, fmt.Errorf("unsupported version %q: %w", parts[2], apperrors.ErrMalformedDigest)
	}

	var parallelism uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &d.memory, &d.iterations, &parallelism); err != nil {
		return d, fmt.Errorf("invalid params %q: %w", parts[3], apperrors.ErrMalformedDigest)
	}
	if parallelism == 0 || parallelism > 255 || d.iterations == 0 || d.memory == 0 {
		return d, fmt.Errorf("params out of range %q: %w", parts[3], apperrors.ErrMalformedDigest)
	}
	d.parallelism = uint8(parallelism)

	var err error
	d.salt, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return d, fmt.Errorf("invalid salt: %w", apperrors.ErrMalformedDigest)
	}
	d.key, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(d.key) == 0 || len(d.key) > 1024 {
		return d, fmt.Errorf("invalid key: %w", apperrors.ErrMalformedDigest)
	}

	return d, nil
}
