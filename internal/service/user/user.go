package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
	"github.com/nkiryanov/gopherauth/internal/logger"
	"github.com/nkiryanov/gopherauth/internal/models"
	"github.com/nkiryanov/gopherauth/internal/repository"
	"github.com/nkiryanov/gopherauth/internal/service/credential"
	"github.com/nkiryanov/gopherauth/internal/service/password"
)

const maxUsernameLength = 64

// Password verified for unknown users, so both paths cost one hash
const dummyPassword = "gopherauth-dummy-password"

type UserService struct {
	policy   *password.Policy
	hasher   *credential.Pool
	userRepo repository.UserRepo
	logger   logger.Logger

	// Digest of dummyPassword, made once in NewService
	dummyDigest string
}

// User that passed validation and has its password hashed, but is not stored yet
type NewUser struct {
	Username       string
	HashedPassword string
	Role           models.Role
}

func NewService(policy *password.Policy, hasher *credential.Pool, userRepo repository.UserRepo, l logger.Logger) *UserService {
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	// Made here, so the first unknown user login costs the same as others
	dummy, err := hasher.Hash(context.Background(), dummyPassword)
	if err != nil {
		l.Error("dummy digest failed", "error", err)
	}

	return &UserService{
		policy:      policy,
		hasher:      hasher,
		userRepo:    userRepo,
		logger:      l,
		dummyDigest: dummy,
	}
}

// WithRepo returns service copy bound to another repo, e.g. the transactional one
func (s *UserService) WithRepo(userRepo repository.UserRepo) *UserService {
	c := *s
	c.userRepo = userRepo
	return &c
}

// CreateUser validates password against policy, hashes it and stores new user
func (s *UserService) CreateUser(ctx context.Context, username string, pass string, role models.Role) (models.User, error) {
	nu, err := s.Prepare(ctx, username, pass, role)
	if err != nil {
		return models.User{}, err
	}
	return s.Store(ctx, nu)
}

// Prepare validates user data and hashes password, nothing is stored
// Hashing is slow, so it's better done before any transaction starts
func (s *UserService) Prepare(ctx context.Context, username string, pass string, role models.Role) (NewUser, error) {
	var nu NewUser

	username, err := normalizeUsername(username)
	if err != nil {
		return nu, err
	}

	if role == "" {
		role = models.RoleUser
	}
	if !role.Valid() {
		return nu, apperrors.Validation("role", 1, "Unknown role").WithDetail("role", string(role))
	}

	if v := s.policy.Validate(pass); v != nil {
		return nu, v.DomainError()
	}

	hash, err := s.hasher.Hash(ctx, pass)
	if err != nil {
		return nu, apperrors.FromError(fmt.Errorf("can't use this as password, Err: %w", err))
	}

	return NewUser{Username: username, HashedPassword: hash, Role: role}, nil
}

// Store saves prepared user
func (s *UserService) Store(ctx context.Context, nu NewUser) (models.User, error) {
	user, err := s.userRepo.CreateUser(ctx, nu.Username, nu.HashedPassword, nu.Role)
	if err != nil {
		return user, apperrors.FromError(fmt.Errorf("can't create user. Err: %w", err))
	}

	return user, nil
}

// Login checks user credentials
// Unknown user and wrong password are reported the same way
func (s *UserService) Login(ctx context.Context, username string, pass string) (models.User, error) {
	var user models.User

	// Name that can't be registered is just unknown one
	username, err := normalizeUsername(username)
	if err == nil {
		user, err = s.userRepo.GetUserByUsername(ctx, username)
	} else {
		err = fmt.Errorf("%w: %w", apperrors.ErrUserNotFound, err)
	}

	switch {
	case err == nil:
	case errors.Is(err, apperrors.ErrUserNotFound):
		// Spend the same time as for existing user
		_, _ = s.hasher.Verify(ctx, pass, s.dummyDigest)
		return models.User{}, apperrors.Unauthenticated(err)
	default:
		return models.User{}, apperrors.FromError(err)
	}

	ok, err := s.hasher.Verify(ctx, pass, user.HashedPassword)
	switch {
	case err != nil:
		return models.User{}, apperrors.FromError(fmt.Errorf("can't verify password. Err: %w", err))
	case !ok:
		return models.User{}, apperrors.Unauthenticated(apperrors.ErrInvalidPassword)
	}

	if s.hasher.NeedsRehash(user.HashedPassword) {
		s.rehash(ctx, &user, pass)
	}

	return user, nil
}

// Upgrade digest made with outdated settings. Failure is not fatal, login goes on
func (s *UserService) rehash(ctx context.Context, user *models.User, pass string) {
	hash, err := s.hasher.Hash(ctx, pass)
	if err == nil {
		err = s.userRepo.UpdatePassword(ctx, user.ID, hash)
	}
	if err != nil {
		s.logger.Warn("password rehash failed", "user_id", user.ID, "error", err)
		return
	}

	user.HashedPassword = hash
	s.logger.Info("password rehashed", "user_id", user.ID)
}

func (s *UserService) GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error) {
	user, err := s.userRepo.GetUserByID(ctx, userID)
	if errors.Is(err, apperrors.ErrUserNotFound) {
		return user, apperrors.NotFound("user", "User not found").WithCause(err)
	}
	if err != nil {
		return user, apperrors.FromError(err)
	}
	return user, nil
}

func normalizeUsername(username string) (string, error) {
	username = strings.TrimSpace(username)

	switch n := len([]rune(username)); {
	case n == 0:
		return "", apperrors.Validation("username", 1, "Username must not be empty")
	case n > maxUsernameLength:
		return "", apperrors.Validation("username", 2, "Username is too long").
			WithDetail("max_length", maxUsernameLength)
	case !printable(username):
		return "", apperrors.Validation("username", 3, "Username contains invalid characters")
	}

	return username, nil
}

// Valid UTF-8 without control characters (NUL included)
func printable(s string) bool {
	if !utf8.ValidString(s) {
		return false
	}
	for _, r := range s {
		if unicode.IsControl(r) {
			return false
		}
	}
	return true
}
