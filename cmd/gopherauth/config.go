package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/nkiryanov/gopherauth/internal/logger"
)

// Where refresh tokens are kept
const (
	StorePostgres = "postgres"
	StoreRedis    = "redis"
	StoreMemory   = "memory"
)

const (
	defaultListenAddr   = "localhost:8000"
	defaultLoggingLevel = logger.LevelInfo
	defaultEnvironment  = logger.EnvProduction
	defaultAccessTTL    = 15 * time.Minute
	defaultRefreshTTL   = 24 * time.Hour
	defaultRefreshStore = StorePostgres
	defaultRedisAddr    = "localhost:6379"
)

type Config struct {
	// Default logging level
	LogLevel string

	// Address on which the service will be run
	ListenAddr string

	// Database to connect to
	// Not required for memory store
	DatabaseDSN string

	// Secret key to sign access tokens with (HS256)
	SecretKey string

	// Environment
	Environment string

	// Tokens lifetime
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// Refresh tokens storage: postgres, redis or memory
	// Memory store keeps users in memory too
	RefreshStore string

	// Redis address, used with redis store only
	RedisAddr string

	// Password hashing
	// Zero means default value
	HashWorkers    int
	HashMemoryKB   uint32
	HashIterations uint32

	// Zero means default password policy value
	PasswordMinLength int
}

func NewConfig() *Config {
	return &Config{
		LogLevel:     defaultLoggingLevel,
		ListenAddr:   defaultListenAddr,
		Environment:  defaultEnvironment,
		AccessTTL:    defaultAccessTTL,
		RefreshTTL:   defaultRefreshTTL,
		RefreshStore: defaultRefreshStore,
		RedisAddr:    defaultRedisAddr,
	}
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		return c.LoadEnv(func(key string) string {
			return envMap[key]
		})
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) error {
	// Empty values are skipped, so defaults stay
	setString := func(o *string) func(value string) error {
		return func(value string) error {
			*o = value
			return nil
		}
	}
	setDuration := func(o *time.Duration) func(value string) error {
		return func(value string) error {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			*o = d
			return nil
		}
	}
	setInt := func(o *int) func(value string) error {
		return func(value string) error {
			n, err := strconv.Atoi(value)
			if err != nil {
				return err
			}
			*o = n
			return nil
		}
	}
	setUint32 := func(o *uint32) func(value string) error {
		return func(value string) error {
			n, err := strconv.ParseUint(value, 10, 32)
			if err != nil {
				return err
			}
			*o = uint32(n)
			return nil
		}
	}

	envMap := map[string]func(string) error{
		"RUN_ADDRESS":         setString(&c.ListenAddr),
		"DATABASE_URI":        setString(&c.DatabaseDSN),
		"SECRET_KEY":          setString(&c.SecretKey),
		"LOG_LEVEL":           setString(&c.LogLevel),
		"ENVIRONMENT":         setString(&c.Environment),
		"ACCESS_TOKEN_TTL":    setDuration(&c.AccessTTL),
		"REFRESH_TOKEN_TTL":   setDuration(&c.RefreshTTL),
		"REFRESH_STORE":       setString(&c.RefreshStore),
		"REDIS_ADDRESS":       setString(&c.RedisAddr),
		"HASH_WORKERS":        setInt(&c.HashWorkers),
		"HASH_MEMORY_KB":      setUint32(&c.HashMemoryKB),
		"HASH_ITERATIONS":     setUint32(&c.HashIterations),
		"PASSWORD_MIN_LENGTH": setInt(&c.PasswordMinLength),
	}

	var errs []error
	for key, parseFn := range envMap {
		value := getenv(key)
		if value == "" {
			continue
		}
		if err := parseFn(value); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
		}
	}

	return errors.Join(errs...)
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("gopherauth", pflag.ContinueOnError)

	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Server listen address")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string")
	fs.StringVarP(&c.SecretKey, "secret-key", "s", c.SecretKey, "Secret key")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (development, production)")
	fs.DurationVar(&c.AccessTTL, "access-ttl", c.AccessTTL, "Access token lifetime")
	fs.DurationVar(&c.RefreshTTL, "refresh-ttl", c.RefreshTTL, "Refresh token lifetime")
	fs.StringVar(&c.RefreshStore, "refresh-store", c.RefreshStore, "Refresh tokens store (postgres, redis, memory)")
	fs.StringVar(&c.RedisAddr, "redis", c.RedisAddr, "Redis address")
	fs.IntVar(&c.HashWorkers, "hash-workers", c.HashWorkers, "Max password hashing operations at once (0 is GOMAXPROCS)")
	fs.Uint32Var(&c.HashMemoryKB, "hash-memory", c.HashMemoryKB, "Argon2id memory in KiB")
	fs.Uint32Var(&c.HashIterations, "hash-iterations", c.HashIterations, "Argon2id passes over the memory")
	fs.IntVar(&c.PasswordMinLength, "password-min-length", c.PasswordMinLength, "Minimal password length")

	return fs.Parse(args)
}

// Validate checks options that can't be fixed with defaults
func (c *Config) Validate() error {
	var errs []error

	if c.SecretKey == "" {
		errs = append(errs, errors.New("secret key is required"))
	}
	if c.AccessTTL <= 0 {
		errs = append(errs, fmt.Errorf("access token ttl must be positive, got %s", c.AccessTTL))
	}
	if c.RefreshTTL <= 0 {
		errs = append(errs, fmt.Errorf("refresh token ttl must be positive, got %s", c.RefreshTTL))
	}
	if c.HashWorkers < 0 {
		errs = append(errs, fmt.Errorf("hash workers must not be negative, got %d", c.HashWorkers))
	}
	if c.PasswordMinLength < 0 {
		errs = append(errs, fmt.Errorf("password min length must not be negative, got %d", c.PasswordMinLength))
	}

	switch c.RefreshStore {
	case StoreMemory:
	case StorePostgres, StoreRedis:
		if c.DatabaseDSN == "" {
			errs = append(errs, fmt.Errorf("database is required for %s store", c.RefreshStore))
		}
		if c.RefreshStore == StoreRedis && c.RedisAddr == "" {
			errs = append(errs, errors.New("redis address is required for redis store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown refresh store %q", c.RefreshStore))
	}

	return errors.Join(errs...)
}
