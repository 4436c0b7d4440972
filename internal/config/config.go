package config // package config loads application configuration from environment variables

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

// ErrConfiguration marks missing or malformed settings. It is fatal at
// startup and never produced while serving requests.
var ErrConfiguration = errors.New("configuration error")

// MinSigningKeyBytes is the shortest accepted HMAC key (256 bits).
const MinSigningKeyBytes = 32

// Config holds all runtime configuration values. Each field corresponds to
// an environment variable.
type Config struct {
	Env      string // application environment (e.g. "dev", "prod")
	Port     string // HTTP port to listen on
	LogLevel string // zap level name

	DB   DBConfig
	Auth AuthConfig

	AMQPURL         string        // empty disables the auth event bus
	JanitorInterval time.Duration // how often expired refresh tokens are purged; 0 disables
}

// DBConfig describes the MySQL connection.
type DBConfig struct {
	User        string
	Pass        string // optional
	Host        string
	Port        string
	Name        string
	AutoMigrate bool
}

// AuthConfig is the immutable token/password configuration injected into the
// token issuer and the auth service.
type AuthConfig struct {
	JWTSecret           string        // HMAC-SHA-256 signing key, at least 32 bytes
	Issuer              string        // iss claim
	Audience            string        // aud claim
	AccessTTL           time.Duration // access token lifetime
	RefreshTTL          time.Duration // refresh token lifetime
	BcryptCost          int           // bcrypt cost for password hashing
	CookieSecure        bool          // Secure flag on the refresh cookie
	RefreshTokenInBody  bool          // also return refresh tokens in JSON bodies
	RevokeFamilyOnReuse bool          // revoke the whole lineage when a rotated token is replayed
}

// Validate checks the settings the token issuer depends on.
func (a AuthConfig) Validate() error {
	if len(a.JWTSecret) < MinSigningKeyBytes {
		return fmt.Errorf("%w: JWT_SECRET must be at least %d bytes", ErrConfiguration, MinSigningKeyBytes)
	}
	if strings.TrimSpace(a.Issuer) == "" {
		return fmt.Errorf("%w: JWT_ISSUER is required", ErrConfiguration)
	}
	if strings.TrimSpace(a.Audience) == "" {
		return fmt.Errorf("%w: JWT_AUDIENCE is required", ErrConfiguration)
	}
	if a.AccessTTL <= 0 {
		return fmt.Errorf("%w: access token ttl must be positive", ErrConfiguration)
	}
	if a.RefreshTTL <= 0 {
		return fmt.Errorf("%w: refresh token ttl must be positive", ErrConfiguration)
	}
	if a.BcryptCost < bcrypt.MinCost || a.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("%w: BCRYPT_COST must be within [%d, %d]", ErrConfiguration, bcrypt.MinCost, bcrypt.MaxCost)
	}
	return nil
}

// Load reads an optional .env file and then the process environment. All
// problems are collected and returned as one error wrapping ErrConfiguration.
func Load() (Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	r := &reader{}
	cfg := Config{
		Env:      envStr("APP_ENV", "dev"),
		Port:     r.must("APP_PORT"),
		LogLevel: envStr("LOG_LEVEL", "info"),
		DB: DBConfig{
			User:        r.must("DB_USER"),
			Pass:        os.Getenv("DB_PASS"),
			Host:        r.must("DB_HOST"),
			Port:        r.must("DB_PORT"),
			Name:        r.must("DB_NAME"),
			AutoMigrate: envBool("DB_AUTO_MIGRATE", true),
		},
		Auth: AuthConfig{
			JWTSecret:           r.must("JWT_SECRET"),
			Issuer:              r.must("JWT_ISSUER"),
			Audience:            r.must("JWT_AUDIENCE"),
			AccessTTL:           time.Duration(r.mustInt("ACCESS_TOKEN_TTL_MIN")) * time.Minute,
			RefreshTTL:          time.Duration(r.optInt("REFRESH_TOKEN_TTL_DAYS", 7)) * 24 * time.Hour,
			BcryptCost:          r.optInt("BCRYPT_COST", bcrypt.DefaultCost),
			CookieSecure:        envBool("COOKIE_SECURE", true),
			RefreshTokenInBody:  envBool("REFRESH_TOKEN_IN_BODY", true),
			RevokeFamilyOnReuse: envBool("AUTH_REVOKE_FAMILY_ON_REUSE", false),
		},
		AMQPURL:         amqpURL(),
		JanitorInterval: envDur("TOKEN_JANITOR_INTERVAL", 30*time.Minute),
	}
	if len(r.problems) > 0 {
		return Config{}, fmt.Errorf("%w: %s", ErrConfiguration, strings.Join(r.problems, "; "))
	}
	if err := cfg.Auth.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// MustLoad is like Load but exits the process on error.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	return cfg
}

// reader accumulates problems so that one startup reports every missing key.
type reader struct {
	problems []string
}

func (r *reader) must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		r.problems = append(r.problems, "missing required env var: "+key)
		return ""
	}
	return v
}

func (r *reader) mustInt(key string) int {
	s := r.must(key)
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		r.problems = append(r.problems, fmt.Sprintf("invalid int for %s: %q", key, s))
	}
	return n
}

func (r *reader) optInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		r.problems = append(r.problems, fmt.Sprintf("invalid int for %s: %q", key, s))
		return def
	}
	return n
}

func amqpURL() string {
	if v := os.Getenv("RABBITMQ_URL"); v != "" {
		return v
	}
	return os.Getenv("AMQP_URL")
}
