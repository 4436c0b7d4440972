package utils // package utils provides helpers for password hashing and token handling

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/iliyamo/book-catalog/internal/config"
	"github.com/iliyamo/book-catalog/internal/model"
)

// RefreshTokenBytes is the amount of entropy in a raw refresh token.
const RefreshTokenBytes = 64

// ErrInvalidAccessToken wraps every reason an access token is rejected.
var ErrInvalidAccessToken = errors.New("invalid access token")

// AccessToken is a signed JWT along with its expiry and jti.
type AccessToken struct {
	Token     string    // the serialized JWT string
	ExpiresAt time.Time // the UTC expiration time
	ID        string    // jti
}

// Claims is the typed view of a verified access token.
type Claims struct {
	UserID    uint64
	Email     string
	Role      model.Role
	TokenID   string
	ExpiresAt time.Time
}

type accessClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 access tokens. It is immutable after
// construction and safe for concurrent use.
type TokenIssuer struct {
	key      []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

// NewTokenIssuer validates cfg and returns an issuer. Errors wrap
// config.ErrConfiguration.
func NewTokenIssuer(cfg config.AuthConfig) (*TokenIssuer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &TokenIssuer{
		key:      []byte(cfg.JWTSecret),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		ttl:      cfg.AccessTTL,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// TTL returns the access token lifetime.
func (i *TokenIssuer) TTL() time.Duration { return i.ttl }

// Issue builds and signs an access token for u. The token carries sub,
// email, role, jti, iss, aud, iat, nbf and exp.
func (i *TokenIssuer) Issue(u *model.User) (AccessToken, error) {
	if u == nil || u.ID == 0 || u.Email == "" || !u.Role.Valid() {
		return AccessToken{}, errors.New("utils.Issue: user id, email and role are required")
	}
	now := i.now().Truncate(time.Second)
	exp := now.Add(i.ttl)
	jti := uuid.NewString()

	claims := accessClaims{
		Email: u.Email,
		Role:  string(u.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(u.ID, 10),
			Issuer:    i.issuer,
			Audience:  jwt.ClaimStrings{i.audience},
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return AccessToken{}, fmt.Errorf("utils.Issue: %w", err)
	}
	return AccessToken{Token: signed, ExpiresAt: exp, ID: jti}, nil
}

// Parse verifies signature, algorithm, issuer, audience, exp and nbf and
// returns the typed claims.
func (i *TokenIssuer) Parse(raw string) (*Claims, error) {
	var c accessClaims
	_, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) { return i.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithAudience(i.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAccessToken, err)
	}
	uid, err := strconv.ParseUint(c.Subject, 10, 64)
	if err != nil || uid == 0 {
		return nil, fmt.Errorf("%w: bad subject", ErrInvalidAccessToken)
	}
	role := model.Role(c.Role)
	if !role.Valid() {
		return nil, fmt.Errorf("%w: bad role", ErrInvalidAccessToken)
	}
	return &Claims{
		UserID:    uid,
		Email:     c.Email,
		Role:      role,
		TokenID:   c.ID,
		ExpiresAt: c.ExpiresAt.Time.UTC(),
	}, nil
}

// GenerateRefreshToken returns a cryptographically secure random token,
// base64url-encoded without padding.
func GenerateRefreshToken() (string, error) {
	buf := make([]byte, RefreshTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashRefreshRaw returns the SHA-256 hash of the raw refresh token as a hex
// string. Only this hash is persisted.
func HashRefreshRaw(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
