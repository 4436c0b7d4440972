package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/book-catalog/internal/logger"
	"github.com/iliyamo/book-catalog/internal/metrics"
	"github.com/iliyamo/book-catalog/internal/model"
	"github.com/iliyamo/book-catalog/internal/pkg/redact"
	"github.com/iliyamo/book-catalog/internal/queue"
	"github.com/iliyamo/book-catalog/internal/repository"
	"github.com/iliyamo/book-catalog/internal/utils"
)

const (
	maxEmailLen    = 255
	maxUsernameLen = 64
)

// RegisterInput is the payload of Register. Username is optional.
type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// Session is the result of a successful login or refresh.
type Session struct {
	User             *model.User
	AccessToken      string
	AccessExpiresAt  time.Time
	TokenID          string
	RefreshToken     string
	RefreshExpiresAt time.Time
	FamilyID         string
}

// AuthService composes the credential store, password hasher, token issuer
// and refresh token manager into the authentication protocol. It holds no
// mutable state of its own.
type AuthService struct {
	store  repository.CredentialStore
	hasher *utils.PasswordHasher
	issuer *utils.TokenIssuer
	tokens *RefreshTokenManager
	events EventPublisher
}

// NewAuthService wires the service. events may be nil.
func NewAuthService(store repository.CredentialStore, hasher *utils.PasswordHasher, issuer *utils.TokenIssuer, tokens *RefreshTokenManager, events EventPublisher) *AuthService {
	if events == nil {
		events = NopPublisher{}
	}
	return &AuthService{store: store, hasher: hasher, issuer: issuer, tokens: tokens, events: events}
}

// Register validates in, rejects duplicate emails and usernames, and stores
// a new user with role User. No tokens are issued.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	const op = "service.AuthService.Register"
	log := logger.From(ctx).With(zap.String("op", op))

	email, username, err := validateRegister(in)
	if err != nil {
		metrics.AuthOutcomes.WithLabelValues("register", "invalid").Inc()
		return nil, err
	}

	if _, err := s.store.Users().GetByEmail(ctx, email); err == nil {
		metrics.AuthOutcomes.WithLabelValues("register", "conflict").Inc()
		return nil, ErrEmailExists
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if username != "" {
		if _, err := s.store.Users().GetByUsername(ctx, username); err == nil {
			metrics.AuthOutcomes.WithLabelValues("register", "conflict").Inc()
			return nil, ErrUsernameExists
		} else if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	digest, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	u := &model.User{
		Username:     username,
		Email:        email,
		PasswordHash: digest,
		Role:         model.RoleUser,
	}
	id, err := s.store.Users().Create(ctx, u)
	switch {
	case errors.Is(err, repository.ErrEmailExists):
		metrics.AuthOutcomes.WithLabelValues("register", "conflict").Inc()
		return nil, ErrEmailExists
	case errors.Is(err, repository.ErrUsernameExists):
		metrics.AuthOutcomes.WithLabelValues("register", "conflict").Inc()
		return nil, ErrUsernameExists
	case err != nil:
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	u.ID = id

	metrics.AuthOutcomes.WithLabelValues("register", "ok").Inc()
	log.Info("user registered", zap.Uint64("user_id", id), zap.String("email", redact.Email(email)))
	publish(ctx, s.events, queue.AuthEvent{Type: queue.EventUserRegistered, UserID: id, Email: redact.Email(email)})
	return u, nil
}

// Login verifies the password of the user named by identifier (an email if
// it contains '@', a username otherwise) and opens a new session lineage.
func (s *AuthService) Login(ctx context.Context, identifier, password string) (*Session, error) {
	const op = "service.AuthService.Login"
	log := logger.From(ctx).With(zap.String("op", op))

	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		metrics.AuthOutcomes.WithLabelValues("login", "invalid").Inc()
		return nil, invalid("identifier and password are required")
	}

	var (
		u   *model.User
		err error
	)
	if strings.Contains(identifier, "@") {
		u, err = s.store.Users().GetByEmail(ctx, identifier)
	} else {
		u, err = s.store.Users().GetByUsername(ctx, identifier)
	}
	if errors.Is(err, repository.ErrNotFound) {
		s.hasher.VerifyDummy(password)
		metrics.AuthOutcomes.WithLabelValues("login", "user_not_found").Inc()
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !s.hasher.Verify(u.PasswordHash, password) {
		metrics.AuthOutcomes.WithLabelValues("login", "invalid_password").Inc()
		log.Info("login rejected", zap.Uint64("user_id", u.ID))
		return nil, ErrInvalidPassword
	}

	access, err := s.issuer.Issue(u)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	raw, err := s.tokens.Generate()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	row, err := s.tokens.Store(ctx, s.store, raw, u.ID, uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	metrics.AuthOutcomes.WithLabelValues("login", "ok").Inc()
	log.Info("user logged in", zap.Uint64("user_id", u.ID), zap.String("family_id", row.FamilyID))
	publish(ctx, s.events, queue.AuthEvent{
		Type: queue.EventUserLoggedIn, UserID: u.ID, Email: redact.Email(u.Email), FamilyID: row.FamilyID, TokenID: row.ID,
	})
	return newSession(u, access, raw, row), nil
}

// Refresh rotates raw. Rotation errors are returned unchanged.
func (s *AuthService) Refresh(ctx context.Context, raw string) (*Session, error) {
	res, err := s.tokens.Rotate(ctx, raw)
	if err != nil {
		metrics.AuthOutcomes.WithLabelValues("refresh", outcome(err)).Inc()
		return nil, err
	}
	metrics.AuthOutcomes.WithLabelValues("refresh", "ok").Inc()
	publish(ctx, s.events, queue.AuthEvent{
		Type: queue.EventSessionRefresh, UserID: res.User.ID, FamilyID: res.Row.FamilyID, TokenID: res.Row.ID,
	})
	return newSession(res.User, res.Access, res.RefreshToken, res.Row), nil
}

// Logout deletes the refresh token. Logging out twice, or with a token the
// store never saw, succeeds.
func (s *AuthService) Logout(ctx context.Context, raw string) error {
	tok, err := s.tokens.revoke(ctx, raw)
	if err != nil {
		metrics.AuthOutcomes.WithLabelValues("logout", "error").Inc()
		return err
	}
	metrics.AuthOutcomes.WithLabelValues("logout", "ok").Inc()
	if tok != nil {
		publish(ctx, s.events, queue.AuthEvent{
			Type: queue.EventSessionLogout, UserID: tok.UserID, FamilyID: tok.FamilyID, TokenID: tok.ID,
		})
	}
	return nil
}

func newSession(u *model.User, access utils.AccessToken, raw string, row *model.RefreshToken) *Session {
	return &Session{
		User:             u,
		AccessToken:      access.Token,
		AccessExpiresAt:  access.ExpiresAt,
		TokenID:          access.ID,
		RefreshToken:     raw,
		RefreshExpiresAt: row.ExpiresAt,
		FamilyID:         row.FamilyID,
	}
}

func outcome(err error) string {
	switch {
	case errors.Is(err, ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	case errors.Is(err, ErrTokenRevoked):
		return "revoked"
	case errors.Is(err, ErrUserNotFound):
		return "user_not_found"
	default:
		return "error"
	}
}

// validateRegister returns the normalized email and username.
func validateRegister(in RegisterInput) (string, string, error) {
	email := repository.NormalizeEmail(in.Email)
	if email == "" {
		return "", "", invalid("email is required")
	}
	if len(email) > maxEmailLen {
		return "", "", invalid("email is too long")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", "", invalid("email is invalid")
	}
	if in.Password == "" {
		return "", "", invalid("password is required")
	}
	if len(in.Password) > utils.MaxPasswordBytes {
		return "", "", invalid("password must be at most 72 bytes")
	}

	username := strings.TrimSpace(in.Username)
	if username != "" {
		if len(username) > maxUsernameLen {
			return "", "", invalid("username must be at most 64 characters")
		}
		if strings.ContainsRune(username, '@') || strings.IndexFunc(username, unicode.IsSpace) >= 0 {
			return "", "", invalid("username must not contain spaces or '@'")
		}
	}
	return email, username, nil
}
