package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/book-catalog/internal/config"
	"github.com/iliyamo/book-catalog/internal/model"
	"github.com/iliyamo/book-catalog/internal/queue"
	"github.com/iliyamo/book-catalog/internal/utils"
)

type fixture struct {
	db     *memDB
	store  *memStore
	issuer *utils.TokenIssuer
	hasher *utils.PasswordHasher
	tokens *RefreshTokenManager
	events *recorder
	svc    *AuthService
}

func newFixture(t *testing.T, revokeFamily bool) *fixture {
	t.Helper()
	cfg := config.AuthConfig{
		JWTSecret:  "0123456789abcdef0123456789abcdef",
		Issuer:     "book-catalog",
		Audience:   "book-catalog-clients",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
		BcryptCost: bcrypt.MinCost,
	}
	issuer, err := utils.NewTokenIssuer(cfg)
	require.NoError(t, err)
	hasher, err := utils.NewPasswordHasher(cfg.BcryptCost)
	require.NoError(t, err)

	db := newMemDB()
	store := &memStore{db: db}
	ev := &recorder{}
	tokens := NewRefreshTokenManager(store, issuer, cfg.RefreshTTL, revokeFamily, ev)
	return &fixture{
		db: db, store: store, issuer: issuer, hasher: hasher, tokens: tokens, events: ev,
		svc: NewAuthService(store, hasher, issuer, tokens, ev),
	}
}

func (f *fixture) register(t *testing.T, email, password string) *model.User {
	t.Helper()
	u, err := f.svc.Register(context.Background(), RegisterInput{Email: email, Password: password})
	require.NoError(t, err)
	return u
}

func TestRegister_StoresUserWithDigest(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	u, err := f.svc.Register(ctx, RegisterInput{Username: "alice", Email: "Alice@Example.com", Password: "p1"})
	require.NoError(t, err)
	require.NotZero(t, u.ID)
	require.Equal(t, model.RoleUser, u.Role)

	got, err := f.store.Users().GetByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)
	require.Equal(t, "alice", got.Username)
	require.NotEqual(t, "p1", got.PasswordHash)
	require.True(t, f.hasher.Verify(got.PasswordHash, "p1"))
	require.Equal(t, []string{queue.EventUserRegistered}, f.events.types())
}

func TestRegister_DuplicateEmail(t *testing.T) {
	f := newFixture(t, false)
	f.register(t, "a@x.com", "p1")

	_, err := f.svc.Register(context.Background(), RegisterInput{Email: "A@X.COM", Password: "other"})
	require.ErrorIs(t, err, ErrConflict)
	require.ErrorIs(t, err, ErrEmailExists)
	require.Equal(t, 1, f.db.userCount())
}

func TestRegister_DuplicateUsername(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.svc.Register(context.Background(), RegisterInput{Username: "bob", Email: "b1@x.com", Password: "p"})
	require.NoError(t, err)

	_, err = f.svc.Register(context.Background(), RegisterInput{Username: "bob", Email: "b2@x.com", Password: "p"})
	require.ErrorIs(t, err, ErrUsernameExists)
	require.ErrorIs(t, err, ErrConflict)
}

func TestRegister_Validation(t *testing.T) {
	f := newFixture(t, false)

	tests := []struct {
		name string
		in   RegisterInput
	}{
		{name: "missing email", in: RegisterInput{Password: "p"}},
		{name: "malformed email", in: RegisterInput{Email: "not-an-email", Password: "p"}},
		{name: "display name", in: RegisterInput{Email: "Bob <bob@x.com>", Password: "p"}},
		{name: "missing password", in: RegisterInput{Email: "a@x.com"}},
		{name: "long password", in: RegisterInput{Email: "a@x.com", Password: strings.Repeat("p", 73)}},
		{name: "username with space", in: RegisterInput{Username: "a b", Email: "a@x.com", Password: "p"}},
		{name: "username with at", in: RegisterInput{Username: "a@b", Email: "a@x.com", Password: "p"}},
		{name: "long username", in: RegisterInput{Username: strings.Repeat("u", 65), Email: "a@x.com", Password: "p"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Register(context.Background(), tt.in)
			require.ErrorIs(t, err, ErrValidation)
		})
	}
	require.Zero(t, f.db.userCount())
}

func TestLogin_IssuesMatchingTokens(t *testing.T) {
	f := newFixture(t, false)
	u := f.register(t, "a@x.com", "p1")

	s, err := f.svc.Login(context.Background(), "a@x.com", "p1")
	require.NoError(t, err)

	claims, err := f.issuer.Parse(s.AccessToken)
	require.NoError(t, err)
	require.Equal(t, u.ID, claims.UserID)
	require.Equal(t, "a@x.com", claims.Email)
	require.Equal(t, model.RoleUser, claims.Role)
	require.Equal(t, s.TokenID, claims.TokenID)

	row, err := f.store.Tokens().FindByHash(context.Background(), utils.HashRefreshRaw(s.RefreshToken))
	require.NoError(t, err)
	require.Equal(t, u.ID, row.UserID)
	require.True(t, row.Active(time.Now()))
	require.WithinDuration(t, time.Now().Add(7*24*time.Hour), row.ExpiresAt, time.Minute)
}

func TestLogin_ByUsername(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.svc.Register(context.Background(), RegisterInput{Username: "alice", Email: "a@x.com", Password: "p1"})
	require.NoError(t, err)

	s, err := f.svc.Login(context.Background(), "alice", "p1")
	require.NoError(t, err)
	require.Equal(t, "a@x.com", s.User.Email)
}

func TestLogin_Failures(t *testing.T) {
	f := newFixture(t, false)
	f.register(t, "a@x.com", "p1")

	_, err := f.svc.Login(context.Background(), "ghost@x.com", "p1")
	require.ErrorIs(t, err, ErrUserNotFound)
	require.ErrorIs(t, err, ErrUnauthorized)
	require.Equal(t, "user not found", err.Error())

	_, err = f.svc.Login(context.Background(), "a@x.com", "wrong")
	require.ErrorIs(t, err, ErrInvalidPassword)
	require.ErrorIs(t, err, ErrUnauthorized)
	require.Equal(t, "invalid password", err.Error())

	_, err = f.svc.Login(context.Background(), "", "p1")
	require.ErrorIs(t, err, ErrValidation)

	require.Zero(t, f.db.tokenCount())
}

func TestRefresh_RotatesWithinFamily(t *testing.T) {
	f := newFixture(t, false)
	f.register(t, "a@x.com", "p1")
	ctx := context.Background()

	s1, err := f.svc.Login(ctx, "a@x.com", "p1")
	require.NoError(t, err)

	s2, err := f.svc.Refresh(ctx, s1.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, s1.RefreshToken, s2.RefreshToken)
	require.NotEqual(t, s1.TokenID, s2.TokenID)
	require.Equal(t, s1.FamilyID, s2.FamilyID)

	_, err = f.svc.Refresh(ctx, s1.RefreshToken)
	require.ErrorIs(t, err, ErrTokenRevoked)

	s3, err := f.svc.Refresh(ctx, s2.RefreshToken)
	require.NoError(t, err)

	active := 0
	for _, row := range f.db.tokensInFamily(s1.FamilyID) {
		if row.Active(time.Now()) {
			active++
			require.Equal(t, utils.HashRefreshRaw(s3.RefreshToken), row.TokenHash)
		} else {
			require.NotZero(t, row.ReplacedByID, "rotated rows point at their successor")
		}
	}
	require.Equal(t, 1, active)
}

func TestRefresh_ConcurrentSameToken(t *testing.T) {
	f := newFixture(t, false)
	f.register(t, "a@x.com", "p1")
	s, err := f.svc.Login(context.Background(), "a@x.com", "p1")
	require.NoError(t, err)

	const n = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, fail int
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.svc.Refresh(context.Background(), s.RefreshToken)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else if errors.Is(err, ErrUnauthorized) {
				fail++
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Equal(t, 1, ok)
	require.Equal(t, n-1, fail)
}

func TestRefresh_LostRaceRollsBack(t *testing.T) {
	f := newFixture(t, false)
	f.register(t, "a@x.com", "p1")
	s, err := f.svc.Login(context.Background(), "a@x.com", "p1")
	require.NoError(t, err)
	before := f.db.tokenCount()

	f.db.loseRevoke = true
	_, err = f.svc.Refresh(context.Background(), s.RefreshToken)
	require.ErrorIs(t, err, ErrTokenRevoked)
	require.Equal(t, before, f.db.tokenCount(), "successor insert is rolled back")
}

func TestRefresh_Expired(t *testing.T) {
	f := newFixture(t, false)
	f.register(t, "a@x.com", "p1")
	s, err := f.svc.Login(context.Background(), "a@x.com", "p1")
	require.NoError(t, err)

	f.tokens.now = func() time.Time { return time.Now().UTC().Add(8 * 24 * time.Hour) }
	_, err = f.svc.Refresh(context.Background(), s.RefreshToken)
	require.ErrorIs(t, err, ErrTokenExpired)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestRefresh_UnknownAndEmpty(t *testing.T) {
	f := newFixture(t, false)

	_, err := f.svc.Refresh(context.Background(), "")
	require.ErrorIs(t, err, ErrInvalidToken)
	_, err = f.svc.Refresh(context.Background(), "never-issued")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestRefresh_UserGone(t *testing.T) {
	f := newFixture(t, false)
	u := f.register(t, "a@x.com", "p1")
	s, err := f.svc.Login(context.Background(), "a@x.com", "p1")
	require.NoError(t, err)

	f.db.mu.Lock()
	delete(f.db.users, u.ID)
	f.db.mu.Unlock()

	_, err = f.svc.Refresh(context.Background(), s.RefreshToken)
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestRefresh_ReuseRevokesFamilyWhenEnabled(t *testing.T) {
	f := newFixture(t, true)
	f.register(t, "a@x.com", "p1")
	ctx := context.Background()

	s1, err := f.svc.Login(ctx, "a@x.com", "p1")
	require.NoError(t, err)
	s2, err := f.svc.Refresh(ctx, s1.RefreshToken)
	require.NoError(t, err)

	_, err = f.svc.Refresh(ctx, s1.RefreshToken)
	require.ErrorIs(t, err, ErrTokenRevoked)

	_, err = f.svc.Refresh(ctx, s2.RefreshToken)
	require.ErrorIs(t, err, ErrTokenRevoked, "replay revokes the whole lineage")
	require.Contains(t, f.events.types(), queue.EventTokenReuse)
}

func TestRefresh_ReuseKeepsFamilyByDefault(t *testing.T) {
	f := newFixture(t, false)
	f.register(t, "a@x.com", "p1")
	ctx := context.Background()

	s1, err := f.svc.Login(ctx, "a@x.com", "p1")
	require.NoError(t, err)
	s2, err := f.svc.Refresh(ctx, s1.RefreshToken)
	require.NoError(t, err)

	_, err = f.svc.Refresh(ctx, s1.RefreshToken)
	require.ErrorIs(t, err, ErrTokenRevoked)

	_, err = f.svc.Refresh(ctx, s2.RefreshToken)
	require.NoError(t, err)
	require.Contains(t, f.events.types(), queue.EventTokenReuse)
}

func TestLogout_Idempotent(t *testing.T) {
	f := newFixture(t, false)
	f.register(t, "a@x.com", "p1")
	ctx := context.Background()
	s, err := f.svc.Login(ctx, "a@x.com", "p1")
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(ctx, s.RefreshToken))
	require.NoError(t, f.svc.Logout(ctx, s.RefreshToken))
	require.NoError(t, f.svc.Logout(ctx, "never-issued"))
	require.NoError(t, f.svc.Logout(ctx, ""))

	_, err = f.svc.Refresh(ctx, s.RefreshToken)
	require.ErrorIs(t, err, ErrUnauthorized)

	logouts := 0
	for _, typ := range f.events.types() {
		if typ == queue.EventSessionLogout {
			logouts++
		}
	}
	require.Equal(t, 1, logouts)
}

func TestLogout_StoreFailure(t *testing.T) {
	f := newFixture(t, false)
	f.db.tokenErr = errors.New("db down")

	err := f.svc.Logout(context.Background(), "some-token")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrUnauthorized)
}

func TestPurgeExpired_KeepsUnexpiredTombstones(t *testing.T) {
	f := newFixture(t, false)
	f.register(t, "a@x.com", "p1")
	ctx := context.Background()
	s1, err := f.svc.Login(ctx, "a@x.com", "p1")
	require.NoError(t, err)
	_, err = f.svc.Refresh(ctx, s1.RefreshToken)
	require.NoError(t, err)

	n, err := f.tokens.PurgeExpired(ctx, 0)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Equal(t, 2, f.db.tokenCount())

	f.tokens.now = func() time.Time { return time.Now().UTC().Add(8 * 24 * time.Hour) }
	n, err = f.tokens.PurgeExpired(ctx, time.Hour)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
}

func TestWalkthrough(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, RegisterInput{Email: "a@x.com", Password: "p1"})
	require.NoError(t, err)

	s1, err := f.svc.Login(ctx, "a@x.com", "p1")
	require.NoError(t, err)
	require.NotEmpty(t, s1.AccessToken)
	require.NotEmpty(t, s1.RefreshToken)

	s2, err := f.svc.Refresh(ctx, s1.RefreshToken)
	require.NoError(t, err)
	_, err = f.svc.Refresh(ctx, s1.RefreshToken)
	require.ErrorIs(t, err, ErrUnauthorized)

	require.NoError(t, f.svc.Logout(ctx, s2.RefreshToken))
	_, err = f.svc.Refresh(ctx, s2.RefreshToken)
	require.ErrorIs(t, err, ErrUnauthorized)

	require.Equal(t, []string{
		queue.EventUserRegistered,
		queue.EventUserLoggedIn,
		queue.EventSessionRefresh,
		queue.EventTokenReuse,
		queue.EventSessionLogout,
	}, f.events.types())
}
