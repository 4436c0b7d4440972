package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/book-catalog/internal/logger"
	"github.com/iliyamo/book-catalog/internal/metrics"
	"github.com/iliyamo/book-catalog/internal/model"
	"github.com/iliyamo/book-catalog/internal/queue"
	"github.com/iliyamo/book-catalog/internal/repository"
	"github.com/iliyamo/book-catalog/internal/utils"
)

const publishTimeout = 3 * time.Second

// RotationResult is what a successful rotation hands back to the caller.
type RotationResult struct {
	User         *model.User
	Access       utils.AccessToken
	RefreshToken string              // raw value, returned to the client only
	Row          *model.RefreshToken // the newly stored row
}

// RefreshTokenManager owns the refresh token lifecycle: generation,
// storage, rotation and revocation.
type RefreshTokenManager struct {
	store               repository.CredentialStore
	issuer              *utils.TokenIssuer
	ttl                 time.Duration
	revokeFamilyOnReuse bool
	events              EventPublisher
	now                 func() time.Time
}

// NewRefreshTokenManager wires the manager. events may be nil.
func NewRefreshTokenManager(store repository.CredentialStore, issuer *utils.TokenIssuer, ttl time.Duration, revokeFamilyOnReuse bool, events EventPublisher) *RefreshTokenManager {
	if events == nil {
		events = NopPublisher{}
	}
	return &RefreshTokenManager{
		store:               store,
		issuer:              issuer,
		ttl:                 ttl,
		revokeFamilyOnReuse: revokeFamilyOnReuse,
		events:              events,
		now:                 func() time.Time { return time.Now().UTC() },
	}
}

// TTL returns the refresh token lifetime.
func (m *RefreshTokenManager) TTL() time.Duration { return m.ttl }

// Generate returns a new opaque token value.
func (m *RefreshTokenManager) Generate() (string, error) {
	return utils.GenerateRefreshToken()
}

// Store persists the hash of raw as an active token of userID in familyID,
// using s so that callers can include it in a transaction.
func (m *RefreshTokenManager) Store(ctx context.Context, s repository.CredentialStore, raw string, userID uint64, familyID string) (*model.RefreshToken, error) {
	const op = "service.RefreshTokenManager.Store"

	now := m.now()
	row := &model.RefreshToken{
		UserID:    userID,
		TokenHash: utils.HashRefreshRaw(raw),
		FamilyID:  familyID,
		ExpiresAt: now.Add(m.ttl),
		CreatedAt: now,
	}
	id, err := s.Tokens().Create(ctx, row)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	row.ID = id
	return row, nil
}

// Rotate exchanges raw for a new access token and a new refresh token in the
// same family. Lookup, insert of the successor, the conditional revoke of
// raw and access token issuance run in one transaction: if another request
// rotated raw concurrently, this one rolls back and gets ErrTokenRevoked.
func (m *RefreshTokenManager) Rotate(ctx context.Context, raw string) (*RotationResult, error) {
	const op = "service.RefreshTokenManager.Rotate"

	if raw == "" {
		return nil, ErrInvalidToken
	}
	hash := utils.HashRefreshRaw(raw)
	now := m.now()

	var (
		res    *RotationResult
		reused *model.RefreshToken
	)
	err := m.store.WithinTx(ctx, func(ctx context.Context, tx repository.CredentialStore) error {
		old, err := tx.Tokens().FindByHash(ctx, hash)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidToken
		}
		if err != nil {
			return err
		}
		if old.Revoked {
			reused = old
			return ErrTokenRevoked
		}
		if now.After(old.ExpiresAt) {
			return ErrTokenExpired
		}

		user, err := tx.Users().GetByID(ctx, old.UserID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUserNotFound
		}
		if err != nil {
			return err
		}

		next, err := m.Generate()
		if err != nil {
			return err
		}
		row, err := m.Store(ctx, tx, next, user.ID, old.FamilyID)
		if err != nil {
			return err
		}
		won, err := tx.Tokens().RevokeIfActive(ctx, old.ID, row.ID, now)
		if err != nil {
			return err
		}
		if !won {
			return ErrTokenRevoked
		}

		access, err := m.issuer.Issue(user)
		if err != nil {
			return err
		}
		res = &RotationResult{User: user, Access: access, RefreshToken: next, Row: row}
		return nil
	})

	if reused != nil {
		m.onReuse(ctx, reused, now)
	}
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return nil, err
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return res, nil
}

// onReuse reports a replayed (already rotated or revoked) token and, when
// configured, revokes the rest of its lineage. Runs outside the rotation
// transaction because that transaction is rolled back.
func (m *RefreshTokenManager) onReuse(ctx context.Context, tok *model.RefreshToken, now time.Time) {
	log := logger.From(ctx)
	metrics.RefreshReuse.Inc()
	log.Warn("refresh token reuse detected",
		zap.Uint64("user_id", tok.UserID),
		zap.String("family_id", tok.FamilyID),
		zap.Uint64("token_id", tok.ID))

	if m.revokeFamilyOnReuse {
		n, err := m.store.Tokens().RevokeFamily(ctx, tok.FamilyID, now)
		if err != nil {
			log.Error("revoke token family failed", zap.String("family_id", tok.FamilyID), zap.Error(err))
		} else {
			log.Warn("token family revoked", zap.String("family_id", tok.FamilyID), zap.Int64("tokens", n))
		}
	}
	publish(ctx, m.events, queue.AuthEvent{
		Type:       queue.EventTokenReuse,
		UserID:     tok.UserID,
		FamilyID:   tok.FamilyID,
		TokenID:    tok.ID,
		OccurredAt: now,
	})
}

// Revoke deletes the token row for raw. Unknown or empty tokens are not an error.
func (m *RefreshTokenManager) Revoke(ctx context.Context, raw string) error {
	_, err := m.revoke(ctx, raw)
	return err
}

// revoke returns the deleted row, or nil if there was none.
func (m *RefreshTokenManager) revoke(ctx context.Context, raw string) (*model.RefreshToken, error) {
	const op = "service.RefreshTokenManager.Revoke"

	if raw == "" {
		return nil, nil
	}
	hash := utils.HashRefreshRaw(raw)
	tok, err := m.store.Tokens().FindByHash(ctx, hash)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if _, err := m.store.Tokens().DeleteByHash(ctx, hash); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return tok, nil
}

// PurgeExpired deletes tokens that expired more than retention ago. Revoked
// tokens that have not yet expired are kept.
func (m *RefreshTokenManager) PurgeExpired(ctx context.Context, retention time.Duration) (int64, error) {
	const op = "service.RefreshTokenManager.PurgeExpired"

	n, err := m.store.Tokens().DeleteExpired(ctx, m.now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	metrics.ExpiredTokensPurged.Add(float64(n))
	return n, nil
}

// StartJanitor periodically purges expired refresh tokens until ctx is done.
// A non-positive interval disables it.
func (m *RefreshTokenManager) StartJanitor(ctx context.Context, interval, retention time.Duration) {
	if interval <= 0 {
		return
	}
	log := logger.From(ctx)
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				n, err := m.PurgeExpired(ctx, retention)
				if err != nil {
					log.Error("refresh token janitor failed", zap.Error(err))
					continue
				}
				if n > 0 {
					log.Info("refresh token janitor purged tokens", zap.Int64("count", n))
				}
			}
		}
	}()
}

// publish hands ev to p under a deadline detached from request cancellation.
// Failures are logged only.
func publish(ctx context.Context, p EventPublisher, ev queue.AuthEvent) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := p.Publish(pctx, ev); err != nil {
		logger.From(ctx).Warn("auth event not published", zap.String("event", ev.Type), zap.Error(err))
	}
}
