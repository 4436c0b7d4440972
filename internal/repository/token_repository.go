package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/book-catalog/internal/database"
	"github.com/iliyamo/book-catalog/internal/model"
)

// TokenRepo persists refresh tokens. Only the SHA-256 hash of a token is
// ever stored; lookups go through the unique 'token_hash' column.
type TokenRepo struct{ DB database.DBTX }

func NewTokenRepo(db database.DBTX) *TokenRepo { return &TokenRepo{DB: db} }

// Create inserts an active refresh token row and returns its ID.
func (r *TokenRepo) Create(ctx context.Context, t *model.RefreshToken) (uint64, error) {
	const op = "repository.TokenRepo.Create"

	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO refresh_tokens (user_id, token_hash, family_id, expires_at, revoked, created_at) VALUES (?,?,?,?,0,?)",
		t.UserID, t.TokenHash, t.FamilyID, t.ExpiresAt.UTC(), t.CreatedAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return uint64(id), nil
}

// FindByHash returns the row for tokenHash or ErrNotFound.
func (r *TokenRepo) FindByHash(ctx context.Context, tokenHash string) (*model.RefreshToken, error) {
	const op = "repository.TokenRepo.FindByHash"

	var (
		t          model.RefreshToken
		replacedBy sql.NullInt64
		revokedAt  sql.NullTime
	)
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, user_id, token_hash, family_id, replaced_by_id, expires_at, revoked, revoked_at, created_at
		   FROM refresh_tokens WHERE token_hash=? LIMIT 1`,
		tokenHash).Scan(&t.ID, &t.UserID, &t.TokenHash, &t.FamilyID, &replacedBy,
		&t.ExpiresAt, &t.Revoked, &revokedAt, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if replacedBy.Valid {
		t.ReplacedByID = uint64(replacedBy.Int64)
	}
	if revokedAt.Valid {
		at := revokedAt.Time
		t.RevokedAt = &at
	}
	return &t, nil
}

// RevokeIfActive marks the token revoked and links it to its successor, but
// only while it is still active. It reports whether this call performed the
// transition; false means another writer revoked it first.
func (r *TokenRepo) RevokeIfActive(ctx context.Context, id, replacedByID uint64, at time.Time) (bool, error) {
	const op = "repository.TokenRepo.RevokeIfActive"

	var replacedBy any
	if replacedByID != 0 {
		replacedBy = replacedByID
	}
	res, err := r.DB.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked=1, revoked_at=?, replaced_by_id=? WHERE id=? AND revoked=0",
		at.UTC(), replacedBy, id)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n == 1, nil
}

// RevokeFamily revokes every still-active token in a lineage.
func (r *TokenRepo) RevokeFamily(ctx context.Context, familyID string, at time.Time) (int64, error) {
	const op = "repository.TokenRepo.RevokeFamily"

	res, err := r.DB.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked=1, revoked_at=? WHERE family_id=? AND revoked=0",
		at.UTC(), familyID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

// DeleteByHash removes the token row. It reports whether a row existed.
func (r *TokenRepo) DeleteByHash(ctx context.Context, tokenHash string) (bool, error) {
	const op = "repository.TokenRepo.DeleteByHash"

	res, err := r.DB.ExecContext(ctx, "DELETE FROM refresh_tokens WHERE token_hash=?", tokenHash)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n > 0, nil
}

// DeleteExpired removes tokens whose expiry is before the cutoff.
func (r *TokenRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	const op = "repository.TokenRepo.DeleteExpired"

	res, err := r.DB.ExecContext(ctx, "DELETE FROM refresh_tokens WHERE expires_at < ?", before.UTC())
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}
