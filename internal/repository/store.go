package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/book-catalog/internal/database"
	"github.com/iliyamo/book-catalog/internal/model"
)

// Users is the user half of the credential store.
type Users interface {
	Create(ctx context.Context, u *model.User) (uint64, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	GetByID(ctx context.Context, id uint64) (*model.User, error)
}

// Tokens is the refresh token half of the credential store.
type Tokens interface {
	Create(ctx context.Context, t *model.RefreshToken) (uint64, error)
	FindByHash(ctx context.Context, tokenHash string) (*model.RefreshToken, error)
	RevokeIfActive(ctx context.Context, id, replacedByID uint64, at time.Time) (bool, error)
	RevokeFamily(ctx context.Context, familyID string, at time.Time) (int64, error)
	DeleteByHash(ctx context.Context, tokenHash string) (bool, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// CredentialStore groups user and token persistence and provides a
// transactional scope. Inside WithinTx, fn receives a store whose Users and
// Tokens run on the transaction; any error returned by fn rolls it back.
type CredentialStore interface {
	Users() Users
	Tokens() Tokens
	WithinTx(ctx context.Context, fn func(ctx context.Context, s CredentialStore) error) error
}

// Store is the MySQL CredentialStore.
type Store struct {
	db   *sql.DB
	q    database.DBTX
	inTx bool
}

// NewStore returns a Store running on db outside of any transaction.
func NewStore(db *sql.DB) *Store { return &Store{db: db, q: db} }

func (s *Store) Users() Users   { return NewUserRepo(s.q) }
func (s *Store) Tokens() Tokens { return NewTokenRepo(s.q) }

// WithinTx runs fn in a new transaction. A store that is already bound to a
// transaction runs fn on the same transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, s CredentialStore) error) error {
	if s.inTx {
		return fn(ctx, s)
	}
	return database.WithTx(ctx, s.db, nil, func(ctx context.Context, tx database.DBTX) error {
		return fn(ctx, &Store{db: s.db, q: tx, inTx: true})
	})
}
