package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/iliyamo/book-catalog/internal/database"
	"github.com/iliyamo/book-catalog/internal/model"
)

const userColumns = "id, username, email, password_hash, role, created_at, updated_at"

// UserRepo reads and writes the 'users' table.
type UserRepo struct{ DB database.DBTX }

func NewUserRepo(db database.DBTX) *UserRepo { return &UserRepo{DB: db} }

// Create inserts u and returns its ID. Email is normalized to lower case and
// an empty username is stored as NULL.
func (r *UserRepo) Create(ctx context.Context, u *model.User) (uint64, error) {
	const op = "repository.UserRepo.Create"

	email := NormalizeEmail(u.Email)
	role := u.Role
	if role == "" {
		role = model.RoleUser
	}
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO users (username, email, password_hash, role) VALUES (?,?,?,?)",
		nullString(u.Username), email, u.PasswordHash, string(role))
	if err != nil {
		if key, ok := duplicateKey(err); ok {
			if strings.Contains(key, "username") {
				return 0, ErrUsernameExists
			}
			return 0, ErrEmailExists
		}
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return uint64(id), nil
}

// GetByEmail fetches a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.getOne(ctx, "repository.UserRepo.GetByEmail",
		"SELECT "+userColumns+" FROM users WHERE email=? LIMIT 1", NormalizeEmail(email))
}

// GetByUsername fetches a user by exact username.
func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.getOne(ctx, "repository.UserRepo.GetByUsername",
		"SELECT "+userColumns+" FROM users WHERE username=? LIMIT 1", strings.TrimSpace(username))
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (*model.User, error) {
	return r.getOne(ctx, "repository.UserRepo.GetByID",
		"SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1", id)
}

func (r *UserRepo) getOne(ctx context.Context, op, query string, arg any) (*model.User, error) {
	var (
		u        model.User
		username sql.NullString
		role     string
	)
	err := r.DB.QueryRowContext(ctx, query, arg).
		Scan(&u.ID, &username, &u.Email, &u.PasswordHash, &role, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	u.Username = username.String
	u.Role = model.Role(role)
	return &u, nil
}

// NormalizeEmail trims and lower-cases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func nullString(s string) sql.NullString {
	s = strings.TrimSpace(s)
	return sql.NullString{String: s, Valid: s != ""}
}
