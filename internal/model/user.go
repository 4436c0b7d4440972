package model

import "time"

// Role is the flat authorization level carried in access tokens.
type Role string

const (
	RoleUser  Role = "User"
	RoleAdmin Role = "Admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// User represents an application user record as stored in the
// `users` table. Username is optional; when set it is unique and
// can be used instead of the email to log in.
//
// Fields:
//
//	ID           – primary key identifier of the user.
//	Username     – optional unique login name.
//	Email        – unique, lower-cased email address.
//	PasswordHash – bcrypt digest; never serialized or logged.
//	Role         – User or Admin.
//	CreatedAt    – timestamp of creation.
//	UpdatedAt    – timestamp of last update.
type User struct {
	ID           uint64    // users.id
	Username     string    // users.username (NULL when empty)
	Email        string    // users.email
	PasswordHash string    // users.password_hash
	Role         Role      // users.role
	CreatedAt    time.Time // users.created_at
	UpdatedAt    time.Time // users.updated_at
}

// RefreshToken models an entry in the `refresh_tokens` table. Only the
// SHA-256 hash of the opaque token is stored. Rows descended from one login
// share FamilyID; a rotated row keeps Revoked=true and points at its
// successor through ReplacedByID.
//
// Fields:
//
//	ID           – primary key identifier.
//	UserID       – owner of the token.
//	TokenHash    – SHA-256 hex digest of the token value.
//	FamilyID     – lineage identifier shared across rotations.
//	ReplacedByID – id of the token minted when this one was rotated (0 if none).
//	ExpiresAt    – expiration timestamp of the token.
//	Revoked      – set once, never cleared.
//	RevokedAt    – when the token was revoked (nil while active).
//	CreatedAt    – timestamp of creation.
type RefreshToken struct {
	ID           uint64     // refresh_tokens.id
	UserID       uint64     // refresh_tokens.user_id
	TokenHash    string     // refresh_tokens.token_hash
	FamilyID     string     // refresh_tokens.family_id
	ReplacedByID uint64     // refresh_tokens.replaced_by_id (nullable)
	ExpiresAt    time.Time  // refresh_tokens.expires_at
	Revoked      bool       // refresh_tokens.revoked
	RevokedAt    *time.Time // refresh_tokens.revoked_at (nullable)
	CreatedAt    time.Time  // refresh_tokens.created_at
}

// Active reports whether the token can still be exchanged at now.
func (t *RefreshToken) Active(now time.Time) bool {
	return !t.Revoked && !now.After(t.ExpiresAt)
}
