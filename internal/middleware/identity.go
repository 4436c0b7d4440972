package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/book-catalog/internal/model"
)

const identityKey = "identity"

// Identity is the authenticated caller as established by JWTAuth.
type Identity struct {
	UserID    uint64
	Email     string
	Role      model.Role
	TokenID   string
	ExpiresAt time.Time
}

// IsAdmin reports whether the caller holds the Admin role.
func (i Identity) IsAdmin() bool { return i.Role == model.RoleAdmin }

// SetIdentity stores id in the echo context.
func SetIdentity(c echo.Context, id Identity) { c.Set(identityKey, id) }

// IdentityFrom returns the identity stored by JWTAuth, if any.
func IdentityFrom(c echo.Context) (Identity, bool) {
	id, ok := c.Get(identityKey).(Identity)
	return id, ok && id.UserID != 0
}
