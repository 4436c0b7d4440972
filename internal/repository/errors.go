// Package repository implements MySQL persistence for users, refresh tokens
// and books. The sentinel values below let higher layers distinguish failure
// scenarios without inspecting driver errors.
package repository

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when the requested row does not exist (or is not
// visible to the caller).
var ErrNotFound = errors.New("not found")

// ErrForbidden is returned when the caller attempts an operation
// on a resource they do not own. Handlers should translate this
// into an HTTP 403 response.
var ErrForbidden = errors.New("forbidden")

// ErrEmailExists is returned when the users.email UNIQUE index rejects an insert.
var ErrEmailExists = errors.New("email already exists")

// ErrUsernameExists is returned when the users.username UNIQUE index rejects an insert.
var ErrUsernameExists = errors.New("username already exists")

const mysqlDuplicateEntry = 1062

// duplicateKey reports whether err is a MySQL duplicate-entry error and, if
// so, the name of the violated index.
func duplicateKey(err error) (string, bool) {
	var me *mysql.MySQLError
	if !errors.As(err, &me) || me.Number != mysqlDuplicateEntry {
		return "", false
	}
	// Message format: Duplicate entry 'x' for key 'users.uq_users_email'
	msg := me.Message
	if i := strings.LastIndex(msg, "for key "); i >= 0 {
		return strings.Trim(msg[i+len("for key "):], "'` "), true
	}
	return "", true
}
