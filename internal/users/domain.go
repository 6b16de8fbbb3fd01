package users

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// User is a staff account as listed in the directory.
type User struct {
	ID        uuid.UUID
	Email     string
	Name      string
	IsActive  bool
	RoleIDs   []uuid.UUID
	RoleNames []string
	CreatedAt time.Time
}

// HasRole reports whether the user currently holds the role.
func (u User) HasRole(id uuid.UUID) bool {
	for _, r := range u.RoleIDs {
		if r == id {
			return true
		}
	}
	return false
}

var (
	// ErrNotFound is returned when the user does not exist.
	ErrNotFound = errors.New("users: not found")
	// ErrSelfLockout blocks removing every role from the acting user.
	ErrSelfLockout = errors.New("users: cannot remove all of your own roles")
	// ErrUnknownRole is returned when an assignment names a missing role.
	ErrUnknownRole = errors.New("users: unknown role")
)
