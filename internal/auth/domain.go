package auth

import (
	"time"

	"github.com/google/uuid"
)

// User represents an authenticated staff account.
type User struct {
	ID           uuid.UUID
	Email        string
	FullName     string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
