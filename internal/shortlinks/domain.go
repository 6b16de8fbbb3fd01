package shortlinks

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Link maps a short code to a destination URL.
type Link struct {
	ID            uuid.UUID
	Code          string
	Name          string
	Destination   string
	ClickCount    int64
	CreatedBy     uuid.UUID
	CreatedAt     time.Time
	LastClickedAt *time.Time
}

// Click describes one redirect through a link.
type Click struct {
	LinkID    uuid.UUID
	At        time.Time
	Referrer  string
	UserAgent string
}

var (
	ErrNotFound     = errors.New("shortlinks: not found")
	ErrCodeTaken    = errors.New("shortlinks: code already in use")
	ErrInvalidInput = errors.New("shortlinks: invalid input")
)
