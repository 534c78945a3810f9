package models

import (
	"time"

	"github.com/gofrs/uuid"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	IsActive     bool      `json:"is_active"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// APIKey never holds the raw secret; KeyHash is its SHA-256 hex digest.
type APIKey struct {
	ID        uuid.UUID  `json:"id"`
	KeyHash   string     `json:"-"`
	Name      *string    `json:"name"`
	UserID    uuid.UUID  `json:"user_id"`
	IsActive  bool       `json:"is_active"`
	Scopes    string     `json:"scopes"`
	ExpiresAt *time.Time `json:"expires_at"`
	CreatedAt time.Time  `json:"created_at"`
	RevokedAt *time.Time `json:"revoked_at"`
}

// Usable reports whether the key may authenticate at the given instant.
func (k APIKey) Usable(now time.Time) bool {
	if !k.IsActive || k.RevokedAt != nil {
		return false
	}
	return k.ExpiresAt == nil || k.ExpiresAt.After(now)
}

type RefreshToken struct {
	ID        uuid.UUID
	Token     string
	UserID    uuid.UUID
	ExpiresAt time.Time
	CreatedAt time.Time
	RevokedAt *time.Time
}

func (t RefreshToken) Usable(now time.Time) bool {
	return t.RevokedAt == nil && t.ExpiresAt.After(now)
}
