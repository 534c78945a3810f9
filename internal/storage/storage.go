package storage

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid"

	"dualauth/internal/models"
)

const (
	usersTable         = "users"
	apiKeysTable       = "api_keys"
	refreshTokensTable = "refresh_tokens"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("unique constraint violated")
)

type Storage interface {

	// Users
	CreateUser(ctx context.Context, user models.User) error
	GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	AssignRole(ctx context.Context, userID uuid.UUID, role string) error

	// API keys
	CreateAPIKey(ctx context.Context, key models.APIKey) error
	// FindActiveAPIKeyByHash returns an active, unrevoked key regardless of expiry.
	FindActiveAPIKeyByHash(ctx context.Context, keyHash string) (models.APIKey, error)
	GetAPIKeyForUser(ctx context.Context, keyID, userID uuid.UUID) (models.APIKey, error)
	ListAPIKeysByUser(ctx context.Context, userID uuid.UUID) ([]models.APIKey, error)
	UpdateAPIKey(ctx context.Context, key models.APIKey) error
	DeleteAPIKey(ctx context.Context, keyID uuid.UUID) error

	// Refresh tokens
	CreateRefreshToken(ctx context.Context, token models.RefreshToken) error
	// FindActiveRefreshToken returns an unrevoked token whose expiry is after now.
	FindActiveRefreshToken(ctx context.Context, token string, now time.Time) (models.RefreshToken, error)
	// RevokeRefreshToken only affects a token that is not yet revoked; otherwise ErrNotFound.
	RevokeRefreshToken(ctx context.Context, tokenID uuid.UUID, at time.Time) error
	RevokeAllRefreshTokensForUser(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error)

	// WithTx runs fn against a Storage bound to one transaction. The transaction
	// commits when fn returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(tx Storage) error) error

	Ping(ctx context.Context) error
	Close()
}
