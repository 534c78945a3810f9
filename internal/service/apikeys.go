package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/gofrs/uuid"

	"dualauth/internal/auth"
	"dualauth/internal/events"
	"dualauth/internal/models"
	"dualauth/internal/storage"
)

func (s *service) CreateAPIKey(ctx context.Context, p auth.Principal, in CreateAPIKeyInput) (CreatedAPIKey, error) {
	const op = "service.CreateAPIKey"

	days := s.security.APIKeyDefaultExpiryDays
	if in.ExpiresInDays != nil {
		days = *in.ExpiresInDays
	}
	if days < 1 {
		return CreatedAPIKey{}, auth.Validation(msgExpiryTooShort)
	}
	if days > s.security.APIKeyMaxExpiryDays {
		return CreatedAPIKey{}, auth.Validation(fmt.Sprintf(msgExpiryTooLongFmt, s.security.APIKeyMaxExpiryDays))
	}

	scopes := auth.ParseScopes(in.Scopes)
	if slices.Contains(scopes, auth.ScopeAll) {
		return CreatedAPIKey{}, auth.Validation(msgWildcardScope)
	}
	if p.AuthType == auth.AuthTypeAPIKey {
		for _, scope := range scopes {
			if !p.Scopes.Allows(scope) {
				return CreatedAPIKey{}, auth.Forbidden(fmt.Sprintf(msgScopeEscalationFmt, scope), auth.ErrMissingScope)
			}
		}
	}

	raw, err := auth.GenerateAPIKey()
	if err != nil {
		return CreatedAPIKey{}, fmt.Errorf("%s: %w", op, err)
	}

	id, err := uuid.NewV4()
	if err != nil {
		return CreatedAPIKey{}, fmt.Errorf("%s: %w", op, err)
	}

	now := s.now()
	expiresAt := now.Add(time.Duration(days) * 24 * time.Hour)
	key := models.APIKey{
		ID:        id,
		KeyHash:   auth.HashAPIKey(raw),
		Name:      normalizeName(in.Name),
		UserID:    p.User.ID,
		IsActive:  true,
		Scopes:    scopes.String(),
		ExpiresAt: &expiresAt,
		CreatedAt: now,
	}

	if err := s.storage.CreateAPIKey(ctx, key); err != nil {
		return CreatedAPIKey{}, fmt.Errorf("%s: %w", op, err)
	}

	s.publish(ctx, events.New(events.APIKeyCreated, key.UserID.String(), map[string]string{
		"key_id": key.ID.String(),
		"scopes": key.Scopes,
	}))

	return CreatedAPIKey{Key: raw, APIKey: key}, nil
}

func normalizeName(name *string) *string {
	if name == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*name)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func (s *service) ListAPIKeys(ctx context.Context, userID uuid.UUID) ([]models.APIKey, error) {
	const op = "service.ListAPIKeys"

	keys, err := s.storage.ListAPIKeysByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return keys, nil
}

// RevokeAPIKey deactivates the key. Revoking an already revoked key keeps its first revocation time.
func (s *service) RevokeAPIKey(ctx context.Context, userID, keyID uuid.UUID) (models.APIKey, error) {
	const op = "service.RevokeAPIKey"

	key, err := s.ownedKey(ctx, userID, keyID)
	if err != nil {
		return models.APIKey{}, err
	}

	if key.RevokedAt != nil {
		return key, nil
	}

	now := s.now()
	key.IsActive = false
	key.RevokedAt = &now

	if err := s.storage.UpdateAPIKey(ctx, key); err != nil {
		return models.APIKey{}, fmt.Errorf("%s: %w", op, err)
	}

	s.publish(ctx, events.New(events.APIKeyRevoked, userID.String(), map[string]string{"key_id": keyID.String()}))

	return key, nil
}

func (s *service) DeleteAPIKey(ctx context.Context, userID, keyID uuid.UUID) error {
	const op = "service.DeleteAPIKey"

	if _, err := s.ownedKey(ctx, userID, keyID); err != nil {
		return err
	}

	if err := s.storage.DeleteAPIKey(ctx, keyID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return auth.NotFound(msgAPIKeyNotFound)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	s.publish(ctx, events.New(events.APIKeyDeleted, userID.String(), map[string]string{"key_id": keyID.String()}))

	return nil
}

func (s *service) ownedKey(ctx context.Context, userID, keyID uuid.UUID) (models.APIKey, error) {
	const op = "service.ownedKey"

	key, err := s.storage.GetAPIKeyForUser(ctx, keyID, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.APIKey{}, auth.NotFound(msgAPIKeyNotFound)
		}
		return models.APIKey{}, fmt.Errorf("%s: %w", op, err)
	}

	return key, nil
}
