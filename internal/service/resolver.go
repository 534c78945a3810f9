package service

import (
	"context"
	"errors"
	"fmt"

	"dualauth/internal/auth"
	"dualauth/internal/models"
	"dualauth/internal/storage"
)

func (s *service) Resolve(ctx context.Context, credential string) (auth.Principal, error) {
	const op = "service.Resolve"

	if credential == "" {
		return auth.Principal{}, auth.Unauthorized(auth.ErrMissingCredentials)
	}

	var (
		p   auth.Principal
		err error
	)
	switch auth.Classify(credential) {
	case auth.CredentialAPIKey:
		p, err = s.resolveAPIKey(ctx, credential)
	default:
		p, err = s.resolveJWT(ctx, credential)
	}
	if err != nil {
		if auth.KindOf(err) == auth.KindUnauthorized {
			return auth.Principal{}, err
		}
		// Storage faults are still reported to the caller as a rejection.
		return auth.Principal{}, auth.Unauthorized(fmt.Errorf("%s: %w", op, err))
	}

	return p, nil
}

func (s *service) resolveAPIKey(ctx context.Context, raw string) (auth.Principal, error) {
	digest := auth.HashAPIKey(raw)

	key, err := s.storage.FindActiveAPIKeyByHash(ctx, digest)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return auth.Principal{}, auth.Unauthorized(auth.ErrInvalidCredentials)
		}
		return auth.Principal{}, err
	}
	if !auth.VerifyAPIKey(raw, key.KeyHash) {
		return auth.Principal{}, auth.Unauthorized(auth.ErrInvalidCredentials)
	}

	if !key.Usable(s.now()) {
		return auth.Principal{}, auth.Unauthorized(auth.ErrExpiredCredential)
	}

	user, err := s.storage.GetUserByID(ctx, key.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return auth.Principal{}, auth.Unauthorized(auth.ErrOrphanedCredential)
		}
		return auth.Principal{}, err
	}

	if err := checkActive(user); err != nil {
		return auth.Principal{}, err
	}

	keyID := key.ID
	return auth.Principal{
		User:     user,
		AuthType: auth.AuthTypeAPIKey,
		Scopes:   auth.ParseScopes(key.Scopes),
		KeyID:    &keyID,
	}, nil
}

func (s *service) resolveJWT(ctx context.Context, token string) (auth.Principal, error) {
	claims, err := s.issuer.VerifyAccessToken(token)
	if err != nil {
		return auth.Principal{}, auth.Unauthorized(err)
	}

	user, err := s.storage.GetUserByEmail(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return auth.Principal{}, auth.Unauthorized(auth.ErrUnknownPrincipal)
		}
		return auth.Principal{}, err
	}

	if err := checkActive(user); err != nil {
		return auth.Principal{}, err
	}

	return auth.Principal{
		User:     user,
		AuthType: auth.AuthTypeJWT,
		Scopes:   auth.AllScopes(),
	}, nil
}

func checkActive(user models.User) error {
	if !user.IsActive {
		return auth.Unauthorized(auth.ErrInactivePrincipal)
	}
	return nil
}
