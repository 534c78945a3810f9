package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gofrs/uuid"

	"dualauth/internal/auth"
	"dualauth/internal/config"
	"dualauth/internal/events"
	"dualauth/internal/models"
	"dualauth/internal/storage"
)

const (
	tokenTypeBearer = "bearer"

	msgEmailTaken         = "Email already registered"
	msgIncorrectLogin     = "Incorrect email or password"
	msgInvalidRefresh     = "Invalid or expired refresh token"
	msgAPIKeyNotFound     = "API key not found"
	msgUserNotFound       = "User not found"
	msgUnknownRole        = "Role must be one of: user, admin"
	msgExpiryTooShort     = "expires_in_days must be at least 1"
	msgExpiryTooLongFmt   = "API key expiry cannot exceed %d days"
	msgScopeEscalationFmt = "Cannot grant scope beyond the calling key: %s"
	msgWildcardScope      = "Scope \"*\" cannot be granted to an API key"
)

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

type CreateAPIKeyInput struct {
	Name          *string
	ExpiresInDays *int
	Scopes        string
}

// CreatedAPIKey carries the raw secret. It is the only place the secret is ever returned.
type CreatedAPIKey struct {
	Key    string
	APIKey models.APIKey
}

type Service interface {
	Signup(ctx context.Context, email, password, role string) (models.User, error)
	Login(ctx context.Context, email, password string) (TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (TokenPair, error)
	Logout(ctx context.Context, userID uuid.UUID) (int64, error)

	// Resolve turns a bearer credential into a principal. Every failure is Unauthorized.
	Resolve(ctx context.Context, credential string) (auth.Principal, error)

	CreateAPIKey(ctx context.Context, p auth.Principal, in CreateAPIKeyInput) (CreatedAPIKey, error)
	ListAPIKeys(ctx context.Context, userID uuid.UUID) ([]models.APIKey, error)
	RevokeAPIKey(ctx context.Context, userID, keyID uuid.UUID) (models.APIKey, error)
	DeleteAPIKey(ctx context.Context, userID, keyID uuid.UUID) error

	ListUsers(ctx context.Context) ([]models.User, error)
	AssignRole(ctx context.Context, userID uuid.UUID, role string) (models.User, error)

	Ping(ctx context.Context) error
}

type service struct {
	jwt      config.JWT
	security config.Security
	issuer   *auth.Issuer
	storage  storage.Storage
	events   events.Publisher
	log      *slog.Logger
	now      func() time.Time

	// dummyHash is compared against when the email is unknown.
	dummyHash string
}

func NewService(cfg *config.Config, st storage.Storage, issuer *auth.Issuer, pub events.Publisher, log *slog.Logger) *service {
	if pub == nil {
		pub = events.NopPublisher{}
	}

	dummyHash, err := auth.HashPassword(uuid.Must(uuid.NewV4()).String(), cfg.Security.BcryptCost)
	if err != nil {
		panic(fmt.Sprintf("service.NewService: dummy hash: %v", err))
	}

	return &service{
		jwt:       cfg.JWT,
		security:  cfg.Security,
		issuer:    issuer,
		storage:   st,
		events:    pub,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
		dummyHash: dummyHash,
	}
}

func (s *service) Signup(ctx context.Context, email, password, role string) (models.User, error) {
	const op = "service.Signup"

	if violations := auth.ValidatePassword(password); len(violations) > 0 {
		return models.User{}, auth.Validation(strings.Join(violations, "\n"))
	}

	if _, err := s.storage.GetUserByEmail(ctx, email); err == nil {
		return models.User{}, auth.Validation(msgEmailTaken)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	passwordHash, err := auth.HashPassword(password, s.security.BcryptCost)
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	id, err := uuid.NewV4()
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	user := models.User{
		ID:           id,
		Email:        email,
		PasswordHash: passwordHash,
		IsActive:     true,
		Role:         s.signupRole(role),
		CreatedAt:    s.now(),
	}

	if err := s.storage.CreateUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return models.User{}, auth.Validation(msgEmailTaken)
		}
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	s.publish(ctx, events.New(events.UserSignedUp, user.ID.String(), map[string]string{"role": user.Role}))

	return user, nil
}

func (s *service) signupRole(requested string) string {
	switch requested {
	case models.RoleUser, models.RoleAdmin:
		return requested
	default:
		return s.security.DefaultRole
	}
}

func (s *service) Login(ctx context.Context, email, password string) (TokenPair, error) {
	const op = "service.Login"

	user, err := s.storage.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Burn a comparison so unknown emails cost the same as wrong passwords.
			auth.CheckPasswordHash(s.dummyHash, password)
			return TokenPair{}, loginRejected(auth.ErrUnknownPrincipal)
		}
		return TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	if !auth.CheckPasswordHash(user.PasswordHash, password) {
		return TokenPair{}, loginRejected(auth.ErrInvalidCredentials)
	}

	if !user.IsActive {
		return TokenPair{}, loginRejected(auth.ErrInactivePrincipal)
	}

	pair, err := s.issuePair(ctx, s.storage, user)
	if err != nil {
		return TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	return pair, nil
}

func loginRejected(reason error) *auth.Error {
	return &auth.Error{Kind: auth.KindUnauthorized, Message: msgIncorrectLogin, Reason: reason}
}

func refreshRejected(reason error) *auth.Error {
	return &auth.Error{Kind: auth.KindUnauthorized, Message: msgInvalidRefresh, Reason: reason}
}

// issuePair stores a new refresh token through st and mints an access token.
func (s *service) issuePair(ctx context.Context, st storage.Storage, user models.User) (TokenPair, error) {
	raw, err := auth.GenerateRefreshToken()
	if err != nil {
		return TokenPair{}, err
	}

	id, err := uuid.NewV4()
	if err != nil {
		return TokenPair{}, err
	}

	now := s.now()
	refreshToken := models.RefreshToken{
		ID:        id,
		Token:     raw,
		UserID:    user.ID,
		ExpiresAt: now.Add(s.jwt.RefreshTTL),
		CreatedAt: now,
	}
	if err := st.CreateRefreshToken(ctx, refreshToken); err != nil {
		return TokenPair{}, err
	}

	accessToken, err := s.issuer.CreateAccessToken(user.Email, user.Role)
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:  accessToken,
		RefreshToken: raw,
		TokenType:    tokenTypeBearer,
	}, nil
}

func (s *service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	const op = "service.Refresh"

	if refreshToken == "" {
		return TokenPair{}, refreshRejected(auth.ErrMissingCredentials)
	}

	var (
		pair   TokenPair
		userID uuid.UUID
	)

	err := s.storage.WithTx(ctx, func(tx storage.Storage) error {
		now := s.now()

		current, err := tx.FindActiveRefreshToken(ctx, refreshToken, now)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return refreshRejected(auth.ErrInvalidCredentials)
			}
			return err
		}

		user, err := tx.GetUserByID(ctx, current.UserID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return refreshRejected(auth.ErrOrphanedCredential)
			}
			return err
		}
		if !user.IsActive {
			return refreshRejected(auth.ErrInactivePrincipal)
		}

		if err := tx.RevokeRefreshToken(ctx, current.ID, now); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return refreshRejected(auth.ErrInvalidCredentials)
			}
			return err
		}

		pair, err = s.issuePair(ctx, tx, user)
		if err != nil {
			return err
		}

		userID = user.ID
		return nil
	})
	if err != nil {
		if auth.KindOf(err) != auth.KindInternal {
			return TokenPair{}, err
		}
		return TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	s.publish(ctx, events.New(events.RefreshRotated, userID.String(), nil))

	return pair, nil
}

func (s *service) Logout(ctx context.Context, userID uuid.UUID) (int64, error) {
	const op = "service.Logout"

	n, err := s.storage.RevokeAllRefreshTokensForUser(ctx, userID, s.now())
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	s.publish(ctx, events.New(events.UserLoggedOut, userID.String(), map[string]string{
		"revoked": fmt.Sprint(n),
	}))

	return n, nil
}

func (s *service) ListUsers(ctx context.Context) ([]models.User, error) {
	const op = "service.ListUsers"

	users, err := s.storage.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return users, nil
}

func (s *service) AssignRole(ctx context.Context, userID uuid.UUID, role string) (models.User, error) {
	const op = "service.AssignRole"

	if role != models.RoleUser && role != models.RoleAdmin {
		return models.User{}, auth.Validation(msgUnknownRole)
	}

	if err := s.storage.AssignRole(ctx, userID, role); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.User{}, auth.NotFound(msgUserNotFound)
		}
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	user, err := s.storage.GetUserByID(ctx, userID)
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	s.publish(ctx, events.New(events.UserRoleChanged, userID.String(), map[string]string{"role": role}))

	return user, nil
}

func (s *service) Ping(ctx context.Context) error {
	return s.storage.Ping(ctx)
}

func (s *service) publish(ctx context.Context, event events.Event) {
	if err := s.events.Publish(ctx, event); err != nil {
		s.log.Warn("failed to publish event",
			slog.String("type", event.Type),
			slog.String("user_id", event.UserID),
			slog.Any("error", err),
		)
	}
}
