package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"dualauth/internal/config"
)

// Claims carried by access tokens. Subject is the user's email.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies access tokens with a symmetric key.
type Issuer struct {
	key    []byte
	method jwt.SigningMethod
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(cfg config.JWT) (*Issuer, error) {
	const op = "auth.NewIssuer"

	if cfg.Secret == "" {
		return nil, fmt.Errorf("%s: empty signing key", op)
	}

	method, ok := jwt.GetSigningMethod(cfg.Algorithm).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("%s: unsupported signing algorithm %q", op, cfg.Algorithm)
	}

	if cfg.AccessTTL <= 0 {
		return nil, fmt.Errorf("%s: access ttl must be positive", op)
	}

	return &Issuer{
		key:    []byte(cfg.Secret),
		method: method,
		ttl:    cfg.AccessTTL,
		now:    time.Now,
	}, nil
}

// CreateAccessToken signs a token for subject with the configured ttl.
func (i *Issuer) CreateAccessToken(subject, role string) (string, error) {
	return i.CreateAccessTokenWithTTL(subject, role, i.ttl)
}

func (i *Issuer) CreateAccessTokenWithTTL(subject, role string, ttl time.Duration) (string, error) {
	const op = "auth.CreateAccessToken"

	if subject == "" {
		return "", fmt.Errorf("%s: %w", op, ErrMissingSubject)
	}

	now := i.now()
	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(i.method, claims).SignedString(i.key)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return signed, nil
}

// VerifyAccessToken checks signature, algorithm, expiry and subject presence.
func (i *Issuer) VerifyAccessToken(token string) (*Claims, error) {
	claims := &Claims{}

	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return i.key, nil
	},
		jwt.WithValidMethods([]string{i.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredCredential
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidCredentials
	}
	if claims.Subject == "" {
		return nil, ErrMissingSubject
	}

	return claims, nil
}
