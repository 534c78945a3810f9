package auth

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gofrs/uuid"

	"dualauth/internal/models"
)

type AuthType string

const (
	AuthTypeJWT    AuthType = "jwt"
	AuthTypeAPIKey AuthType = "api_key"
)

// ScopeAll grants every scope.
const ScopeAll = "*"

// Scopes is the permission set of a resolved principal.
type Scopes []string

// AllScopes is the set carried by interactive JWT sessions.
func AllScopes() Scopes {
	return Scopes{ScopeAll}
}

// ParseScopes splits a comma-delimited list, trimming blanks and dropping duplicates.
func ParseScopes(raw string) Scopes {
	scopes := Scopes{}
	for _, part := range strings.Split(raw, ",") {
		s := strings.TrimSpace(part)
		if s == "" || slices.Contains(scopes, s) {
			continue
		}
		scopes = append(scopes, s)
	}
	return scopes
}

func (s Scopes) String() string {
	return strings.Join(s, ",")
}

func (s Scopes) Allows(name string) bool {
	return slices.Contains(s, ScopeAll) || slices.Contains(s, name)
}

// Principal is the authenticated user plus the authorization context of the request.
type Principal struct {
	User     models.User
	AuthType AuthType
	Scopes   Scopes

	// KeyID is set only when AuthType is AuthTypeAPIKey.
	KeyID *uuid.UUID
}

func (p Principal) IsAdmin() bool {
	return p.User.Role == models.RoleAdmin
}

func RequireRole(p Principal, role string) error {
	if p.User.Role != role {
		msg := "Admin privileges required"
		if role != models.RoleAdmin {
			msg = fmt.Sprintf("Role %s required", role)
		}
		return Forbidden(msg, ErrInsufficientRole)
	}
	return nil
}

func RequireScope(p Principal, scope string) error {
	if !p.Scopes.Allows(scope) {
		return Forbidden("Missing required scope: "+scope, ErrMissingScope)
	}
	return nil
}

func RequireAuthType(p Principal, t AuthType) error {
	if p.AuthType != t {
		msg := "This endpoint requires API key authentication"
		if t == AuthTypeJWT {
			msg = "This endpoint requires token authentication"
		}
		return Forbidden(msg, ErrWrongAuthType)
	}
	return nil
}
