package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"golang.org/x/crypto/bcrypt"

	"dualauth/internal/auth"
	"dualauth/internal/config"
	"dualauth/internal/events"
	"dualauth/internal/models"
	"dualauth/internal/storage"
)

const goodPassword = "Secure123!"

type fixture struct {
	svc    *service
	store  *storage.MemoryStorage
	events *events.Recorder
	issuer *auth.Issuer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := &config.Config{
		JWT: config.JWT{
			Secret:     "test-secret",
			Algorithm:  "HS256",
			AccessTTL:  30 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
		},
		Security: config.Security{
			BcryptCost:              bcrypt.MinCost,
			DefaultRole:             models.RoleUser,
			APIKeyDefaultExpiryDays: 90,
			APIKeyMaxExpiryDays:     90,
		},
	}

	issuer, err := auth.NewIssuer(cfg.JWT)
	if err != nil {
		t.Fatalf("NewIssuer() error = %v", err)
	}

	store := storage.NewMemoryStorage()
	rec := &events.Recorder{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	return &fixture{
		svc:    NewService(cfg, store, issuer, rec, log),
		store:  store,
		events: rec,
		issuer: issuer,
	}
}

func (f *fixture) signup(t *testing.T, email, role string) models.User {
	t.Helper()
	user, err := f.svc.Signup(context.Background(), email, goodPassword, role)
	if err != nil {
		t.Fatalf("Signup(%s) error = %v", email, err)
	}
	return user
}

func (f *fixture) login(t *testing.T, email string) TokenPair {
	t.Helper()
	pair, err := f.svc.Login(context.Background(), email, goodPassword)
	if err != nil {
		t.Fatalf("Login(%s) error = %v", email, err)
	}
	return pair
}

func (f *fixture) principal(t *testing.T, credential string) auth.Principal {
	t.Helper()
	p, err := f.svc.Resolve(context.Background(), credential)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	return p
}

func assertKind(t *testing.T, err error, want auth.Kind) *auth.Error {
	t.Helper()
	var authErr *auth.Error
	if !errors.As(err, &authErr) {
		t.Fatalf("error = %v, want *auth.Error of kind %s", err, want)
	}
	if authErr.Kind != want {
		t.Fatalf("kind = %s, want %s (error %v)", authErr.Kind, want, err)
	}
	return authErr
}

func TestSignup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		email    string
		password string
		role     string
		wantRole string
		wantMsg  string
	}{
		{name: "default role", email: "a@x.com", password: goodPassword, wantRole: models.RoleUser},
		{name: "admin role honoured", email: "admin@x.com", password: goodPassword, role: "admin", wantRole: models.RoleAdmin},
		{name: "unknown role falls back", email: "b@x.com", password: goodPassword, role: "root", wantRole: models.RoleUser},
		{name: "duplicate email", email: "a@x.com", password: goodPassword, wantMsg: "Email already registered"},
		{
			name:     "weak password lists every violation",
			email:    "c@x.com",
			password: "abc",
			wantMsg: strings.Join([]string{
				"Password must be at least 8 characters long",
				"Password must contain at least one uppercase letter",
				"Password must contain at least one number (0-9)",
			}, "\n"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, err := f.svc.Signup(ctx, tt.email, tt.password, tt.role)
			if tt.wantMsg != "" {
				authErr := assertKind(t, err, auth.KindValidation)
				if !strings.HasPrefix(authErr.Message, tt.wantMsg) {
					t.Fatalf("message = %q, want prefix %q", authErr.Message, tt.wantMsg)
				}
				return
			}
			if err != nil {
				t.Fatalf("Signup() error = %v", err)
			}
			if user.Role != tt.wantRole || !user.IsActive {
				t.Errorf("user = %+v, want role %s and active", user, tt.wantRole)
			}
			if user.PasswordHash == tt.password || !auth.CheckPasswordHash(user.PasswordHash, tt.password) {
				t.Errorf("password was not hashed")
			}
		})
	}
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signup(t, "a@x.com", "")

	inactive := models.User{
		ID:        uuid.Must(uuid.NewV4()),
		Email:     "off@x.com",
		IsActive:  false,
		Role:      models.RoleUser,
		CreatedAt: time.Now(),
	}
	inactive.PasswordHash, _ = auth.HashPassword(goodPassword, bcrypt.MinCost)
	if err := f.store.CreateUser(ctx, inactive); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}

	pair := f.login(t, "a@x.com")
	if pair.AccessToken == "" || pair.RefreshToken == "" || pair.TokenType != "bearer" {
		t.Fatalf("Login() = %+v", pair)
	}
	if !strings.HasPrefix(pair.RefreshToken, auth.RefreshTokenPrefix) {
		t.Errorf("refresh token %q lacks prefix", pair.RefreshToken)
	}

	rejected := []struct {
		name     string
		email    string
		password string
		reason   error
	}{
		{name: "wrong password", email: "a@x.com", password: "Wrong123!", reason: auth.ErrInvalidCredentials},
		{name: "unknown email", email: "nobody@x.com", password: goodPassword, reason: auth.ErrUnknownPrincipal},
		{name: "inactive user", email: "off@x.com", password: goodPassword, reason: auth.ErrInactivePrincipal},
	}

	for _, tt := range rejected {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Login(ctx, tt.email, tt.password)
			authErr := assertKind(t, err, auth.KindUnauthorized)
			if authErr.Message != "Incorrect email or password" {
				t.Errorf("message = %q, want uniform login message", authErr.Message)
			}
			if !errors.Is(err, tt.reason) {
				t.Errorf("reason = %v, want %v", authErr.Reason, tt.reason)
			}
		})
	}
}

func TestRefresh_RotatesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signup(t, "a@x.com", "")
	original := f.login(t, "a@x.com")

	rotated, err := f.svc.Refresh(ctx, original.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if rotated.RefreshToken == original.RefreshToken {
		t.Fatal("Refresh() returned the same refresh token")
	}
	if rotated.AccessToken == "" || rotated.TokenType != "bearer" {
		t.Fatalf("Refresh() = %+v", rotated)
	}

	_, err = f.svc.Refresh(ctx, original.RefreshToken)
	authErr := assertKind(t, err, auth.KindUnauthorized)
	if authErr.Message != "Invalid or expired refresh token" {
		t.Errorf("message = %q", authErr.Message)
	}

	if _, err := f.svc.Refresh(ctx, rotated.RefreshToken); err != nil {
		t.Fatalf("Refresh(rotated) error = %v", err)
	}

	types := f.events.Types()
	if types[len(types)-1] != events.RefreshRotated {
		t.Errorf("last event = %s, want %s", types[len(types)-1], events.RefreshRotated)
	}
}

func TestRefresh_ConcurrentRotation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signup(t, "a@x.com", "")
	pair := f.login(t, "a@x.com")

	const workers = 20

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Refresh(ctx, pair.RefreshToken)

			mu.Lock()
			defer mu.Unlock()
			var authErr *auth.Error
			switch {
			case err == nil:
				succeeded++
			case errors.As(err, &authErr) && authErr.Kind == auth.KindUnauthorized:
				rejected++
			default:
				t.Errorf("Refresh() unexpected error = %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 || rejected != workers-1 {
		t.Fatalf("succeeded = %d, rejected = %d, want 1 and %d", succeeded, rejected, workers-1)
	}
}

func TestNewService_PanicsOnBadCost(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("NewService() did not panic for an unusable bcrypt cost")
		}
	}()

	cfg := &config.Config{Security: config.Security{BcryptCost: bcrypt.MaxCost + 1}}
	NewService(cfg, storage.NewMemoryStorage(), nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRefresh_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signup(t, "a@x.com", "")
	pair := f.login(t, "a@x.com")

	t.Run("empty", func(t *testing.T) {
		_, err := f.svc.Refresh(ctx, "")
		assertKind(t, err, auth.KindUnauthorized)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := f.svc.Refresh(ctx, "rt_unknown")
		assertKind(t, err, auth.KindUnauthorized)
	})

	t.Run("expired", func(t *testing.T) {
		f.svc.now = func() time.Time { return time.Now().UTC().Add(8 * 24 * time.Hour) }
		defer func() { f.svc.now = func() time.Time { return time.Now().UTC() } }()

		_, err := f.svc.Refresh(ctx, pair.RefreshToken)
		assertKind(t, err, auth.KindUnauthorized)
	})

	t.Run("after logout", func(t *testing.T) {
		user, _ := f.store.GetUserByEmail(ctx, "a@x.com")
		n, err := f.svc.Logout(ctx, user.ID)
		if err != nil || n != 1 {
			t.Fatalf("Logout() = %d, %v, want 1", n, err)
		}
		_, err = f.svc.Refresh(ctx, pair.RefreshToken)
		assertKind(t, err, auth.KindUnauthorized)
	})
}

func TestResolve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.signup(t, "a@x.com", "")
	pair := f.login(t, "a@x.com")

	p := f.principal(t, pair.AccessToken)
	if p.AuthType != auth.AuthTypeJWT || p.User.ID != user.ID || !p.Scopes.Allows("anything") || p.KeyID != nil {
		t.Fatalf("jwt principal = %+v", p)
	}

	readKey, err := f.svc.CreateAPIKey(ctx, p, CreateAPIKeyInput{Scopes: "read, write"})
	if err != nil {
		t.Fatalf("CreateAPIKey() error = %v", err)
	}

	kp := f.principal(t, readKey.Key)
	if kp.AuthType != auth.AuthTypeAPIKey || kp.KeyID == nil || *kp.KeyID != readKey.APIKey.ID {
		t.Fatalf("api key principal = %+v", kp)
	}
	if !kp.Scopes.Allows("read") || kp.Scopes.Allows("admin") {
		t.Errorf("scopes = %v", kp.Scopes)
	}

	expiredJWT, _ := f.issuer.CreateAccessTokenWithTTL(user.Email, user.Role, -time.Second)
	ghostJWT, _ := f.issuer.CreateAccessToken("ghost@x.com", models.RoleUser)

	tests := []struct {
		name       string
		credential string
		reason     error
	}{
		{name: "empty", credential: "", reason: auth.ErrMissingCredentials},
		{name: "garbage jwt", credential: "not.a.jwt", reason: auth.ErrInvalidCredentials},
		{name: "expired jwt", credential: expiredJWT, reason: auth.ErrExpiredCredential},
		{name: "jwt for unknown user", credential: ghostJWT, reason: auth.ErrUnknownPrincipal},
		{name: "unknown api key", credential: auth.APIKeyPrefix + "nope", reason: auth.ErrInvalidCredentials},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Resolve(ctx, tt.credential)
			authErr := assertKind(t, err, auth.KindUnauthorized)
			if authErr.Message != auth.CredentialsMessage {
				t.Errorf("message = %q, want %q", authErr.Message, auth.CredentialsMessage)
			}
			if !errors.Is(err, tt.reason) {
				t.Errorf("reason = %v, want %v", authErr.Reason, tt.reason)
			}
		})
	}
}

func TestResolve_APIKeyLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.signup(t, "a@x.com", "")
	p := f.principal(t, f.login(t, "a@x.com").AccessToken)

	created, err := f.svc.CreateAPIKey(ctx, p, CreateAPIKeyInput{ExpiresInDays: intPtr(1)})
	if err != nil {
		t.Fatalf("CreateAPIKey() error = %v", err)
	}

	t.Run("expired key is distinguishable", func(t *testing.T) {
		f.svc.now = func() time.Time { return time.Now().UTC().Add(48 * time.Hour) }
		defer func() { f.svc.now = func() time.Time { return time.Now().UTC() } }()

		_, err := f.svc.Resolve(ctx, created.Key)
		authErr := assertKind(t, err, auth.KindUnauthorized)
		if !errors.Is(err, auth.ErrExpiredCredential) || authErr.Message != auth.CredentialsMessage {
			t.Errorf("error = %v", err)
		}
	})

	t.Run("revoked key is rejected", func(t *testing.T) {
		revoked, err := f.svc.RevokeAPIKey(ctx, user.ID, created.APIKey.ID)
		if err != nil {
			t.Fatalf("RevokeAPIKey() error = %v", err)
		}
		if revoked.IsActive || revoked.RevokedAt == nil {
			t.Fatalf("revoked key = %+v", revoked)
		}

		again, err := f.svc.RevokeAPIKey(ctx, user.ID, created.APIKey.ID)
		if err != nil || !again.RevokedAt.Equal(*revoked.RevokedAt) {
			t.Fatalf("second RevokeAPIKey() = %+v, %v", again, err)
		}

		_, err = f.svc.Resolve(ctx, created.Key)
		assertKind(t, err, auth.KindUnauthorized)
	})

	t.Run("inactive owner is rejected", func(t *testing.T) {
		owner := models.User{
			ID:        uuid.Must(uuid.NewV4()),
			Email:     "off@x.com",
			IsActive:  false,
			Role:      models.RoleUser,
			CreatedAt: time.Now(),
		}
		_ = f.store.CreateUser(ctx, owner)

		raw, _ := auth.GenerateAPIKey()
		_ = f.store.CreateAPIKey(ctx, models.APIKey{
			ID:        uuid.Must(uuid.NewV4()),
			KeyHash:   auth.HashAPIKey(raw),
			UserID:    owner.ID,
			IsActive:  true,
			CreatedAt: time.Now(),
		})

		_, err := f.svc.Resolve(ctx, raw)
		assertKind(t, err, auth.KindUnauthorized)
		if !errors.Is(err, auth.ErrInactivePrincipal) {
			t.Errorf("error = %v, want ErrInactivePrincipal", err)
		}
	})
}

func TestCreateAPIKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signup(t, "a@x.com", "")
	jwtPrincipal := f.principal(t, f.login(t, "a@x.com").AccessToken)

	readOnly, err := f.svc.CreateAPIKey(ctx, jwtPrincipal, CreateAPIKeyInput{Scopes: "read"})
	if err != nil {
		t.Fatalf("CreateAPIKey() error = %v", err)
	}
	keyPrincipal := f.principal(t, readOnly.Key)

	tests := []struct {
		name      string
		principal auth.Principal
		in        CreateAPIKeyInput
		wantKind  auth.Kind
		wantMsg   string
		wantDays  int
	}{
		{name: "default expiry", principal: jwtPrincipal, wantDays: 90},
		{name: "explicit expiry", principal: jwtPrincipal, in: CreateAPIKeyInput{ExpiresInDays: intPtr(30)}, wantDays: 30},
		{name: "max expiry", principal: jwtPrincipal, in: CreateAPIKeyInput{ExpiresInDays: intPtr(90)}, wantDays: 90},
		{
			name:      "over max expiry",
			principal: jwtPrincipal,
			in:        CreateAPIKeyInput{ExpiresInDays: intPtr(91)},
			wantKind:  auth.KindValidation,
			wantMsg:   "cannot exceed 90 days",
		},
		{
			name:      "zero expiry",
			principal: jwtPrincipal,
			in:        CreateAPIKeyInput{ExpiresInDays: intPtr(0)},
			wantKind:  auth.KindValidation,
			wantMsg:   "at least 1",
		},
		{
			name:      "key cannot widen its scopes",
			principal: keyPrincipal,
			in:        CreateAPIKeyInput{Scopes: "read,write"},
			wantKind:  auth.KindForbidden,
			wantMsg:   "write",
		},
		{name: "key may narrow to its scopes", principal: keyPrincipal, in: CreateAPIKeyInput{Scopes: "read"}, wantDays: 90},
		{
			name:      "wildcard scope",
			principal: jwtPrincipal,
			in:        CreateAPIKeyInput{Scopes: "read, *"},
			wantKind:  auth.KindValidation,
			wantMsg:   "cannot be granted",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := time.Now().UTC()
			created, err := f.svc.CreateAPIKey(ctx, tt.principal, tt.in)
			if tt.wantMsg != "" {
				authErr := assertKind(t, err, tt.wantKind)
				if !strings.Contains(authErr.Message, tt.wantMsg) {
					t.Fatalf("message = %q, want containing %q", authErr.Message, tt.wantMsg)
				}
				return
			}
			if err != nil {
				t.Fatalf("CreateAPIKey() error = %v", err)
			}
			if !strings.HasPrefix(created.Key, auth.APIKeyPrefix) {
				t.Errorf("key %q lacks prefix", created.Key)
			}
			if created.APIKey.KeyHash == created.Key || !auth.VerifyAPIKey(created.Key, created.APIKey.KeyHash) {
				t.Errorf("stored hash does not match raw key")
			}
			want := before.Add(time.Duration(tt.wantDays) * 24 * time.Hour)
			if got := *created.APIKey.ExpiresAt; got.Sub(want) > time.Minute || want.Sub(got) > time.Minute {
				t.Errorf("ExpiresAt = %v, want about %v", got, want)
			}
		})
	}
}

func TestAPIKeyOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.signup(t, "owner@x.com", "")
	other := f.signup(t, "other@x.com", "")
	p := f.principal(t, f.login(t, "owner@x.com").AccessToken)

	created, err := f.svc.CreateAPIKey(ctx, p, CreateAPIKeyInput{Name: strPtr("  ci  ")})
	if err != nil {
		t.Fatalf("CreateAPIKey() error = %v", err)
	}
	if created.APIKey.Name == nil || *created.APIKey.Name != "ci" {
		t.Errorf("Name = %v, want trimmed ci", created.APIKey.Name)
	}

	if _, err := f.svc.RevokeAPIKey(ctx, other.ID, created.APIKey.ID); err == nil {
		t.Fatal("RevokeAPIKey() by non-owner succeeded")
	} else {
		assertKind(t, err, auth.KindNotFound)
	}

	err = f.svc.DeleteAPIKey(ctx, other.ID, created.APIKey.ID)
	assertKind(t, err, auth.KindNotFound)

	keys, _ := f.svc.ListAPIKeys(ctx, other.ID)
	if len(keys) != 0 {
		t.Errorf("other user sees %d keys", len(keys))
	}

	if err := f.svc.DeleteAPIKey(ctx, owner.ID, created.APIKey.ID); err != nil {
		t.Fatalf("DeleteAPIKey() error = %v", err)
	}
	err = f.svc.DeleteAPIKey(ctx, owner.ID, created.APIKey.ID)
	assertKind(t, err, auth.KindNotFound)
}

func TestAssignRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.signup(t, "a@x.com", "")

	_, err := f.svc.AssignRole(ctx, user.ID, "root")
	assertKind(t, err, auth.KindValidation)

	_, err = f.svc.AssignRole(ctx, uuid.Must(uuid.NewV4()), models.RoleAdmin)
	assertKind(t, err, auth.KindNotFound)

	updated, err := f.svc.AssignRole(ctx, user.ID, models.RoleAdmin)
	if err != nil || updated.Role != models.RoleAdmin {
		t.Fatalf("AssignRole() = %+v, %v", updated, err)
	}

	p := f.principal(t, f.login(t, "a@x.com").AccessToken)
	if err := auth.RequireRole(p, models.RoleAdmin); err != nil {
		t.Errorf("RequireRole() after promotion error = %v", err)
	}
}

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }
