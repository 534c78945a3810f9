package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid"

	"dualauth/internal/models"
)

type memData struct {
	users         map[uuid.UUID]models.User
	apiKeys       map[uuid.UUID]models.APIKey
	refreshTokens map[uuid.UUID]models.RefreshToken
}

func (d *memData) clone() memData {
	c := memData{
		users:         make(map[uuid.UUID]models.User, len(d.users)),
		apiKeys:       make(map[uuid.UUID]models.APIKey, len(d.apiKeys)),
		refreshTokens: make(map[uuid.UUID]models.RefreshToken, len(d.refreshTokens)),
	}
	for k, v := range d.users {
		c.users[k] = v
	}
	for k, v := range d.apiKeys {
		c.apiKeys[k] = v
	}
	for k, v := range d.refreshTokens {
		c.refreshTokens[k] = v
	}
	return c
}

// MemoryStorage keeps everything in process. It backs tests and the
// no-database local mode. Transactions are serialized.
type MemoryStorage struct {
	mu     *sync.Mutex
	data   *memData
	locked bool
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		mu: &sync.Mutex{},
		data: &memData{
			users:         map[uuid.UUID]models.User{},
			apiKeys:       map[uuid.UUID]models.APIKey{},
			refreshTokens: map[uuid.UUID]models.RefreshToken{},
		},
	}
}

func (m *MemoryStorage) lock() func() {
	if m.locked {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

func (m *MemoryStorage) CreateUser(_ context.Context, user models.User) error {
	const op = "storage.CreateUser"
	defer m.lock()()

	if _, ok := m.data.users[user.ID]; ok {
		return fmt.Errorf("%s: %w: users_pkey", op, ErrConflict)
	}
	for _, u := range m.data.users {
		if u.Email == user.Email {
			return fmt.Errorf("%s: %w: users_email_key", op, ErrConflict)
		}
	}

	m.data.users[user.ID] = user
	return nil
}

func (m *MemoryStorage) GetUserByID(_ context.Context, userID uuid.UUID) (models.User, error) {
	const op = "storage.GetUserByID"
	defer m.lock()()

	user, ok := m.data.users[userID]
	if !ok {
		return models.User{}, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return user, nil
}

func (m *MemoryStorage) GetUserByEmail(_ context.Context, email string) (models.User, error) {
	const op = "storage.GetUserByEmail"
	defer m.lock()()

	for _, u := range m.data.users {
		if u.Email == email {
			return u, nil
		}
	}
	return models.User{}, fmt.Errorf("%s: %w", op, ErrNotFound)
}

func (m *MemoryStorage) ListUsers(_ context.Context) ([]models.User, error) {
	defer m.lock()()

	users := make([]models.User, 0, len(m.data.users))
	for _, u := range m.data.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].CreatedAt.Before(users[j].CreatedAt) })
	return users, nil
}

func (m *MemoryStorage) AssignRole(_ context.Context, userID uuid.UUID, role string) error {
	const op = "storage.AssignRole"
	defer m.lock()()

	user, ok := m.data.users[userID]
	if !ok {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	user.Role = role
	m.data.users[userID] = user
	return nil
}

func (m *MemoryStorage) CreateAPIKey(_ context.Context, key models.APIKey) error {
	const op = "storage.CreateAPIKey"
	defer m.lock()()

	if _, ok := m.data.users[key.UserID]; !ok {
		return fmt.Errorf("%s: unknown user %s", op, key.UserID)
	}
	if _, ok := m.data.apiKeys[key.ID]; ok {
		return fmt.Errorf("%s: %w: api_keys_pkey", op, ErrConflict)
	}
	for _, k := range m.data.apiKeys {
		if k.KeyHash == key.KeyHash {
			return fmt.Errorf("%s: %w: api_keys_key_hash_key", op, ErrConflict)
		}
	}

	m.data.apiKeys[key.ID] = key
	return nil
}

func (m *MemoryStorage) FindActiveAPIKeyByHash(_ context.Context, keyHash string) (models.APIKey, error) {
	const op = "storage.FindActiveAPIKeyByHash"
	defer m.lock()()

	for _, k := range m.data.apiKeys {
		if k.KeyHash == keyHash && k.IsActive && k.RevokedAt == nil {
			return k, nil
		}
	}
	return models.APIKey{}, fmt.Errorf("%s: %w", op, ErrNotFound)
}

func (m *MemoryStorage) GetAPIKeyForUser(_ context.Context, keyID, userID uuid.UUID) (models.APIKey, error) {
	const op = "storage.GetAPIKeyForUser"
	defer m.lock()()

	key, ok := m.data.apiKeys[keyID]
	if !ok || key.UserID != userID {
		return models.APIKey{}, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return key, nil
}

func (m *MemoryStorage) ListAPIKeysByUser(_ context.Context, userID uuid.UUID) ([]models.APIKey, error) {
	defer m.lock()()

	keys := []models.APIKey{}
	for _, k := range m.data.apiKeys {
		if k.UserID == userID {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].CreatedAt.Before(keys[j].CreatedAt) })
	return keys, nil
}

func (m *MemoryStorage) UpdateAPIKey(_ context.Context, key models.APIKey) error {
	const op = "storage.UpdateAPIKey"
	defer m.lock()()

	current, ok := m.data.apiKeys[key.ID]
	if !ok {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	// Identity columns are immutable.
	key.KeyHash = current.KeyHash
	key.UserID = current.UserID
	key.CreatedAt = current.CreatedAt
	m.data.apiKeys[key.ID] = key
	return nil
}

func (m *MemoryStorage) DeleteAPIKey(_ context.Context, keyID uuid.UUID) error {
	const op = "storage.DeleteAPIKey"
	defer m.lock()()

	if _, ok := m.data.apiKeys[keyID]; !ok {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	delete(m.data.apiKeys, keyID)
	return nil
}

func (m *MemoryStorage) CreateRefreshToken(_ context.Context, token models.RefreshToken) error {
	const op = "storage.CreateRefreshToken"
	defer m.lock()()

	if _, ok := m.data.users[token.UserID]; !ok {
		return fmt.Errorf("%s: unknown user %s", op, token.UserID)
	}
	for _, t := range m.data.refreshTokens {
		if t.Token == token.Token || t.ID == token.ID {
			return fmt.Errorf("%s: %w: refresh_tokens_token_key", op, ErrConflict)
		}
	}

	m.data.refreshTokens[token.ID] = token
	return nil
}

func (m *MemoryStorage) FindActiveRefreshToken(_ context.Context, token string, now time.Time) (models.RefreshToken, error) {
	const op = "storage.FindActiveRefreshToken"
	defer m.lock()()

	for _, t := range m.data.refreshTokens {
		if t.Token == token && t.Usable(now) {
			return t, nil
		}
	}
	return models.RefreshToken{}, fmt.Errorf("%s: %w", op, ErrNotFound)
}

func (m *MemoryStorage) RevokeRefreshToken(_ context.Context, tokenID uuid.UUID, at time.Time) error {
	const op = "storage.RevokeRefreshToken"
	defer m.lock()()

	t, ok := m.data.refreshTokens[tokenID]
	if !ok || t.RevokedAt != nil {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	t.RevokedAt = &at
	m.data.refreshTokens[tokenID] = t
	return nil
}

func (m *MemoryStorage) RevokeAllRefreshTokensForUser(_ context.Context, userID uuid.UUID, at time.Time) (int64, error) {
	defer m.lock()()

	var n int64
	for id, t := range m.data.refreshTokens {
		if t.UserID != userID || t.RevokedAt != nil {
			continue
		}
		revokedAt := at
		t.RevokedAt = &revokedAt
		m.data.refreshTokens[id] = t
		n++
	}
	return n, nil
}

func (m *MemoryStorage) WithTx(_ context.Context, fn func(tx Storage) error) error {
	if m.locked {
		return fn(m)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.data.clone()
	if err := fn(&MemoryStorage{mu: m.mu, data: m.data, locked: true}); err != nil {
		*m.data = snapshot
		return err
	}
	return nil
}

func (m *MemoryStorage) Ping(_ context.Context) error { return nil }

func (m *MemoryStorage) Close() {}

var _ Storage = (*MemoryStorage)(nil)
