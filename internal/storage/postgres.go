package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"dualauth/internal/models"
)

//go:embed schema.sql
var schema string

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

type PostgresStorage struct {
	pool *pgxpool.Pool
	db   querier
	inTx bool
}

func NewPostgresStorage(ctx context.Context, dbURL string) (*PostgresStorage, error) {
	const op = "storage.NewPostgresStorage"

	pool, err := pgxpool.Connect(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &PostgresStorage{
		pool: pool,
		db:   pool,
	}, nil
}

// Migrate applies the embedded schema. Statements are idempotent.
func (p *PostgresStorage) Migrate(ctx context.Context) error {
	const op = "storage.Migrate"

	if _, err := p.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (p *PostgresStorage) CreateUser(ctx context.Context, user models.User) error {
	const op = "storage.CreateUser"

	query := fmt.Sprintf(`INSERT INTO %s(id, email, password_hash, is_active, user_role, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)`, usersTable)

	_, err := p.db.Exec(ctx, query, user.ID, user.Email, user.PasswordHash, user.IsActive, user.Role, user.CreatedAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, mapError(err))
	}

	return nil
}

const userColumns = "id, email, password_hash, is_active, user_role, created_at"

func scanUser(row pgx.Row) (models.User, error) {
	var user models.User
	err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.IsActive, &user.Role, &user.CreatedAt)
	return user, err
}

func (p *PostgresStorage) GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error) {
	const op = "storage.GetUserByID"

	query := fmt.Sprintf("SELECT %s FROM %s WHERE id=$1;", userColumns, usersTable)

	user, err := scanUser(p.db.QueryRow(ctx, query, userID))
	if err != nil {
		return user, fmt.Errorf("%s: %w", op, mapError(err))
	}

	return user, nil
}

func (p *PostgresStorage) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	const op = "storage.GetUserByEmail"

	query := fmt.Sprintf("SELECT %s FROM %s WHERE email=$1;", userColumns, usersTable)

	user, err := scanUser(p.db.QueryRow(ctx, query, email))
	if err != nil {
		return user, fmt.Errorf("%s: %w", op, mapError(err))
	}

	return user, nil
}

func (p *PostgresStorage) ListUsers(ctx context.Context) ([]models.User, error) {
	const op = "storage.ListUsers"

	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY created_at;", userColumns, usersTable)

	rows, err := p.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s (rows): %w", op, err)
	}

	return users, nil
}

func (p *PostgresStorage) AssignRole(ctx context.Context, userID uuid.UUID, role string) error {
	const op = "storage.AssignRole"

	query := fmt.Sprintf("UPDATE %s SET user_role=$1 WHERE id=$2", usersTable)

	tag, err := p.db.Exec(ctx, query, role, userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	return nil
}

func (p *PostgresStorage) CreateAPIKey(ctx context.Context, key models.APIKey) error {
	const op = "storage.CreateAPIKey"

	query := fmt.Sprintf(`INSERT INTO %s(id, key_hash, name, user_id, is_active, scopes, expires_at, created_at, revoked_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`, apiKeysTable)

	_, err := p.db.Exec(ctx, query,
		key.ID, key.KeyHash, key.Name, key.UserID, key.IsActive, key.Scopes, key.ExpiresAt, key.CreatedAt, key.RevokedAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, mapError(err))
	}

	return nil
}

const apiKeyColumns = "id, key_hash, name, user_id, is_active, scopes, expires_at, created_at, revoked_at"

func scanAPIKey(row pgx.Row) (models.APIKey, error) {
	var key models.APIKey
	err := row.Scan(
		&key.ID,
		&key.KeyHash,
		&key.Name,
		&key.UserID,
		&key.IsActive,
		&key.Scopes,
		&key.ExpiresAt,
		&key.CreatedAt,
		&key.RevokedAt,
	)
	return key, err
}

func (p *PostgresStorage) FindActiveAPIKeyByHash(ctx context.Context, keyHash string) (models.APIKey, error) {
	const op = "storage.FindActiveAPIKeyByHash"

	query := fmt.Sprintf(`SELECT %s FROM %s
	WHERE key_hash=$1 AND is_active=TRUE AND revoked_at IS NULL;`, apiKeyColumns, apiKeysTable)

	key, err := scanAPIKey(p.db.QueryRow(ctx, query, keyHash))
	if err != nil {
		return key, fmt.Errorf("%s: %w", op, mapError(err))
	}

	return key, nil
}

func (p *PostgresStorage) GetAPIKeyForUser(ctx context.Context, keyID, userID uuid.UUID) (models.APIKey, error) {
	const op = "storage.GetAPIKeyForUser"

	query := fmt.Sprintf("SELECT %s FROM %s WHERE id=$1 AND user_id=$2;", apiKeyColumns, apiKeysTable)

	key, err := scanAPIKey(p.db.QueryRow(ctx, query, keyID, userID))
	if err != nil {
		return key, fmt.Errorf("%s: %w", op, mapError(err))
	}

	return key, nil
}

func (p *PostgresStorage) ListAPIKeysByUser(ctx context.Context, userID uuid.UUID) ([]models.APIKey, error) {
	const op = "storage.ListAPIKeysByUser"

	query := fmt.Sprintf("SELECT %s FROM %s WHERE user_id=$1 ORDER BY created_at;", apiKeyColumns, apiKeysTable)

	rows, err := p.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	keys := []models.APIKey{}
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s (rows): %w", op, err)
	}

	return keys, nil
}

func (p *PostgresStorage) UpdateAPIKey(ctx context.Context, key models.APIKey) error {
	const op = "storage.UpdateAPIKey"

	query := fmt.Sprintf(`UPDATE %s
	SET name=$2, is_active=$3, scopes=$4, expires_at=$5, revoked_at=$6
	WHERE id=$1`, apiKeysTable)

	tag, err := p.db.Exec(ctx, query, key.ID, key.Name, key.IsActive, key.Scopes, key.ExpiresAt, key.RevokedAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	return nil
}

func (p *PostgresStorage) DeleteAPIKey(ctx context.Context, keyID uuid.UUID) error {
	const op = "storage.DeleteAPIKey"

	query := fmt.Sprintf("DELETE FROM %s WHERE id=$1", apiKeysTable)

	tag, err := p.db.Exec(ctx, query, keyID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	return nil
}

func (p *PostgresStorage) CreateRefreshToken(ctx context.Context, token models.RefreshToken) error {
	const op = "storage.CreateRefreshToken"

	query := fmt.Sprintf(`INSERT INTO %s(id, token, user_id, expires_at, created_at, revoked_at)
	VALUES ($1, $2, $3, $4, $5, $6)`, refreshTokensTable)

	_, err := p.db.Exec(ctx, query, token.ID, token.Token, token.UserID, token.ExpiresAt, token.CreatedAt, token.RevokedAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, mapError(err))
	}

	return nil
}

func (p *PostgresStorage) FindActiveRefreshToken(ctx context.Context, token string, now time.Time) (models.RefreshToken, error) {
	const op = "storage.FindActiveRefreshToken"

	var refreshToken models.RefreshToken
	query := fmt.Sprintf(`SELECT
	id, token, user_id, expires_at, created_at, revoked_at
	FROM %s WHERE token=$1 AND revoked_at IS NULL AND expires_at > $2
	FOR UPDATE;`, refreshTokensTable)

	err := p.db.QueryRow(ctx, query, token, now).Scan(
		&refreshToken.ID,
		&refreshToken.Token,
		&refreshToken.UserID,
		&refreshToken.ExpiresAt,
		&refreshToken.CreatedAt,
		&refreshToken.RevokedAt,
	)
	if err != nil {
		return refreshToken, fmt.Errorf("%s: %w", op, mapError(err))
	}

	return refreshToken, nil
}

func (p *PostgresStorage) RevokeRefreshToken(ctx context.Context, tokenID uuid.UUID, at time.Time) error {
	const op = "storage.RevokeRefreshToken"

	query := fmt.Sprintf(`
      UPDATE %s
         SET revoked_at = $2
       WHERE id = $1 AND revoked_at IS NULL
    `, refreshTokensTable)

	tag, err := p.db.Exec(ctx, query, tokenID, at)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	return nil
}

func (p *PostgresStorage) RevokeAllRefreshTokensForUser(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error) {
	const op = "storage.RevokeAllRefreshTokensForUser"

	query := fmt.Sprintf("UPDATE %s SET revoked_at = $2 WHERE user_id = $1 AND revoked_at IS NULL", refreshTokensTable)

	tag, err := p.db.Exec(ctx, query, userID, at)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return tag.RowsAffected(), nil
}

func (p *PostgresStorage) WithTx(ctx context.Context, fn func(tx Storage) error) error {
	const op = "storage.WithTx"

	if p.inTx {
		return fn(p)
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&PostgresStorage{pool: p.pool, db: tx, inTx: true}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (p *PostgresStorage) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStorage) Close() {
	p.pool.Close()
}

func mapError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
	}

	return err
}

var _ Storage = (*PostgresStorage)(nil)
