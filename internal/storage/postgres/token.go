package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chocomarket/backend/internal/domain/auth"
)

const (
	getRefreshTokenSQL = `SELECT id, token, user_id, expires_at, revoked, created_at, revoked_at
		FROM refresh_tokens WHERE token = $1`

	createRefreshTokenSQL = `INSERT INTO refresh_tokens (id, token, user_id, expires_at, revoked, created_at)
		VALUES ($1, $2, $3, $4, FALSE, $5)`

	revokeRefreshTokenSQL = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2
		WHERE id = $1 AND NOT revoked`

	revokeAllRefreshTokensSQL = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = now()
		WHERE user_id = $1 AND NOT revoked`
)

var _ auth.RefreshTokenRepository = (*RefreshTokenRepository)(nil)

// RefreshTokenRepository implements auth.RefreshTokenRepository backed by
// PostgreSQL.
type RefreshTokenRepository struct {
	pool *pgxpool.Pool
}

// NewRefreshTokenRepository returns a RefreshTokenRepository that uses the
// given pool.
func NewRefreshTokenRepository(pool *pgxpool.Pool) *RefreshTokenRepository {
	return &RefreshTokenRepository{pool: pool}
}

// GetByToken returns the stored token by its opaque value. An unknown value
// maps to auth.ErrInvalidRefreshToken.
func (r *RefreshTokenRepository) GetByToken(ctx context.Context, token string) (*auth.RefreshToken, error) {
	rows, err := r.pool.Query(ctx, getRefreshTokenSQL, token)
	if err != nil {
		return nil, fmt.Errorf("getting refresh token: %w", err)
	}

	t, err := pgx.CollectExactlyOneRow(rows, scanRefreshToken)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrInvalidRefreshToken
		}
		return nil, fmt.Errorf("getting refresh token: %w", err)
	}
	return &t, nil
}

// Create persists a new refresh token.
func (r *RefreshTokenRepository) Create(ctx context.Context, t *auth.RefreshToken) error {
	_, err := r.pool.Exec(ctx, createRefreshTokenSQL,
		t.ID, t.Token, t.UserID, t.ExpiresAt, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating refresh token %s: %w", t.ID, err)
	}
	return nil
}

// Revoke marks a single token revoked. Revoking twice is a no-op.
func (r *RefreshTokenRepository) Revoke(ctx context.Context, id uuid.UUID, at time.Time) error {
	if _, err := r.pool.Exec(ctx, revokeRefreshTokenSQL, id, at); err != nil {
		return fmt.Errorf("revoking refresh token %s: %w", id, err)
	}
	return nil
}

// RevokeAllForUser revokes every active token held by the user.
func (r *RefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID uuid.UUID) error {
	if _, err := r.pool.Exec(ctx, revokeAllRefreshTokensSQL, userID); err != nil {
		return fmt.Errorf("revoking refresh tokens for user %s: %w", userID, err)
	}
	return nil
}

func scanRefreshToken(row pgx.CollectableRow) (auth.RefreshToken, error) {
	var t auth.RefreshToken
	err := row.Scan(
		&t.ID, &t.Token, &t.UserID, &t.ExpiresAt, &t.Revoked, &t.CreatedAt, &t.RevokedAt,
	)
	return t, err
}
