package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chocomarket/backend/internal/domain/user"
)

const (
	getUserByIDSQL = `SELECT id, first_name, last_name, email, phone, password_hash, role, created_at, updated_at
		FROM users WHERE id = $1`

	getUserByEmailSQL = `SELECT id, first_name, last_name, email, phone, password_hash, role, created_at, updated_at
		FROM users WHERE lower(email) = lower($1)`

	createUserSQL = `INSERT INTO users (id, first_name, last_name, email, phone, password_hash, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
)

var _ user.Repository = (*UserRepository)(nil)

// UserRepository implements user.Repository backed by PostgreSQL.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a UserRepository that uses the given pool.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// GetByID returns a user by its identifier.
func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*user.User, error) {
	rows, err := r.pool.Query(ctx, getUserByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting user %s: %w", id, err)
	}

	u, err := pgx.CollectExactlyOneRow(rows, scanUser)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, user.ErrNotFound
		}
		return nil, fmt.Errorf("getting user %s: %w", id, err)
	}
	return &u, nil
}

// GetByEmail returns a user by email, case-insensitively.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*user.User, error) {
	rows, err := r.pool.Query(ctx, getUserByEmailSQL, email)
	if err != nil {
		return nil, fmt.Errorf("getting user by email: %w", err)
	}

	u, err := pgx.CollectExactlyOneRow(rows, scanUser)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, user.ErrNotFound
		}
		return nil, fmt.Errorf("getting user by email: %w", err)
	}
	return &u, nil
}

// Create persists a new user. A duplicate email maps to user.ErrEmailTaken.
func (r *UserRepository) Create(ctx context.Context, u *user.User) error {
	var phone *string
	if u.Phone != "" {
		phone = &u.Phone
	}

	_, err := r.pool.Exec(ctx, createUserSQL,
		u.ID, u.FirstName, u.LastName, u.Email, phone, u.PasswordHash, u.Role, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "users_email_key") {
			return user.ErrEmailTaken
		}
		return fmt.Errorf("creating user %s: %w", u.ID, err)
	}
	return nil
}

func scanUser(row pgx.CollectableRow) (user.User, error) {
	var (
		u     user.User
		phone *string
	)
	err := row.Scan(
		&u.ID, &u.FirstName, &u.LastName, &u.Email, &phone,
		&u.PasswordHash, &u.Role, &u.CreatedAt, &u.UpdatedAt,
	)
	if phone != nil {
		u.Phone = *phone
	}
	return u, err
}
