// Package user holds the account entity consumed by auth, cart, and order flows.
package user

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested user does not exist.
var ErrNotFound = errors.New("user not found")

// ErrEmailTaken is returned when registering with an email that is already in use.
var ErrEmailTaken = errors.New("email already in use")

// Roles assignable to a user.
const (
	RoleCustomer = "Customer"
	RoleAdmin    = "Admin"
)

// User represents a registered account.
type User struct {
	ID           uuid.UUID
	FirstName    string
	LastName     string
	Email        string
	Phone        string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Repository defines persistence operations for users.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	Create(ctx context.Context, u *User) error
}
