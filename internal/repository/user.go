package repository

import (
	"context"
	"errors"

	"userdesk/internal/domain"
)

var (
	// ErrNotFound is returned when no user matches the lookup.
	ErrNotFound = errors.New("user not found")
	// ErrEmailExists is returned when a write would duplicate an email and uniqueness was requested.
	ErrEmailExists = errors.New("email already exists")
)

// WriteOptions tunes a single Create or Update call.
type WriteOptions struct {
	// UniqueEmail rejects the write with ErrEmailExists when another record
	// already uses the email. The check and the write are atomic.
	UniqueEmail bool
}

// PatchFunc mutates a user in place during Update.
type PatchFunc func(user *domain.User) error

// UserRepository defines persistence operations for User entities.
type UserRepository interface {
	Init(ctx context.Context) error
	List(ctx context.Context) ([]domain.User, error)
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Create(ctx context.Context, user *domain.User, opts WriteOptions) error
	Update(ctx context.Context, id int64, patch PatchFunc, opts WriteOptions) (*domain.User, error)
	Delete(ctx context.Context, id int64) error
}
