package repository

import (
	"context"
	"errors"

	"auth-service/internal/user/domain"
)

var (
	// ErrDuplicateEmail is returned by Save when another user has the email.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrDuplicateUsername is returned by Save when another user has the username.
	ErrDuplicateUsername = errors.New("username already taken")
)

// Repository defines persistence for users. Finders return (nil, nil) when no
// row matches; errors are reserved for storage failures.
type Repository interface {
	FindByID(ctx context.Context, id string) (*domain.User, error)
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	FindByUsername(ctx context.Context, username string) (*domain.User, error)
	// Save inserts or updates u by ID and returns the stored row.
	Save(ctx context.Context, u *domain.User) (*domain.User, error)
	Count(ctx context.Context, f domain.Filter) (int, error)
}
