package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/recipebox/recipebox/internal/model"
)

// User errors.
var (
	ErrUserNotFound = errors.New("user not found")
	ErrEmailExists  = errors.New("email already exists")
)

const userColumns = `id, email, created_at`

// CreateUser inserts a user. A taken email returns ErrEmailExists.
func (r *Repository) CreateUser(ctx context.Context, user *model.User) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3)`,
		user.ID, user.Email, user.CreatedAt,
	)
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err, ""):
		return ErrEmailExists
	default:
		return fmt.Errorf("failed to create user: %w", err)
	}
}

// GetUserByID loads a user by id.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return r.findUser(ctx, "id", id)
}

// GetUserByEmail loads a user by email.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.findUser(ctx, "email", email)
}

// findUser looks a user up by a unique column. column is never user input.
func (r *Repository) findUser(ctx context.Context, column, value string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + column + ` = $1`

	user, err := scanUser(r.pool.QueryRow(ctx, query, value))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by %s: %w", column, err)
	}
	return user, nil
}

// GetOrCreateUser returns the user owning user.Email, inserting user when
// the email is new. Concurrent callers with the same email get one row.
func (r *Repository) GetOrCreateUser(ctx context.Context, user *model.User) (*model.User, error) {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	// The no-op update makes RETURNING yield the existing row on conflict.
	const query = `
		INSERT INTO users (` + userColumns + `) VALUES ($1, $2, $3)
		ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
		RETURNING ` + userColumns

	got, err := scanUser(r.pool.QueryRow(ctx, query, user.ID, user.Email, user.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to get or create user: %w", err)
	}
	return got, nil
}

// DeleteUser removes a user. Their recipes and API keys go with them
// through ON DELETE CASCADE.
func (r *Repository) DeleteUser(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	if err := row.Scan(&u.ID, &u.Email, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}
