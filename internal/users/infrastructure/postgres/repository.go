package postgres

import (
	"context"
	"database/sql"
	"errors"

	users "planter-cloud/internal/users/domain"
)

// UserRepository is a Postgres implementation of account storage.
type UserRepository struct {
	db *sql.DB
}

// NewUserRepository constructs a repository.
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a user.
func (r *UserRepository) Create(ctx context.Context, user *users.User) error {
	if r == nil || r.db == nil {
		return errors.New("user repo: nil db")
	}
	if user == nil {
		return errors.New("user repo: nil user")
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO users (id, email, password_hash, name, created_at)
VALUES ($1, $2, $3, $4, $5)`,
		user.ID, user.Email, user.PasswordHash, user.Name, user.CreatedAt)
	return err
}

// GetByEmail fetches a user by email, nil when absent.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*users.User, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("user repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT id, email, password_hash, name, created_at
FROM users
WHERE email = $1`, email)
	return scanUser(row)
}

// GetByID fetches a user by id, nil when absent.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*users.User, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("user repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT id, email, password_hash, name, created_at
FROM users
WHERE id = $1`, id)
	return scanUser(row)
}

// UpdateName changes the display name.
func (r *UserRepository) UpdateName(ctx context.Context, id, name string) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("user repo: nil db")
	}
	result, err := r.db.ExecContext(ctx, `
UPDATE users SET name = $1 WHERE id = $2`, name, id)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	return affected > 0, err
}

func scanUser(row *sql.Row) (*users.User, error) {
	var user users.User
	err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.Name, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}
