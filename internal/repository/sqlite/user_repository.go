package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"userdesk/internal/domain"
	"userdesk/internal/repository"
)

const createUsersTable = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	email TEXT NOT NULL,
	password TEXT NOT NULL DEFAULT '',
	attributes TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_users_email ON users (email);
`

const selectUser = `SELECT id, name, email, password, attributes, created_at, updated_at FROM users`

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) repository.UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createUsersTable); err != nil {
		return fmt.Errorf("create users table: %w", err)
	}
	return nil
}

func (r *UserRepository) List(ctx context.Context) ([]domain.User, error) {
	rows, err := r.db.QueryContext(ctx, selectUser+` ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := []domain.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	return scanUser(r.db.QueryRowContext(ctx, selectUser+` WHERE id = ?`, id))
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return scanUser(r.db.QueryRowContext(ctx, selectUser+` WHERE email = ? ORDER BY id ASC LIMIT 1`, email))
}

func (r *UserRepository) Create(ctx context.Context, user *domain.User, opts repository.WriteOptions) error {
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	attrs, err := encodeAttributes(user.Attributes)
	if err != nil {
		return err
	}

	return r.withTx(ctx, func(tx *sql.Tx) error {
		if opts.UniqueEmail {
			if err := ensureEmailFree(ctx, tx, user.Email, 0); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx, `
INSERT INTO users (id, name, email, password, attributes, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
			user.ID,
			user.Name,
			user.Email,
			user.Password,
			attrs,
			user.CreatedAt,
			user.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert user: %w", err)
		}
		return nil
	})
}

func (r *UserRepository) Update(ctx context.Context, id int64, patch repository.PatchFunc, opts repository.WriteOptions) (*domain.User, error) {
	var updated *domain.User
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		user, err := scanUser(tx.QueryRowContext(ctx, selectUser+` WHERE id = ?`, id))
		if err != nil {
			return err
		}
		if err := patch(user); err != nil {
			return err
		}
		user.ID = id
		if opts.UniqueEmail {
			if err := ensureEmailFree(ctx, tx, user.Email, id); err != nil {
				return err
			}
		}
		user.UpdatedAt = time.Now().UTC()

		attrs, err := encodeAttributes(user.Attributes)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
UPDATE users
SET name = ?, email = ?, password = ?, attributes = ?, updated_at = ?
WHERE id = ?`,
			user.Name,
			user.Email,
			user.Password,
			attrs,
			user.UpdatedAt,
			id,
		); err != nil {
			return fmt.Errorf("update user: %w", err)
		}
		updated = user
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *UserRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete user rows affected: %w", err)
	}
	if affected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *UserRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func ensureEmailFree(ctx context.Context, tx *sql.Tx, email string, exceptID int64) error {
	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM users WHERE email = ? AND id != ?`, email, exceptID,
	).Scan(&count); err != nil {
		return fmt.Errorf("check email: %w", err)
	}
	if count > 0 {
		return repository.ErrEmailExists
	}
	return nil
}

func encodeAttributes(attrs map[string]any) (string, error) {
	if len(attrs) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(attrs)
	if err != nil {
		return "", fmt.Errorf("encode attributes: %w", err)
	}
	return string(data), nil
}

func scanUser(row interface {
	Scan(dest ...any) error
}) (*domain.User, error) {
	var (
		user  domain.User
		attrs string
	)
	if err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.Password,
		&attrs,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	if attrs != "" && attrs != "{}" {
		if err := json.Unmarshal([]byte(attrs), &user.Attributes); err != nil {
			return nil, fmt.Errorf("decode attributes: %w", err)
		}
	}
	return &user, nil
}
