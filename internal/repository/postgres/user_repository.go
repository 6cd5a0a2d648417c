package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"userdesk/internal/domain"
	"userdesk/internal/repository"
)

const createUsersTable = `
CREATE TABLE IF NOT EXISTS users (
	id BIGINT PRIMARY KEY,
	name TEXT NOT NULL,
	email TEXT NOT NULL,
	password TEXT NOT NULL DEFAULT '',
	attributes JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_users_email ON users (email);
`

const selectUser = `SELECT id, name, email, password, attributes, created_at, updated_at FROM users`

// UserRepository stores users in PostgreSQL.
type UserRepository struct {
	pool *pgxpool.Pool
}

// Connect opens a pool for dsn and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func (r *UserRepository) Init(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, createUsersTable); err != nil {
		return fmt.Errorf("create users table: %w", err)
	}
	return nil
}

func (r *UserRepository) List(ctx context.Context) ([]domain.User, error) {
	rows, err := r.pool.Query(ctx, selectUser+` ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
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
		return nil, fmt.Errorf("error iterating users: %w", err)
	}
	return users, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	return scanUser(r.pool.QueryRow(ctx, selectUser+` WHERE id = $1`, id))
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return scanUser(r.pool.QueryRow(ctx, selectUser+` WHERE email = $1 ORDER BY id ASC LIMIT 1`, email))
}

func (r *UserRepository) Create(ctx context.Context, user *domain.User, opts repository.WriteOptions) error {
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if opts.UniqueEmail {
			if err := ensureEmailFree(ctx, tx, user.Email, 0); err != nil {
				return err
			}
		}
		_, err := tx.Exec(ctx, `
INSERT INTO users (id, name, email, password, attributes, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			user.ID,
			user.Name,
			user.Email,
			user.Password,
			attributesOrEmpty(user.Attributes),
			user.CreatedAt,
			user.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}
		return nil
	})
}

func (r *UserRepository) Update(ctx context.Context, id int64, patch repository.PatchFunc, opts repository.WriteOptions) (*domain.User, error) {
	var updated *domain.User
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		user, err := scanUser(tx.QueryRow(ctx, selectUser+` WHERE id = $1 FOR UPDATE`, id))
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

		if _, err := tx.Exec(ctx, `
UPDATE users
SET name = $1, email = $2, password = $3, attributes = $4, updated_at = $5
WHERE id = $6`,
			user.Name,
			user.Email,
			user.Password,
			attributesOrEmpty(user.Attributes),
			user.UpdatedAt,
			id,
		); err != nil {
			return fmt.Errorf("failed to update user: %w", err)
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
	tag, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ensureEmailFree locks the table against concurrent writers for the rest of
// the transaction, so the check cannot race another insert.
func ensureEmailFree(ctx context.Context, tx pgx.Tx, email string, exceptID int64) error {
	if _, err := tx.Exec(ctx, `LOCK TABLE users IN SHARE ROW EXCLUSIVE MODE`); err != nil {
		return fmt.Errorf("lock users: %w", err)
	}
	var exists bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE email = $1 AND id <> $2)`, email, exceptID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("check email: %w", err)
	}
	if exists {
		return repository.ErrEmailExists
	}
	return nil
}

func attributesOrEmpty(attrs map[string]any) map[string]any {
	if attrs == nil {
		return map[string]any{}
	}
	return attrs
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var user domain.User
	if err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.Password,
		&user.Attributes,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	if len(user.Attributes) == 0 {
		user.Attributes = nil
	}
	return &user, nil
}

var _ repository.UserRepository = (*UserRepository)(nil)
