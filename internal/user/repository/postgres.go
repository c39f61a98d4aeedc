package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"auth-service/internal/user/domain"
)

const uniqueViolation = "23505"

var errMissingID = errors.New("user id is required")

// DBTX is the subset of *sql.DB and *sql.Tx the repository needs.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type PostgresRepository struct {
	db DBTX
}

// NewPostgresRepository returns a user repository that uses the given db for persistence.
func NewPostgresRepository(db DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const userColumns = `id, email, username, password_hash, first_name, last_name, is_active, created_at, updated_at`

func scanUser(row *sql.Row) (*domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.FirstName, &u.LastName, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

// FindByID returns the user for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	return scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// FindByEmail returns the user with the given email, or nil if not found.
// Emails are stored normalized, so the lookup normalizes too.
func (r *PostgresRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	return scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, domain.NormalizeEmail(email)))
}

// FindByUsername returns the user with the given username, or nil if not found.
func (r *PostgresRepository) FindByUsername(ctx context.Context, username string) (*domain.User, error) {
	return scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username))
}

// Save upserts u by ID. created_at is kept on update; updated_at is set by the database.
func (r *PostgresRepository) Save(ctx context.Context, u *domain.User) (*domain.User, error) {
	if u.ID == "" {
		return nil, errMissingID
	}
	u.Email = domain.NormalizeEmail(u.Email)
	if err := u.Validate(); err != nil {
		return nil, err
	}
	row := r.db.QueryRowContext(ctx, `
INSERT INTO users (id, email, username, password_hash, first_name, last_name, is_active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
ON CONFLICT (id) DO UPDATE SET
	email = EXCLUDED.email,
	username = EXCLUDED.username,
	password_hash = EXCLUDED.password_hash,
	first_name = EXCLUDED.first_name,
	last_name = EXCLUDED.last_name,
	is_active = EXCLUDED.is_active,
	updated_at = now()
RETURNING `+userColumns,
		u.ID, u.Email, u.Username, u.PasswordHash, u.FirstName, u.LastName, u.IsActive)
	saved, err := scanUser(row)
	if err != nil {
		return nil, mapConstraint(err)
	}
	return saved, nil
}

// Count returns the number of users matching f.
func (r *PostgresRepository) Count(ctx context.Context, f domain.Filter) (int, error) {
	query, args := countQuery(f)
	var n int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func countQuery(f domain.Filter) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Email != "" {
		add("email = $%d", domain.NormalizeEmail(f.Email))
	}
	if f.Username != "" {
		add("username = $%d", f.Username)
	}
	if f.Active != nil {
		add("is_active = $%d", *f.Active)
	}
	query := "SELECT count(*) FROM users"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	return query, args
}

func mapConstraint(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return err
	}
	switch pgErr.ConstraintName {
	case "users_email_key":
		return ErrDuplicateEmail
	case "users_username_key":
		return ErrDuplicateUsername
	}
	return err
}
