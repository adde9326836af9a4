package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ovaphlow/pitchfork/service-election-auth/internal/account/entity"
)

// AccountRepo provides data access for the users and candidates tables using sqlx.
type AccountRepo struct {
	db *sqlx.DB
}

func NewAccountRepo(db *sqlx.DB) *AccountRepo { return &AccountRepo{db: db} }

// EnsureTable creates the users and candidates tables if not exists (idempotent).
// This is a convenience for early development; prefer migrations in production.
func (r *AccountRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL UNIQUE,
  student_number TEXT UNIQUE,
  password_hash TEXT,
  name TEXT NOT NULL DEFAULT 'Unknown User',
  image TEXT,
  role TEXT NOT NULL DEFAULT 'VOTER',
  is_active BOOLEAN NOT NULL DEFAULT true,
  login_failed_attempts INT NOT NULL DEFAULT 0,
  locked_until TIMESTAMPTZ,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS candidates (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL UNIQUE REFERENCES users(id),
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
ALTER TABLE users ADD COLUMN IF NOT EXISTS login_failed_attempts INT NOT NULL DEFAULT 0;
ALTER TABLE users ADD COLUMN IF NOT EXISTS locked_until TIMESTAMPTZ;
CREATE INDEX IF NOT EXISTS idx_users_role ON users(role);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

const selectAccount = `SELECT u.id, u.email, u.student_number, u.password_hash, u.name, u.image, u.role, u.is_active,
  u.login_failed_attempts, u.locked_until,
  EXISTS (SELECT 1 FROM candidates c WHERE c.user_id = u.id) AS is_candidate,
  u.created_at, u.updated_at
FROM users u`

func (r *AccountRepo) GetByID(ctx context.Context, id string) (*entity.Account, error) {
	return r.get(ctx, selectAccount+` WHERE u.id = $1`, id)
}

// GetByEmail matches case-insensitively; emails are stored lowercase.
func (r *AccountRepo) GetByEmail(ctx context.Context, email string) (*entity.Account, error) {
	return r.get(ctx, selectAccount+` WHERE u.email = $1`, strings.ToLower(email))
}

func (r *AccountRepo) GetByStudentNumber(ctx context.Context, studentNumber string) (*entity.Account, error) {
	return r.get(ctx, selectAccount+` WHERE u.student_number = $1`, studentNumber)
}

func (r *AccountRepo) get(ctx context.Context, q string, arg any) (*entity.Account, error) {
	var a entity.Account
	if err := r.db.GetContext(ctx, &a, q, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

// Create inserts a new account. A unique violation on email or student number returns ErrDuplicate.
func (r *AccountRepo) Create(ctx context.Context, a *entity.Account) error {
	now := time.Now().UTC()
	a.Email = strings.ToLower(a.Email)
	a.CreatedAt, a.UpdatedAt = now, now
	q := `INSERT INTO users (id,email,student_number,password_hash,name,image,role,is_active,created_at,updated_at)
		  VALUES (:id,:email,:student_number,:password_hash,:name,:image,:role,:is_active,:created_at,:updated_at)`
	if _, err := r.db.NamedExecContext(ctx, q, a); err != nil {
		return mapPQError(err)
	}
	return nil
}

func (r *AccountRepo) UpdateRole(ctx context.Context, id string, role entity.Role) error {
	return r.exec(ctx, `UPDATE users SET role = $2, updated_at = NOW() WHERE id = $1`, id, role)
}

func (r *AccountRepo) SetActive(ctx context.Context, id string, active bool) error {
	return r.exec(ctx, `UPDATE users SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
}

// RecordFailedLogin counts one failure. Reaching threshold locks the account
// until lockUntil and restarts the count; locked reports whether that happened.
func (r *AccountRepo) RecordFailedLogin(ctx context.Context, id string, threshold int, lockUntil time.Time) (bool, error) {
	const q = `UPDATE users SET
  login_failed_attempts = CASE WHEN login_failed_attempts + 1 >= $2 THEN 0 ELSE login_failed_attempts + 1 END,
  locked_until = CASE WHEN login_failed_attempts + 1 >= $2 THEN $3 ELSE locked_until END,
  updated_at = NOW()
WHERE id = $1
RETURNING COALESCE(locked_until = $3, false)`
	var locked bool
	if err := r.db.QueryRowxContext(ctx, q, id, threshold, lockUntil).Scan(&locked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrNotFound
		}
		return false, err
	}
	return locked, nil
}

// ResetFailedLogins clears the counter and any lock after a successful sign-in.
func (r *AccountRepo) ResetFailedLogins(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET login_failed_attempts = 0, locked_until = NULL
WHERE id = $1 AND (login_failed_attempts <> 0 OR locked_until IS NOT NULL)`, id)
	return err
}

func (r *AccountRepo) exec(ctx context.Context, q string, args ...any) error {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return mapPQError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func mapPQError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrDuplicate
	}
	return err
}
