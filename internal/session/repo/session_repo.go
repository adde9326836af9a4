package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-election-auth/internal/session/entity"
)

// SessionRepo stores sessions in Postgres using sqlx.
type SessionRepo struct {
	db *sqlx.DB
}

func NewSessionRepo(db *sqlx.DB) *SessionRepo { return &SessionRepo{db: db} }

// EnsureTable creates the sessions table if not exists (idempotent).
func (r *SessionRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS sessions (
  id TEXT PRIMARY KEY,
  token_hash TEXT NOT NULL UNIQUE,
  user_id TEXT NOT NULL,
  email TEXT NOT NULL,
  name TEXT NOT NULL,
  image TEXT,
  role TEXT NOT NULL,
  student_number TEXT,
  is_candidate BOOLEAN NOT NULL DEFAULT false,
  issued_at TIMESTAMPTZ NOT NULL,
  expires_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id);
CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

func (r *SessionRepo) Create(ctx context.Context, s *entity.Session) error {
	q := `INSERT INTO sessions (id,token_hash,user_id,email,name,image,role,student_number,is_candidate,issued_at,expires_at)
		  VALUES (:id,:token_hash,:user_id,:email,:name,:image,:role,:student_number,:is_candidate,:issued_at,:expires_at)`
	_, err := r.db.NamedExecContext(ctx, q, s)
	return err
}

func (r *SessionRepo) GetByTokenHash(ctx context.Context, hash string) (*entity.Session, error) {
	var s entity.Session
	q := `SELECT id,token_hash,user_id,email,name,image,role,student_number,is_candidate,issued_at,expires_at
		  FROM sessions WHERE token_hash = $1`
	if err := r.db.GetContext(ctx, &s, q, hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// Update rewrites the expiry and cached claims.
func (r *SessionRepo) Update(ctx context.Context, s *entity.Session) error {
	q := `UPDATE sessions SET email=:email, name=:name, image=:image, role=:role, student_number=:student_number,
		  is_candidate=:is_candidate, expires_at=:expires_at WHERE token_hash=:token_hash`
	res, err := r.db.NamedExecContext(ctx, q, s)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SessionRepo) Delete(ctx context.Context, hash string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE token_hash = $1`, hash)
	return err
}

// DeleteExpired removes sessions past expiry and reports how many were removed.
func (r *SessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < NOW()`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
