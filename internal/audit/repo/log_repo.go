package repo

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-election-auth/internal/audit/entity"
)

type LogRepo struct {
	db *sqlx.DB
}

func NewLogRepo(db *sqlx.DB) *LogRepo { return &LogRepo{db: db} }

// EnsureTable creates the system_logs table if not exists (idempotent).
func (r *LogRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS system_logs (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  action TEXT NOT NULL,
  details TEXT NOT NULL DEFAULT '',
  timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_system_logs_timestamp ON system_logs(timestamp DESC);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

func (r *LogRepo) Insert(ctx context.Context, l *entity.Log) error {
	_, err := r.db.NamedExecContext(ctx,
		`INSERT INTO system_logs (id,user_id,action,details,timestamp) VALUES (:id,:user_id,:action,:details,:timestamp)`, l)
	return err
}

// Recent returns the newest entries first.
func (r *LogRepo) Recent(ctx context.Context, limit int) ([]entity.Log, error) {
	logs := []entity.Log{}
	q := `SELECT l.id, l.user_id, l.action, l.details, l.timestamp, u.email AS user_email, u.name AS user_name
FROM system_logs l LEFT JOIN users u ON u.id = l.user_id
ORDER BY l.timestamp DESC LIMIT $1`
	if err := r.db.SelectContext(ctx, &logs, q, limit); err != nil {
		return nil, err
	}
	return logs, nil
}
