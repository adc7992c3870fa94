package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/lockbox/internal/dbx"
)

// Valid disk-store table names; one table per disk sub-location.
const (
	TableLocal   = "state_local"
	TableSession = "state_session"
)

// SQLite is a disk-tier backend over one key/value table.
type SQLite struct {
	db    dbx.DBTX
	table string
}

// NewSQLite binds a backend to the given table. The table must be one of
// the migration-created state tables; the name is interpolated into SQL so
// it is checked here rather than trusted.
func NewSQLite(db dbx.DBTX, table string) (*SQLite, error) {
	if table != TableLocal && table != TableSession {
		return nil, fmt.Errorf("unknown state table %q", table)
	}
	return &SQLite{db: db, table: table}, nil
}

// Bind returns a copy of the backend running against q, typically a
// transaction shared with the sibling table.
func (r *SQLite) Bind(q dbx.DBTX) Backend {
	return &SQLite{db: q, table: r.table}
}

func (r *SQLite) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	query := fmt.Sprintf(`SELECT value FROM %s WHERE key = ?`, r.table)
	err := r.db.QueryRowContext(ctx, query, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s[%s]: %w", r.table, key, err)
	}
	return value, nil
}

func (r *SQLite) Has(ctx context.Context, key string) (bool, error) {
	var one int
	query := fmt.Sprintf(`SELECT 1 FROM %s WHERE key = ?`, r.table)
	err := r.db.QueryRowContext(ctx, query, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check %s[%s]: %w", r.table, key, err)
	}
	return true, nil
}

func (r *SQLite) Save(ctx context.Context, key string, value []byte) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, r.table)
	if _, err := r.db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to set %s[%s]: %w", r.table, key, err)
	}
	return nil
}

func (r *SQLite) Keys(ctx context.Context) ([]string, error) {
	query := fmt.Sprintf(`SELECT key FROM %s ORDER BY key`, r.table)
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s keys: %w", r.table, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (r *SQLite) Remove(ctx context.Context, key string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE key = ?`, r.table)
	if _, err := r.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("failed to delete %s[%s]: %w", r.table, key, err)
	}
	return nil
}
