package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/dmitrijs2005/lockbox/internal/client/storage/migrations"
)

// RunMigrations applies the embedded schema migrations to db.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	return goose.UpContext(ctx, db, ".")
}

// InitDatabase opens (creating if necessary) the local sqlite database at
// dsn, applies schema migrations, and returns the two disk sub-location
// backends.
func InitDatabase(ctx context.Context, dsn string) (*sql.DB, *SQLite, *SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, nil, nil, err
	}

	if err := RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, nil, nil, err
	}

	local, err := NewSQLite(db, TableLocal)
	if err != nil {
		db.Close()
		return nil, nil, nil, err
	}
	session, err := NewSQLite(db, TableSession)
	if err != nil {
		db.Close()
		return nil, nil, nil, err
	}
	return db, local, session, nil
}
