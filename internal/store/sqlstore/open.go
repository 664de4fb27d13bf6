package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "modernc.org/sqlite"             // driver: sqlite (pure go)
)

// Open открывает пул соединений диалекта и проверяет его ping'ом.
func Open(ctx context.Context, d Dialect, dsn string) (*sql.DB, error) {
	if d.Name == SQLite.Name {
		if dsn == "" {
			return nil, fmt.Errorf("sqlite path is required")
		}
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
	}

	db, err := sql.Open(d.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.Name, err)
	}

	switch d.Name {
	case SQLite.Name:
		// одна запись за раз: пишущие транзакции встают в очередь пула, а не ловят SQLITE_BUSY
		db.SetMaxOpenConns(1)
		for _, p := range []string{
			"PRAGMA foreign_keys = ON",
			"PRAGMA journal_mode = WAL",
			"PRAGMA busy_timeout = 5000",
		} {
			if _, err := db.ExecContext(ctx, p); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("sqlite %q: %w", p, err)
			}
		}
	default:
		db.SetConnMaxLifetime(30 * time.Minute)
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", d.Name, err)
	}
	return db, nil
}
