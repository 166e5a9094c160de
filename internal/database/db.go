// Package database stores the history of extract and update operations in
// SQLite.
package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// DB is an open, migrated job store.
type DB struct {
	conn *sql.DB
	repo *Repository
}

// Open opens the database at path, creating its directory when needed, and
// applies pending migrations. A locked database is retried briefly since
// several zipxtract processes may start at once.
func Open(ctx context.Context, path string) (*DB, error) {
	log := slog.Default().With("component", "database")

	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite serialises writers; one connection also keeps an in-memory
	// database alive for the lifetime of conn.
	conn.SetMaxOpenConns(1)

	err = retry.Do(
		func() error {
			return migrate(ctx, conn)
		},
		retry.Attempts(5),
		retry.Delay(100*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(isBusy),
		retry.OnRetry(func(n uint, err error) {
			log.DebugContext(ctx, "Database busy, retrying", "attempt", n+1, "path", path, "error", err)
		}),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	return &DB{conn: conn, repo: NewRepository(conn)}, nil
}

func dsn(path string) string {
	if path == MemoryPath {
		return "file::memory:?_foreign_keys=on"
	}
	return fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL", path)
}

func migrate(ctx context.Context, conn *sql.DB) error {
	if err := conn.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, conn, fsys)
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func isBusy(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}

// Repository returns the repository bound to the connection.
func (d *DB) Repository() *Repository {
	return d.repo
}

func (d *DB) Close() error {
	return d.conn.Close()
}
