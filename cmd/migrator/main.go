package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vyakhyaagoyal/Techmentorx-Cybirbs/pkg/store"
)

type migrationDB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type migrationDBCloser interface {
	migrationDB
	Close()
}

// fs abstracts file access so migration application is testable without disk.
type migrationFS struct {
	readFile func(name string) ([]byte, error)
	glob     func(pattern string) ([]string, error)
	logf     func(format string, args ...any)
}

// Testable variables for main()
var (
	logFatalf = log.Fatalf
	openDBFn  = func(ctx context.Context) (migrationDBCloser, error) {
		pool, err := store.NewPostgresPool(ctx)
		if err != nil {
			return nil, err
		}
		return pool, nil
	}
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	dir := os.Getenv("MIGRATIONS_DIR")
	if dir == "" {
		dir = "migrations"
	}

	pool, err := openDBFn(ctx)
	if err != nil {
		logFatalf("db: %v", err)
		return
	}
	defer pool.Close()

	if err := applyPending(ctx, pool, dir, migrationFS{}); err != nil {
		logFatalf("migration: %v", err)
	}
}

// applyPending applies every *.sql file under dir that is not yet recorded in
// schema_migrations, in lexical order, one transaction per file. A failure
// stops the run with nothing from the failed file committed.
func applyPending(ctx context.Context, db migrationDB, dir string, fs migrationFS) error {
	if db == nil {
		return fmt.Errorf("db required")
	}
	if fs.readFile == nil {
		fs.readFile = os.ReadFile
	}
	if fs.glob == nil {
		fs.glob = filepath.Glob
	}
	if fs.logf == nil {
		fs.logf = log.Printf
	}

	if _, err := db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	dir = filepath.Clean(dir)
	files, err := fs.glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return fmt.Errorf("glob migrations: %w", err)
	}
	sort.Strings(files)

	applied := 0
	for _, file := range files {
		clean := filepath.Clean(file)
		if !strings.HasPrefix(clean, dir+string(os.PathSeparator)) {
			return fmt.Errorf("migration %q escapes directory %q", file, dir)
		}
		name := filepath.Base(clean)
		var exists bool
		if err := db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE filename=$1)`, name).Scan(&exists); err != nil {
			return fmt.Errorf("migration lookup: %w", err)
		}
		if exists {
			continue
		}
		sqlBytes, err := fs.readFile(clean)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		tx, err := db.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin migration tx: %w", err)
		}
		if _, err := tx.Exec(ctx, string(sqlBytes)); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations(filename) VALUES($1)`, name); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("record migration %s: %w", name, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit migration %s: %w", name, err)
		}
		applied++
		fs.logf("applied migration %s", name)
	}
	fs.logf("migrations complete: %d applied, %d already present", applied, len(files)-applied)
	return nil
}
