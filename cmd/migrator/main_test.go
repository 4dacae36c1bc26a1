package main

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeDB struct {
	execFn     func(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	queryRowFn func(ctx context.Context, sql string, args ...any) pgx.Row
	beginFn    func(ctx context.Context) (pgx.Tx, error)
}

func (f *fakeDB) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	if f.execFn != nil {
		return f.execFn(ctx, sql, arguments...)
	}
	return pgconn.NewCommandTag("EXEC 1"), nil
}

func (f *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if f.queryRowFn != nil {
		return f.queryRowFn(ctx, sql, args...)
	}
	return fakeRow{value: false}
}

func (f *fakeDB) Begin(ctx context.Context) (pgx.Tx, error) {
	if f.beginFn != nil {
		return f.beginFn(ctx)
	}
	return &fakeTx{}, nil
}

type fakeRow struct {
	value bool
	err   error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != 1 {
		return errors.New("scan arity mismatch")
	}
	b, ok := dest[0].(*bool)
	if !ok {
		return errors.New("expected *bool")
	}
	*b = r.value
	return nil
}

type fakeTx struct {
	execFn        func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	commitErr     error
	rollbackCalls int
}

func (t *fakeTx) Begin(ctx context.Context) (pgx.Tx, error) { return t, nil }
func (t *fakeTx) Commit(ctx context.Context) error          { return t.commitErr }
func (t *fakeTx) Rollback(ctx context.Context) error {
	t.rollbackCalls++
	return nil
}
func (t *fakeTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, errors.New("not implemented")
}
func (t *fakeTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (t *fakeTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (t *fakeTx) Prepare(ctx context.Context, name string, sql string) (*pgconn.StatementDescription, error) {
	return nil, errors.New("not implemented")
}
func (t *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if t.execFn != nil {
		return t.execFn(ctx, sql, args...)
	}
	return pgconn.NewCommandTag("EXEC 1"), nil
}
func (t *fakeTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}
func (t *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return fakeRow{err: errors.New("not implemented")}
}
func (t *fakeTx) Conn() *pgx.Conn { return nil }

func TestApplyPendingSkipsRecordedFiles(t *testing.T) {
	tx := &fakeTx{}
	db := &fakeDB{
		beginFn: func(ctx context.Context) (pgx.Tx, error) { return tx, nil },
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return fakeRow{value: args[0].(string) == "001_init.sql"}
		},
	}
	reads := 0
	fs := migrationFS{
		readFile: func(name string) ([]byte, error) {
			reads++
			return []byte("SELECT 1;"), nil
		},
		glob: func(pattern string) ([]string, error) {
			return []string{"migrations/002_engagement_reports.sql", "migrations/001_init.sql"}, nil
		},
		logf: func(format string, args ...any) {},
	}
	if err := applyPending(context.Background(), db, "migrations", fs); err != nil {
		t.Fatalf("applyPending: %v", err)
	}
	if reads != 1 {
		t.Fatalf("reads = %d, only the unapplied file should be read", reads)
	}
	if tx.rollbackCalls != 0 {
		t.Fatalf("rollbacks = %d", tx.rollbackCalls)
	}
}

func TestApplyPendingRejectsEscapingPath(t *testing.T) {
	db := &fakeDB{}
	fs := migrationFS{
		glob: func(pattern string) ([]string, error) { return []string{"../evil.sql"}, nil },
		logf: func(format string, args ...any) {},
	}
	err := applyPending(context.Background(), db, "migrations", fs)
	if err == nil || !strings.Contains(err.Error(), "escapes directory") {
		t.Fatalf("err = %v", err)
	}
}

func TestApplyPendingRollsBackFailedFile(t *testing.T) {
	tx := &fakeTx{
		execFn: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			return pgconn.CommandTag{}, errors.New("syntax error")
		},
	}
	db := &fakeDB{
		beginFn: func(ctx context.Context) (pgx.Tx, error) { return tx, nil },
	}
	fs := migrationFS{
		readFile: func(name string) ([]byte, error) { return []byte("BROKEN"), nil },
		glob:     func(pattern string) ([]string, error) { return []string{"migrations/001_init.sql"}, nil },
		logf:     func(format string, args ...any) {},
	}
	err := applyPending(context.Background(), db, "migrations", fs)
	if err == nil || !strings.Contains(err.Error(), "apply migration") {
		t.Fatalf("err = %v", err)
	}
	if tx.rollbackCalls != 1 {
		t.Fatalf("rollbacks = %d, want 1", tx.rollbackCalls)
	}
}

func TestApplyPendingRequiresDB(t *testing.T) {
	if err := applyPending(context.Background(), nil, "migrations", migrationFS{}); err == nil {
		t.Fatal("expected error for nil db")
	}
}
