package mysql

import (
	"context"
	"database/sql/driver"
	stdErrors "errors"
	"testing"

	mysqldrv "github.com/go-sql-driver/mysql"
	"github.com/google/go-cmp/cmp"

	xerrors "MerkleBatch-Chain/internal/errors"
)

func TestMemoryBatchRepositoryNewestFirst(t *testing.T) {
	t.Parallel()

	repo := NewMemoryBatchRepository(2)
	ctx := context.Background()
	for i, id := range []string{"b-1", "b-2", "b-3"} {
		rec := BatchRecord{BatchID: id, Root: "0x01", Executed: true, RecordCount: 10, FailedIndex: -1, CreatedAt: int64(i)}
		if err := repo.Save(ctx, rec); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}

	got, err := repo.ListLatest(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var ids []string
	for _, rec := range got {
		ids = append(ids, rec.BatchID)
	}
	if diff := cmp.Diff([]string{"b-3", "b-2"}, ids); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}

	got[0].BatchID = "mutated"
	again, _ := repo.ListLatest(ctx, 1)
	if again[0].BatchID != "b-3" {
		t.Fatalf("ListLatest must return a copy")
	}
}

func TestMemoryBatchRepositoryRejectsDuplicate(t *testing.T) {
	t.Parallel()

	repo := NewMemoryBatchRepository(8)
	rec := BatchRecord{BatchID: "b-1", FailedIndex: 3}
	if err := repo.Save(context.Background(), rec); err != nil {
		t.Fatalf("save: %v", err)
	}
	err := repo.Save(context.Background(), rec)
	if !stdErrors.Is(err, ErrDuplicateBatch) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestSQLBatchRepositorySave(t *testing.T) {
	t.Parallel()

	ops := []mockOperation{
		execOp(insertBatchSQL, mockResult{lastInsertID: 1, rowsAffected: 1}),
	}
	db, drv := newMockDB(t, ops)
	defer drv.assertConsumed(t)
	defer db.Close()

	repo := &SQLBatchRepository{db: db}
	rec := BatchRecord{BatchID: "b-1", Root: "0xabc", Executed: true, RecordCount: 10, FailedIndex: -1, CreatedAt: 1700000000000}
	if err := repo.Save(context.Background(), rec); err != nil {
		t.Fatalf("save: %v", err)
	}
}

func TestSQLBatchRepositorySaveDuplicate(t *testing.T) {
	t.Parallel()

	dup := execOp(insertBatchSQL, mockResult{})
	dup.err = &mysqldrv.MySQLError{Number: 1062, Message: "Duplicate entry 'b-1'"}
	db, drv := newMockDB(t, []mockOperation{dup})
	defer drv.assertConsumed(t)
	defer db.Close()

	repo := &SQLBatchRepository{db: db}
	err := repo.Save(context.Background(), BatchRecord{BatchID: "b-1"})
	if !stdErrors.Is(err, ErrDuplicateBatch) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestSQLBatchRepositorySaveFailure(t *testing.T) {
	t.Parallel()

	broken := execOp(insertBatchSQL, mockResult{})
	broken.err = stdErrors.New("connection reset")
	db, drv := newMockDB(t, []mockOperation{broken})
	defer drv.assertConsumed(t)
	defer db.Close()

	repo := &SQLBatchRepository{db: db}
	err := repo.Save(context.Background(), BatchRecord{BatchID: "b-1"})
	if xerrors.CodeOf(err) != xerrors.CodeStorageFailure {
		t.Fatalf("expected storage failure, got %v", err)
	}
}

func TestSQLBatchRepositoryListLatest(t *testing.T) {
	t.Parallel()

	rows := mockRowsData{
		columns: []string{"id", "batch_id", "root", "executed", "record_count", "failed_index", "created_at"},
		values: [][]driver.Value{
			{int64(2), "b-2", "0x02", int64(0), int64(10), int64(4), int64(2000)},
			{int64(1), "b-1", "0x01", int64(1), int64(10), int64(-1), int64(1000)},
		},
	}
	db, drv := newMockDB(t, []mockOperation{queryOp(listBatchesSQL, rows)})
	defer drv.assertConsumed(t)
	defer db.Close()

	repo := &SQLBatchRepository{db: db}
	got, err := repo.ListLatest(context.Background(), 5)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []BatchRecord{
		{ID: 2, BatchID: "b-2", Root: "0x02", Executed: false, RecordCount: 10, FailedIndex: 4, CreatedAt: 2000},
		{ID: 1, BatchID: "b-1", Root: "0x01", Executed: true, RecordCount: 10, FailedIndex: -1, CreatedAt: 1000},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected records (-want +got):\n%s", diff)
	}
}

func TestSQLBatchRepositoryRunMigrations(t *testing.T) {
	t.Parallel()

	ops := []mockOperation{
		execOp(createMigrationsTable, mockResult{}),
		queryOp(`SELECT version FROM schema_migrations`, mockRowsData{columns: []string{"version"}}),
		beginOp(),
		execOp(readMigrationStatement(t), mockResult{}),
		execOp(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, mockResult{rowsAffected: 1}),
		commitOp(),
	}
	db, drv := newMockDB(t, ops)
	defer drv.assertConsumed(t)
	defer db.Close()

	repo := &SQLBatchRepository{db: db}
	if err := repo.runMigrations(context.Background()); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
}

func TestSQLBatchRepositorySkipsAppliedMigrations(t *testing.T) {
	t.Parallel()

	ops := []mockOperation{
		execOp(createMigrationsTable, mockResult{}),
		queryOp(`SELECT version FROM schema_migrations`, mockRowsData{
			columns: []string{"version"},
			values:  [][]driver.Value{{"0001"}},
		}),
	}
	db, drv := newMockDB(t, ops)
	defer drv.assertConsumed(t)
	defer db.Close()

	repo := &SQLBatchRepository{db: db}
	if err := repo.runMigrations(context.Background()); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
}

func TestSQLBatchRepositoryMigrationRollback(t *testing.T) {
	t.Parallel()

	failing := execOp(readMigrationStatement(t), mockResult{})
	failing.err = stdErrors.New("syntax error")
	ops := []mockOperation{
		execOp(createMigrationsTable, mockResult{}),
		queryOp(`SELECT version FROM schema_migrations`, mockRowsData{columns: []string{"version"}}),
		beginOp(),
		failing,
		rollbackOp(),
	}
	db, drv := newMockDB(t, ops)
	defer drv.assertConsumed(t)
	defer db.Close()

	repo := &SQLBatchRepository{db: db}
	if err := repo.runMigrations(context.Background()); xerrors.CodeOf(err) != xerrors.CodeStorageFailure {
		t.Fatalf("expected storage failure, got %v", err)
	}
}

func TestMigrationVersion(t *testing.T) {
	cases := map[string]string{
		"0001_create_batch_outcomes.sql": "0001",
		"0002.sql":                       "0002",
	}
	for name, want := range cases {
		if got := migrationVersion(name); got != want {
			t.Fatalf("migrationVersion(%q) = %q, want %q", name, got, want)
		}
	}
}

func readMigrationStatement(t *testing.T) string {
	t.Helper()
	files, err := loadMigrationFiles(embeddedMigrations)
	if err != nil {
		t.Fatalf("load migrations: %v", err)
	}
	if len(files) == 0 || len(files[0].statements) == 0 {
		t.Fatalf("no embedded migration statements")
	}
	return files[0].statements[0]
}
