package mysql

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"sync"

	mysqldrv "github.com/go-sql-driver/mysql"

	xerrors "MerkleBatch-Chain/internal/errors"
)

// DefaultListLimit 是 ListLatest 在未指定数量时返回的条数。
const DefaultListLimit = 50

// mysqlDuplicateEntry 是 MySQL 唯一键冲突的错误号。
const mysqlDuplicateEntry = 1062

// BatchRecord 表示一次批处理结果的归档结构。
type BatchRecord struct {
	ID          int64  `json:"id"`
	BatchID     string `json:"batch_id"`
	Root        string `json:"root"`
	Executed    bool   `json:"executed"`
	RecordCount int    `json:"record_count"`
	FailedIndex int    `json:"failed_index"`
	CreatedAt   int64  `json:"created_at"`
}

// BatchRepository 抽象批次归档的持久化接口。
type BatchRepository interface {
	Save(ctx context.Context, record BatchRecord) error
	ListLatest(ctx context.Context, limit int) ([]BatchRecord, error)
}

// CodeDuplicateBatch 表示同一批次被重复归档。
const CodeDuplicateBatch xerrors.Code = "DUPLICATE_BATCH"

// ErrDuplicateBatch 用于 errors.Is 判断重复归档。
var ErrDuplicateBatch = xerrors.New(CodeDuplicateBatch, "批次已归档")

func init() {
	xerrors.Register(CodeDuplicateBatch, xerrors.Attributes{
		Message:  "batch already archived",
		Severity: xerrors.SeverityWarning,
	})
}

// MemoryBatchRepository 在内存中保留最近的批次结果，适合开发与测试。
type MemoryBatchRepository struct {
	mu       sync.RWMutex
	capacity int
	nextID   int64
	records  []BatchRecord
	seen     map[string]struct{}
}

// NewMemoryBatchRepository 创建一个最多保留 capacity 条记录的仓库。
func NewMemoryBatchRepository(capacity int) *MemoryBatchRepository {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryBatchRepository{capacity: capacity, seen: make(map[string]struct{})}
}

// Save 将记录插入队首，超过容量时淘汰最旧的记录。
func (m *MemoryBatchRepository) Save(_ context.Context, record BatchRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, dup := m.seen[record.BatchID]; dup {
		return xerrors.New(CodeDuplicateBatch, "批次已归档", xerrors.WithMetadata("batch_id", record.BatchID))
	}

	m.nextID++
	record.ID = m.nextID
	m.records = append([]BatchRecord{record}, m.records...)
	m.seen[record.BatchID] = struct{}{}
	if len(m.records) > m.capacity {
		for _, evicted := range m.records[m.capacity:] {
			delete(m.seen, evicted.BatchID)
		}
		m.records = m.records[:m.capacity]
	}
	return nil
}

// ListLatest 返回最近的批次记录，按时间倒序排列。
func (m *MemoryBatchRepository) ListLatest(_ context.Context, limit int) ([]BatchRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > len(m.records) {
		limit = len(m.records)
	}

	results := make([]BatchRecord, limit)
	copy(results, m.records[:limit])
	return results, nil
}

// SQLBatchRepository 使用 MySQL 存储批次结果。
type SQLBatchRepository struct {
	db *sql.DB
}

// NewSQLBatchRepository 建立连接池并执行内嵌的数据库迁移。
func NewSQLBatchRepository(ctx context.Context, cfg Config) (*SQLBatchRepository, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}

	repo := &SQLBatchRepository{db: db}
	if err := repo.runMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

const insertBatchSQL = `INSERT INTO batch_outcomes
        (batch_id, root, executed, record_count, failed_index, created_at)
        VALUES (?, ?, ?, ?, ?, ?)`

const listBatchesSQL = `SELECT id, batch_id, root, executed, record_count, failed_index, created_at
        FROM batch_outcomes ORDER BY created_at DESC, id DESC LIMIT ?`

// Save 将批次结果写入 MySQL。
func (s *SQLBatchRepository) Save(ctx context.Context, record BatchRecord) error {
	_, err := s.db.ExecContext(ctx, insertBatchSQL,
		record.BatchID,
		record.Root,
		record.Executed,
		record.RecordCount,
		record.FailedIndex,
		record.CreatedAt,
	)
	if err == nil {
		return nil
	}

	var mysqlErr *mysqldrv.MySQLError
	if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
		return xerrors.Wrap(CodeDuplicateBatch, err, "批次已归档", xerrors.WithMetadata("batch_id", record.BatchID))
	}
	return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入批次记录失败", xerrors.WithMetadata("batch_id", record.BatchID))
}

// ListLatest 返回最近的批次记录，按时间倒序排列。
func (s *SQLBatchRepository) ListLatest(ctx context.Context, limit int) ([]BatchRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := s.db.QueryContext(ctx, listBatchesSQL, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询批次记录失败")
	}
	defer rows.Close()

	var records []BatchRecord
	for rows.Next() {
		var rec BatchRecord
		if err := rows.Scan(&rec.ID, &rec.BatchID, &rec.Root, &rec.Executed, &rec.RecordCount, &rec.FailedIndex, &rec.CreatedAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析批次记录失败")
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历批次记录失败")
	}
	return records, nil
}

// Close 释放连接池。
func (s *SQLBatchRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
