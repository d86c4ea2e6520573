package batch

import (
	"sync"
	"time"

	"MerkleBatch-Chain/internal/proofs"
)

// Entry 是执行日志中的一条记录。
type Entry struct {
	Seq        uint64        `json:"seq"`
	BatchID    string        `json:"batch_id"`
	Index      int           `json:"index"`
	Root       proofs.Digest `json:"root"`
	Record     []byte        `json:"record"`
	ExecutedAt time.Time     `json:"executed_at"`
}

// ExecutionLog 是只追加的内存执行日志。
type ExecutionLog struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewExecutionLog 创建空的执行日志。
func NewExecutionLog() *ExecutionLog {
	return &ExecutionLog{}
}

// appendBatch 按批次下标顺序追加整批记录并返回新条目。
func (l *ExecutionLog) appendBatch(batchID string, root proofs.Digest, records []proofs.Record, at time.Time) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	added := make([]Entry, len(records))
	for i, record := range records {
		added[i] = Entry{
			Seq:        uint64(len(l.entries)) + 1,
			BatchID:    batchID,
			Index:      i,
			Root:       root,
			Record:     append([]byte(nil), record...),
			ExecutedAt: at,
		}
		l.entries = append(l.entries, added[i])
	}
	return cloneEntries(added)
}

// Len 返回日志条目数。
func (l *ExecutionLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Entries 返回全部条目的副本，按执行顺序排列。
func (l *ExecutionLog) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneEntries(l.entries)
}

// Latest 返回最近的 limit 条记录，按执行顺序排列；limit <= 0 时返回全部。
func (l *ExecutionLog) Latest(limit int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	start := 0
	if limit > 0 && limit < len(l.entries) {
		start = len(l.entries) - limit
	}
	return cloneEntries(l.entries[start:])
}

func cloneEntries(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[i] = e
		out[i].Record = append([]byte(nil), e.Record...)
	}
	return out
}
