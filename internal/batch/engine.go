package batch

import (
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	xerrors "MerkleBatch-Chain/internal/errors"
	"MerkleBatch-Chain/internal/proofs"
	"MerkleBatch-Chain/pkg/logger"
)

// DefaultBatchSize 是未配置时使用的批次大小。
const DefaultBatchSize = 10

// State 表示引擎是否已经提交了根。
type State string

const (
	StateUninitialized State = "uninitialized"
	StateRootSet       State = "root_set"
)

// Outcome 描述一次批次执行的结果。批次被拒绝属于正常结果，不以 error 返回。
type Outcome struct {
	BatchID     string        `json:"batch_id"`
	Root        proofs.Digest `json:"root"`
	Executed    bool          `json:"executed"`
	Count       int           `json:"count"`
	FailedIndex int           `json:"failed_index"`
	Entries     []Entry       `json:"entries,omitempty"`
}

// Rejected 判断批次是否因证明校验失败而被整体拒绝。
func (o Outcome) Rejected() bool {
	return !o.Executed
}

// Engine 持有当前提交的根与执行日志。SetRoot 与 ExecuteBatch 共用同一把锁，
// 因此两阶段执行期间根不会被替换。
type Engine struct {
	mu        sync.Mutex
	root      proofs.Digest
	hasRoot   bool
	batchSize int
	log       *ExecutionLog
	logger    *slog.Logger
	now       func() time.Time
}

// Option 定义可选配置。
type Option func(*Engine)

// WithBatchSize 设置约定的批次大小 N，N 必须大于 0。
func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithLogger 指定引擎的调试日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithClock 替换时间来源，主要用于测试。
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine 创建一个处于未初始化状态的引擎。
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		batchSize: DefaultBatchSize,
		log:       NewExecutionLog(),
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if e.logger == nil {
		e.logger = logger.Named("batch")
	}
	return e
}

// BatchSize 返回约定的批次大小。
func (e *Engine) BatchSize() int {
	return e.batchSize
}

// State 返回引擎当前状态。
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.hasRoot {
		return StateRootSet
	}
	return StateUninitialized
}

// Root 返回当前提交的根，以及是否已设置。
func (e *Engine) Root() (proofs.Digest, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.root, e.hasRoot
}

// SetRoot 提交新的批次根，覆盖之前的根。
func (e *Engine) SetRoot(root []byte) error {
	if len(root) != proofs.DigestSize {
		return xerrors.Newf(CodeInvalidRootLength, "merkle root must be 32 bytes, got %d", len(root))
	}
	digest := common.BytesToHash(root)

	e.mu.Lock()
	defer e.mu.Unlock()
	attrs := []any{slog.String("root", digest.Hex())}
	if e.hasRoot {
		attrs = append(attrs, slog.String("previous_root", e.root.Hex()))
	}
	e.root = digest
	e.hasRoot = true
	// 审计记录在锁内写出，顺序与根的替换顺序一致。
	logger.Audit().Info("批次根已提交", attrs...)
	return nil
}

// ExecuteBatch 校验整批记录的证明，全部通过后按下标顺序执行。
//
// 结构性错误（未提交根、批次大小不符、数量不一致、证明步骤非法）直接返回 error，
// 不改变任何状态。任一证明校验失败时整批被拒绝，返回 Executed 为 false 的 Outcome。
func (e *Engine) ExecuteBatch(records []proofs.Record, batchProofs []proofs.Proof) (Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.hasRoot {
		return Outcome{}, ErrNoRootSet
	}
	if len(records) != e.batchSize {
		return Outcome{}, xerrors.Newf(proofs.CodeInvalidBatchSize, "expected %d signed records, got %d", e.batchSize, len(records))
	}
	if len(batchProofs) != len(records) {
		return Outcome{}, xerrors.Newf(CodeLengthMismatch, "%d records but %d proofs", len(records), len(batchProofs))
	}

	root := e.root
	outcome := Outcome{BatchID: uuid.NewString(), Root: root, FailedIndex: -1}

	// 第一阶段：全部校验，遇到第一个失败即停止。
	for i, record := range records {
		ok, err := proofs.Verify(record, batchProofs[i], root)
		if err != nil {
			return Outcome{}, xerrors.Wrap(proofs.CodeInvalidProofStep, err, "malformed proof for record "+strconv.Itoa(i))
		}
		if !ok {
			outcome.FailedIndex = i
			logger.Audit().Warn("批次被拒绝：存在无效的 Merkle 证明",
				slog.String("batch_id", outcome.BatchID),
				slog.String("root", root.Hex()),
				slog.Int("failed_index", i),
				slog.Int("size", len(records)),
			)
			return outcome, nil
		}
	}

	// 第二阶段：全部有效，按原始顺序执行。
	outcome.Entries = e.log.appendBatch(outcome.BatchID, root, records, e.now())
	for _, entry := range outcome.Entries {
		e.logger.Debug("执行记录",
			slog.String("batch_id", entry.BatchID),
			slog.Int("index", entry.Index),
			slog.String("record", string(entry.Record)),
		)
	}
	outcome.Executed = true
	outcome.Count = len(records)

	logger.Audit().Info("批次执行成功",
		slog.String("batch_id", outcome.BatchID),
		slog.String("root", root.Hex()),
		slog.Int("count", outcome.Count),
	)
	return outcome, nil
}

// Executed 返回执行日志中全部条目的副本。
func (e *Engine) Executed() []Entry {
	return e.log.Entries()
}

// Log 返回引擎使用的执行日志。
func (e *Engine) Log() *ExecutionLog {
	return e.log
}
