// Package service 将批处理引擎与归档、投递、指标和告警组合在一起，
// 是 API 与命令行共同使用的业务入口。
package service

import (
	"context"
	"io"
	"log/slog"
	"time"

	"MerkleBatch-Chain/internal/batch"
	"MerkleBatch-Chain/internal/dispatch"
	xerrors "MerkleBatch-Chain/internal/errors"
	"MerkleBatch-Chain/internal/observability/alerting"
	"MerkleBatch-Chain/internal/observability/metrics"
	"MerkleBatch-Chain/internal/proofs"
	"MerkleBatch-Chain/internal/storage/mysql"
	"MerkleBatch-Chain/pkg/logger"
)

// Commitment 是对一批记录构建的承诺：根、叶子哈希与每条记录的证明。
type Commitment struct {
	Root   proofs.Digest   `json:"root"`
	Leaves []proofs.Digest `json:"leaves"`
	Proofs []proofs.Proof  `json:"proofs"`
}

// Service 封装批处理引擎。引擎做出的决定是原子的；归档与投递在决定之后进行，
// 它们的失败只记录日志、计数并告警，不会改变批次结果。
type Service struct {
	engine    *batch.Engine
	repo      mysql.BatchRepository
	publisher dispatch.Publisher
	metrics   *metrics.Collector
	alerter   alerting.Dispatcher
	logger    *slog.Logger
	now       func() time.Time
}

// Option 定义可选配置。
type Option func(*Service)

// WithRepository 配置批次归档。
func WithRepository(repo mysql.BatchRepository) Option {
	return func(s *Service) { s.repo = repo }
}

// WithPublisher 配置已执行记录的投递器。
func WithPublisher(p dispatch.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithMetrics 配置指标采集器。
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Service) { s.metrics = c }
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(d alerting.Dispatcher) Option {
	return func(s *Service) { s.alerter = d }
}

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock 替换归档时间来源。
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New 构造 Service。engine 为空时使用默认配置的引擎。
func New(engine *batch.Engine, opts ...Option) *Service {
	if engine == nil {
		engine = batch.NewEngine()
	}
	s := &Service{engine: engine, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.logger == nil {
		s.logger = logger.Named("service")
	}
	return s
}

// Engine 返回底层引擎。
func (s *Service) Engine() *batch.Engine {
	return s.engine
}

// Prove 为一批记录构建 Merkle 树并返回根与全部证明，不修改引擎状态。
func (s *Service) Prove(records []proofs.Record) (Commitment, error) {
	if len(records) != s.engine.BatchSize() {
		return Commitment{}, xerrors.Newf(proofs.CodeInvalidBatchSize, "expected %d signed records, got %d", s.engine.BatchSize(), len(records))
	}
	tree, err := proofs.Build(records)
	if err != nil {
		return Commitment{}, err
	}
	return Commitment{
		Root:   tree.Root(),
		Leaves: tree.Leaves(),
		Proofs: tree.Proofs(),
	}, nil
}

// Commit 构建承诺并把根提交给引擎。
func (s *Service) Commit(ctx context.Context, records []proofs.Record) (Commitment, error) {
	c, err := s.Prove(records)
	if err != nil {
		return Commitment{}, err
	}
	if err := s.SetRoot(ctx, c.Root.Bytes()); err != nil {
		return Commitment{}, err
	}
	return c, nil
}

// SetRoot 提交新的批次根。
func (s *Service) SetRoot(_ context.Context, root []byte) error {
	if err := s.engine.SetRoot(root); err != nil {
		return err
	}
	s.metrics.ObserveRootUpdate()
	return nil
}

// Root 返回当前提交的根。
func (s *Service) Root() (proofs.Digest, bool) {
	return s.engine.Root()
}

// Execute 执行一批记录。结构性错误以 error 返回；证明失败以 Executed 为 false 的结果返回。
func (s *Service) Execute(ctx context.Context, records []proofs.Record, batchProofs []proofs.Proof) (batch.Outcome, error) {
	outcome, err := s.engine.ExecuteBatch(records, batchProofs)
	if err != nil {
		s.metrics.ObserveBatch(metrics.OutcomeInvalid, len(records))
		return batch.Outcome{}, err
	}

	if outcome.Executed {
		s.metrics.ObserveBatch(metrics.OutcomeExecuted, outcome.Count)
	} else {
		s.metrics.ObserveBatch(metrics.OutcomeRejected, len(records))
	}

	s.archive(ctx, outcome, len(records))
	if outcome.Executed {
		s.dispatch(ctx, outcome)
	}
	return outcome, nil
}

func (s *Service) archive(ctx context.Context, outcome batch.Outcome, size int) {
	if s.repo == nil {
		return
	}
	record := mysql.BatchRecord{
		BatchID:     outcome.BatchID,
		Root:        outcome.Root.Hex(),
		Executed:    outcome.Executed,
		RecordCount: size,
		FailedIndex: outcome.FailedIndex,
		CreatedAt:   s.now().UnixMilli(),
	}
	if err := s.repo.Save(ctx, record); err != nil {
		s.sideEffectFailed(ctx, metrics.StageArchive, outcome.BatchID, err)
	}
}

// dispatch 按执行顺序投递记录，遇到第一次失败即停止，避免下游看到乱序。
func (s *Service) dispatch(ctx context.Context, outcome batch.Outcome) {
	if s.publisher == nil {
		return
	}
	for _, entry := range outcome.Entries {
		msg := dispatch.Message{
			Seq:        entry.Seq,
			BatchID:    entry.BatchID,
			Index:      entry.Index,
			Root:       entry.Root,
			Record:     entry.Record,
			ExecutedAt: entry.ExecutedAt,
		}
		if err := s.publisher.Publish(ctx, msg); err != nil {
			s.sideEffectFailed(ctx, metrics.StageDispatch, outcome.BatchID, err)
			return
		}
	}
}

func (s *Service) sideEffectFailed(ctx context.Context, stage, batchID string, err error) {
	s.logger.Error("批次后续处理失败",
		slog.String("stage", stage),
		slog.String("batch_id", batchID),
		slog.Any("error", err),
	)
	s.metrics.ObserveSideEffectFailure(stage)
	if s.alerter == nil {
		return
	}
	if e, ok := xerrors.From(err); ok && !e.ShouldAlert() {
		return
	}
	if alertErr := s.alerter.Notify(ctx, alerting.EventFromError(stage, batchID, err)); alertErr != nil {
		s.logger.Warn("告警发送失败", slog.String("batch_id", batchID), slog.Any("error", alertErr))
	}
}

// Verify 独立校验一条记录的证明。
func (s *Service) Verify(record proofs.Record, proof proofs.Proof, root []byte) (bool, error) {
	if len(root) != proofs.DigestSize {
		return false, xerrors.Newf(batch.CodeInvalidRootLength, "merkle root must be 32 bytes, got %d", len(root))
	}
	var digest proofs.Digest
	copy(digest[:], root)
	ok, err := proofs.Verify(record, proof, digest)
	if err != nil {
		return false, err
	}
	s.metrics.ObserveVerification(ok)
	return ok, nil
}

// Executions 返回最近 limit 条已执行记录，按执行顺序排列。
func (s *Service) Executions(limit int) []batch.Entry {
	return s.engine.Log().Latest(limit)
}

// History 返回最近归档的批次结果。
func (s *Service) History(ctx context.Context, limit int) ([]mysql.BatchRecord, error) {
	if s.repo == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "批次归档未配置")
	}
	return s.repo.ListLatest(ctx, limit)
}

// Close 释放投递器与归档连接。
func (s *Service) Close() error {
	var firstErr error
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			firstErr = err
		}
	}
	if closer, ok := s.repo.(io.Closer); ok {
		if err := closer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
