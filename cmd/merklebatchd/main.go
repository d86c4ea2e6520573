package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"MerkleBatch-Chain/internal/api"
	"MerkleBatch-Chain/internal/batch"
	"MerkleBatch-Chain/internal/config"
	"MerkleBatch-Chain/internal/dispatch"
	"MerkleBatch-Chain/internal/observability/alerting"
	"MerkleBatch-Chain/internal/observability/metrics"
	"MerkleBatch-Chain/internal/service"
	"MerkleBatch-Chain/internal/storage/mysql"
	"MerkleBatch-Chain/pkg/logger"
)

// main 是 MerkleBatch 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("merklebatchd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(config.PathFromEnv())
	if err != nil {
		return err
	}

	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	defer logger.Sync()

	repo, err := newBatchRepository(ctx, cfg.Storage.BatchStore)
	if err != nil {
		return err
	}

	publisher, err := dispatch.New(ctx, cfg.Dispatch)
	if err != nil {
		if closer, ok := repo.(interface{ Close() error }); ok {
			_ = closer.Close()
		}
		return err
	}

	notifiers := []alerting.Notifier{&alerting.LogNotifier{}}
	if cfg.Alerting.WebhookURL != "" {
		notifiers = append(notifiers, alerting.NewWebhookNotifier(cfg.Alerting.WebhookURL, cfg.Alerting.TimeoutDuration()))
	}

	collector := metrics.NewCollector()
	engine := batch.NewEngine(batch.WithBatchSize(cfg.Batch.Size))
	svc := service.New(engine,
		service.WithRepository(repo),
		service.WithPublisher(publisher),
		service.WithMetrics(collector),
		service.WithAlertDispatcher(alerting.NewFanout(notifiers...)),
	)
	defer func() {
		if err := svc.Close(); err != nil {
			logger.L().Warn("关闭服务资源失败", slog.Any("error", err))
		}
	}()

	logger.L().Info("merklebatchd 启动",
		slog.String("address", cfg.Server.Address),
		slog.Int("batch_size", engine.BatchSize()),
		slog.String("batch_store", cfg.Storage.BatchStore.Driver),
		slog.String("dispatch", cfg.Dispatch.Driver),
	)

	if addr := cfg.Server.MetricsAddress; addr != "" {
		go func() {
			if err := collector.StartServer(ctx, addr); err != nil && !errors.Is(err, context.Canceled) {
				logger.L().Error("指标服务退出", slog.String("address", addr), slog.Any("error", err))
			}
		}()
	}

	server := api.NewServer(cfg.Server.Address, svc,
		api.WithMetrics(collector),
		api.WithShutdownTimeout(cfg.Server.ShutdownDuration()),
	)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.L().Info("merklebatchd 已退出")
	return nil
}

func newBatchRepository(ctx context.Context, cfg config.BatchStoreConfig) (mysql.BatchRepository, error) {
	switch cfg.Driver {
	case "memory", "":
		return mysql.NewMemoryBatchRepository(cfg.MemoryCapacity), nil
	case "mysql":
		lifetime, err := cfg.ConnMaxLifetimeDuration()
		if err != nil {
			return nil, err
		}
		repo, err := mysql.NewSQLBatchRepository(ctx, mysql.Config{
			DSN:             cfg.DSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: lifetime,
		})
		if err != nil {
			return nil, err
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("未知的归档驱动: %s", cfg.Driver)
	}
}
