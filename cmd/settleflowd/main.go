package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"SettleFlow-Chain/internal/action"
	"SettleFlow-Chain/internal/api"
	"SettleFlow-Chain/internal/auth"
	"SettleFlow-Chain/internal/config"
	"SettleFlow-Chain/internal/job"
	"SettleFlow-Chain/internal/observability/alerting"
	"SettleFlow-Chain/internal/observability/metrics"
	"SettleFlow-Chain/internal/orchestrator"
	"SettleFlow-Chain/internal/record"
	"SettleFlow-Chain/internal/settlement/provider"
	"SettleFlow-Chain/internal/tools"
	"SettleFlow-Chain/internal/worker"
	"SettleFlow-Chain/pkg/logger"
)

// main 是 SettleFlow 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("settleflowd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("SETTLEFLOW_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "settleflow.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer logger.Sync()

	records, err := newRecordStore(cfg)
	if err != nil {
		return err
	}
	defer records.Close()

	jobs, err := newJobStore(cfg)
	if err != nil {
		return err
	}
	defer jobs.Close()

	queues, err := newQueues(cfg)
	if err != nil {
		return err
	}
	defer func() {
		for _, queue := range queues {
			if err := queue.Close(); err != nil {
				logger.L().Warn("关闭作业队列失败", slog.Any("error", err))
			}
		}
	}()
	producers := make(map[job.Category]job.Producer, len(queues))
	for category, queue := range queues {
		producers[category] = queue
	}

	registry, err := provider.NewRegistry(ctx, provider.Config{
		ChainConfig:  cfg.Settlement.ChainConfig,
		DefaultChain: cfg.Settlement.DefaultChain,
		OperatorKey:  cfg.Settlement.OperatorKey,
	})
	if err != nil {
		return err
	}
	defer registry.Close()

	accounts, err := auth.NewService(records, auth.Config{
		Secret:    cfg.Auth.Secret,
		Issuer:    cfg.Auth.Issuer,
		AccessTTL: cfg.Auth.AccessTTL,
	})
	if err != nil {
		return err
	}

	collector := metrics.NewCollector()
	alerter := alerting.NewFanout(&alerting.LogNotifier{})

	handlers, err := tools.NewService(records, jobs, producers, accounts, registry,
		tools.WithMetricsCollector(collector))
	if err != nil {
		return err
	}
	dispatcher, err := orchestrator.New(handlers)
	if err != nil {
		return err
	}

	executors := map[job.Category]worker.Executor{
		job.CategoryProvisioning: worker.NewWalletExecutor(records, registry),
		job.CategoryTransfer:     worker.NewTransferExecutor(records, registry),
		job.CategorySwap:         worker.NewSwapExecutor(records, registry),
	}

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()
	for category, executor := range executors {
		queue, ok := queues[category]
		if !ok {
			return fmt.Errorf("类别 %s 缺少队列", category)
		}
		processor := worker.NewProcessor(category, executor, jobs, queue,
			worker.WithWorkerCount(cfg.JobQueue.Worker),
			worker.WithAlertDispatcher(alerter),
			worker.WithMetricsCollector(collector),
		)
		go func(category job.Category, processor *worker.Processor) {
			if err := processor.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.L().Error("作业处理器异常退出",
					slog.Any("error", err),
					slog.String("category", string(category)),
				)
			}
		}(category, processor)
	}

	// 进程重启后把仍可执行的作业重新投递一遍。
	recoverCtx, cancelRecover := context.WithTimeout(ctx, 30*time.Second)
	if err := job.Recover(recoverCtx, jobs, producers); err != nil {
		logger.L().Warn("启动恢复扫描失败", slog.Any("error", err))
	}
	cancelRecover()

	go job.Janitor(ctx, jobs, time.Hour, job.DefaultCompletedRetention)

	if cfg.Metrics.Enabled {
		go func() {
			if err := collector.StartServer(ctx, cfg.Metrics.Address); err != nil && !errors.Is(err, context.Canceled) {
				logger.L().Error("指标服务异常退出", slog.Any("error", err))
			}
		}()
	}

	validator := action.NewValidator(registry.Chains())
	server := api.NewServer(cfg.Server.Address, validator, dispatcher, handlers, accounts,
		api.WithMetricsCollector(collector),
		api.WithQueueDriver(cfg.JobQueue.Driver),
	)

	logger.L().Info("settleflowd 已启动",
		slog.String("address", cfg.Server.Address),
		slog.String("storage", cfg.Storage.Driver),
		slog.String("queue", cfg.JobQueue.Driver),
		slog.String("default_chain", registry.DefaultChain()),
	)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newRecordStore(cfg *config.Config) (record.Store, error) {
	switch cfg.Storage.Driver {
	case "", "memory":
		return record.NewMemoryStore(), nil
	case "mysql":
		return record.NewMySQLStore(cfg.Storage.DSN)
	default:
		return nil, fmt.Errorf("未知的存储驱动: %s", cfg.Storage.Driver)
	}
}

func newJobStore(cfg *config.Config) (job.Store, error) {
	switch cfg.Storage.Driver {
	case "", "memory":
		return job.NewMemoryStore(), nil
	case "mysql":
		return job.NewMySQLStore(cfg.Storage.DSN)
	default:
		return nil, fmt.Errorf("未知的存储驱动: %s", cfg.Storage.Driver)
	}
}

// newQueues 为每个作业类别建立独立队列，避免慢类别阻塞其他类别。
func newQueues(cfg *config.Config) (map[job.Category]job.Queue, error) {
	queues := make(map[job.Category]job.Queue, len(job.Categories()))
	for _, category := range job.Categories() {
		switch cfg.JobQueue.Driver {
		case "", "memory":
			queues[category] = job.NewMemoryQueue(1024)
		case "redis":
			queue, err := job.NewRedisQueue(job.RedisQueueConfig{
				Address:   cfg.JobQueue.Redis.Address,
				Password:  cfg.JobQueue.Redis.Password,
				DB:        cfg.JobQueue.Redis.DB,
				Queue:     "settleflow:jobs:" + string(category),
				BlockWait: time.Duration(cfg.JobQueue.Redis.BlockWait) * time.Second,
			})
			if err != nil {
				return nil, err
			}
			queues[category] = queue
		case "rabbitmq":
			queue, err := job.NewRabbitMQQueue(job.RabbitMQConfig{
				URL:        cfg.JobQueue.RabbitMQ.URL,
				Queue:      "settleflow.jobs." + string(category),
				Prefetch:   cfg.JobQueue.RabbitMQ.Prefetch,
				Durable:    cfg.JobQueue.RabbitMQ.Durable,
				AutoDelete: cfg.JobQueue.RabbitMQ.AutoDelete,
			})
			if err != nil {
				return nil, err
			}
			queues[category] = queue
		default:
			return nil, fmt.Errorf("未知的队列驱动: %s", cfg.JobQueue.Driver)
		}
	}
	return queues, nil
}
