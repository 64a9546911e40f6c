package tools

import (
	"context"
	"time"

	"SettleFlow-Chain/internal/auth"
	xerrors "SettleFlow-Chain/internal/errors"
	"SettleFlow-Chain/internal/job"
	"SettleFlow-Chain/internal/observability/metrics"
	"SettleFlow-Chain/internal/record"
	"SettleFlow-Chain/internal/settlement"
)

// ClientRegistry 提供按链名查找结算客户端的能力。
type ClientRegistry interface {
	Client(name string) (settlement.Client, bool)
	DefaultChain() string
}

// Service 承载全部动作处理器：账户动作同步完成，结算动作落记录、
// 入队后立即返回，读动作直连链上客户端。
type Service struct {
	records   record.Store
	jobs      job.Store
	producers map[job.Category]job.Producer
	accounts  *auth.Service
	registry  ClientRegistry
	collector *metrics.Collector
}

// Option 定义可选配置。
type Option func(*Service)

// WithMetricsCollector 配置指标收集器。
func WithMetricsCollector(collector *metrics.Collector) Option {
	return func(s *Service) {
		s.collector = collector
	}
}

// NewService 构造动作处理服务。
func NewService(records record.Store, jobs job.Store, producers map[job.Category]job.Producer,
	accounts *auth.Service, registry ClientRegistry, opts ...Option) (*Service, error) {
	if records == nil || jobs == nil || accounts == nil || registry == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "动作服务依赖不完整")
	}
	s := &Service{
		records:   records,
		jobs:      jobs,
		producers: producers,
		accounts:  accounts,
		registry:  registry,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// QueueMetrics 返回某一类别队列的状态计数快照。
func (s *Service) QueueMetrics(ctx context.Context, category job.Category) (job.Metrics, error) {
	if !job.IsValidCategory(category) {
		return job.Metrics{}, xerrors.New(xerrors.CodeValidation, "未知的队列类别", xerrors.WithField("category"))
	}
	return s.jobs.Metrics(ctx, category)
}

// DeadJobs 返回某一类别的死信作业，供排障查看。
func (s *Service) DeadJobs(ctx context.Context, category job.Category, limit int) ([]*job.Job, error) {
	if !job.IsValidCategory(category) {
		return nil, xerrors.New(xerrors.CodeValidation, "未知的队列类别", xerrors.WithField("category"))
	}
	if limit <= 0 {
		limit = 50
	}
	return s.jobs.ListDead(ctx, category, limit)
}

// WaitUntilSettled 轮询结算记录直到进入终态或超时，供测试与命令行调用方使用。
func (s *Service) WaitUntilSettled(ctx context.Context, category job.Category, recordID string, interval time.Duration) (record.Status, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := s.recordStatus(ctx, category, recordID)
		if err != nil {
			return "", err
		}
		if status.IsTerminal() {
			return status, nil
		}
		select {
		case <-ctx.Done():
			return status, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Service) recordStatus(ctx context.Context, category job.Category, recordID string) (record.Status, error) {
	switch category {
	case job.CategoryProvisioning:
		prov, err := s.records.GetProvisioning(ctx, recordID)
		if err != nil {
			return "", err
		}
		return prov.Status, nil
	case job.CategoryTransfer:
		tx, err := s.records.GetTransaction(ctx, recordID)
		if err != nil {
			return "", err
		}
		return tx.Status, nil
	case job.CategorySwap:
		swap, err := s.records.GetSwap(ctx, recordID)
		if err != nil {
			return "", err
		}
		return swap.Status, nil
	default:
		return "", xerrors.New(xerrors.CodeValidation, "未知的队列类别", xerrors.WithField("category"))
	}
}

func (s *Service) producer(category job.Category) (job.Producer, error) {
	producer, ok := s.producers[category]
	if !ok || producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "类别 "+string(category)+" 未配置队列")
	}
	return producer, nil
}

func (s *Service) client(chain string) (settlement.Client, error) {
	if chain == "" {
		chain = s.registry.DefaultChain()
	}
	client, ok := s.registry.Client(chain)
	if !ok {
		return nil, xerrors.New(xerrors.CodeValidation, "链 "+chain+" 未配置", xerrors.WithField("chain"))
	}
	return client, nil
}
