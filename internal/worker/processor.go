package worker

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	xerrors "SettleFlow-Chain/internal/errors"
	"SettleFlow-Chain/internal/job"
	"SettleFlow-Chain/internal/observability/alerting"
	"SettleFlow-Chain/internal/observability/metrics"
	"SettleFlow-Chain/pkg/logger"
)

// CodeRecordTerminal 表示权威记录已经失败，作业不应再被执行。
const CodeRecordTerminal xerrors.Code = "RECORD_TERMINAL"

func init() {
	xerrors.Register(CodeRecordTerminal, xerrors.Attributes{
		Message:   "record already in terminal state",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
}

// Outcome 描述一次作业执行的结果。
type Outcome struct {
	// Reference 是链上交易哈希。幂等短路时为空。
	Reference string
	// Address 是钱包开通作业产出的地址。
	Address string
	// Deployed 为 true 表示本次真正部署了钱包；false 表示复用已有钱包。
	Deployed bool
	// Note 是写入审计日志的补充说明。
	Note string
}

// Executor 定义了某一作业类别的执行能力。Execute 必须先复核权威记录的
// 状态：终态记录直接短路返回，保证重复投递不产生二次结算。Abandon 在
// 作业进入死信时将权威记录置为 failed。
type Executor interface {
	Execute(ctx context.Context, j *job.Job) (Outcome, error)
	Abandon(ctx context.Context, j *job.Job, cause error) error
}

// Processor 负责从某一类别的队列消费作业并交给执行器处理。
type Processor struct {
	category    job.Category
	executor    Executor
	store       job.Store
	consumer    job.Consumer
	producer    job.Producer
	backoff     job.Backoff
	workerCount int
	logger      *slog.Logger
	alerter     alerting.Dispatcher
	collector   *metrics.Collector
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithBackoff 覆盖默认的重试退避策略。
func WithBackoff(backoff job.Backoff) ProcessorOption {
	return func(p *Processor) {
		p.backoff = backoff
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// WithMetricsCollector 配置指标收集器。
func WithMetricsCollector(collector *metrics.Collector) ProcessorOption {
	return func(p *Processor) {
		p.collector = collector
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(category job.Category, executor Executor, store job.Store, queue job.Queue, opts ...ProcessorOption) *Processor {
	p := &Processor{
		category:    category,
		executor:    executor,
		store:       store,
		consumer:    queue,
		producer:    queue,
		backoff:     job.DefaultBackoff(),
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	return p
}

// Start 启动作业处理循环。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置作业消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, jobID string) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	started := time.Now()

	claimed, err := p.store.Claim(ctx, jobID)
	switch {
	case err == nil:
	case stdErrors.Is(err, job.ErrJobNotFound), stdErrors.Is(err, job.ErrJobCompleted), stdErrors.Is(err, job.ErrJobConflict):
		p.logDebug("跳过作业", slog.String("job_id", jobID), slog.String("reason", err.Error()))
		return nil
	case stdErrors.Is(err, job.ErrJobNotDue):
		// 提前到达的延迟作业重新排期。
		if claimed != nil && claimed.NotBefore > 0 {
			delay := time.Until(time.Unix(claimed.NotBefore, 0))
			if pubErr := p.producer.PublishAfter(ctx, jobID, delay); pubErr != nil {
				return xerrors.Wrap(job.CodeJobPublish, pubErr, fmt.Sprintf("作业 %s 重新排期失败", jobID))
			}
		}
		return nil
	case stdErrors.Is(err, job.ErrJobExhausted):
		// 认领时发现尝试已耗尽，作业刚被置为 dead。
		p.handleDead(ctx, claimed, job.ErrJobExhausted)
		return nil
	default:
		logger.L().Error("领取作业失败", slog.Any("error", err), slog.String("job_id", jobID))
		return err
	}

	p.collector.RecordClaim(string(p.category))

	outcome, execErr := p.executor.Execute(ctx, claimed)
	if execErr != nil {
		return p.handleExecutionFailure(ctx, claimed, execErr)
	}

	if err := p.store.MarkCompleted(ctx, claimed.ID); err != nil {
		logger.L().Error("标记作业成功状态失败", slog.Any("error", err), slog.String("job_id", claimed.ID))
		delay := p.backoff.Delay(claimed.Attempts)
		retryAt := time.Now().Add(delay).Unix()
		if storeErr := p.store.MarkFailed(ctx, claimed.ID, string(job.CodeJobProcessing), err.Error(), retryAt); storeErr != nil {
			logger.L().Error("回写失败状态出错", slog.Any("error", storeErr), slog.String("job_id", claimed.ID))
			return storeErr
		}
		if pubErr := p.producer.PublishAfter(ctx, claimed.ID, delay); pubErr != nil {
			return xerrors.Wrap(job.CodeJobPublish, pubErr, fmt.Sprintf("作业 %s 在标记成功失败后重投失败", claimed.ID))
		}
		return nil
	}

	p.collector.RecordCompleted(string(p.category), time.Since(started))
	logger.Audit().Info("作业执行成功",
		slog.String("job_id", claimed.ID),
		slog.String("category", string(claimed.Category)),
		slog.String("record_id", claimed.RecordID),
		slog.String("reference", outcome.Reference),
		slog.String("address", outcome.Address),
		slog.Bool("deployed", outcome.Deployed),
		slog.String("note", outcome.Note),
		slog.Int("attempts", claimed.Attempts),
	)
	return nil
}

func (p *Processor) handleExecutionFailure(ctx context.Context, claimed *job.Job, execErr error) error {
	code := xerrors.CodeOf(execErr)
	if code == xerrors.CodeUnknown {
		code = job.CodeJobProcessing
	}
	retryable := xerrors.RetryableError(execErr)
	terminal := claimed.Attempts >= claimed.MaxAttempts || !retryable

	var retryAt int64
	var delay time.Duration
	if !terminal {
		delay = p.backoff.Delay(claimed.Attempts)
		retryAt = time.Now().Add(delay).Unix()
	}
	if storeErr := p.store.MarkFailed(ctx, claimed.ID, string(code), execErr.Error(), retryAt); storeErr != nil {
		logger.L().Error("标记作业失败状态出错", slog.Any("error", storeErr), slog.String("job_id", claimed.ID))
		return storeErr
	}

	logger.Audit().Warn("作业执行失败",
		slog.String("job_id", claimed.ID),
		slog.String("category", string(claimed.Category)),
		slog.String("record_id", claimed.RecordID),
		slog.Bool("terminal", terminal),
		slog.String("error", execErr.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", claimed.Attempts),
		slog.Int("max_attempts", claimed.MaxAttempts),
	)

	if terminal {
		p.handleDead(ctx, claimed, execErr)
		return nil
	}

	p.collector.RecordRetry(string(p.category))
	if pubErr := p.producer.PublishAfter(ctx, claimed.ID, delay); pubErr != nil {
		return xerrors.Wrap(job.CodeJobPublish, pubErr, fmt.Sprintf("作业 %s 重投失败", claimed.ID))
	}
	p.logDebug("作业已重新排期",
		slog.String("job_id", claimed.ID),
		slog.Int("attempts", claimed.Attempts),
		slog.Duration("delay", delay),
	)
	return nil
}

// handleDead 在作业进入死信时回写权威记录并发出告警。
func (p *Processor) handleDead(ctx context.Context, claimed *job.Job, cause error) {
	if claimed == nil {
		return
	}
	p.collector.RecordDead(string(p.category))
	if err := p.executor.Abandon(ctx, claimed, cause); err != nil {
		logger.L().Error("回写权威记录失败",
			slog.Any("error", err),
			slog.String("job_id", claimed.ID),
			slog.String("record_id", claimed.RecordID),
		)
	}
	p.emitAlert(ctx, claimed, cause)
}

func (p *Processor) logDebug(msg string, attrs ...slog.Attr) {
	if p.logger != nil {
		args := make([]any, len(attrs))
		for i, attr := range attrs {
			args[i] = attr
		}
		p.logger.Debug(msg, args...)
	}
}

func (p *Processor) emitAlert(ctx context.Context, claimed *job.Job, cause error) {
	if p == nil || p.alerter == nil || claimed == nil {
		return
	}
	code := xerrors.CodeOf(cause)
	if code == xerrors.CodeUnknown {
		code = job.CodeJobExhausted
	}
	attrs := xerrors.AttributesOf(code)
	message := attrs.Message
	if cause != nil {
		message = cause.Error()
	}
	event := alerting.Event{
		Code:        code,
		Message:     message,
		Severity:    attrs.Severity,
		JobID:       claimed.ID,
		Category:    string(claimed.Category),
		Attempts:    claimed.Attempts,
		MaxAttempts: claimed.MaxAttempts,
		Metadata:    map[string]string{"record_id": claimed.RecordID},
		OccurredAt:  time.Now(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("job_id", claimed.ID),
		)
	}
}
