package job

import (
	"context"
	"time"
)

// Handler 处理来自消息队列的作业 ID。
type Handler func(ctx context.Context, jobID string) error

// Producer 负责向队列投递作业。PublishAfter 在延迟之后才让作业可见，
// 用于指数退避重试。
type Producer interface {
	Publish(ctx context.Context, jobID string) error
	PublishAfter(ctx context.Context, jobID string, delay time.Duration) error
	Close() error
}

// Consumer 负责从队列中消费作业。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。每个作业类别持有独立的队列实例。
type Queue interface {
	Producer
	Consumer
}
