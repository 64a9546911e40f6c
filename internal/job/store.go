package job

import (
	"context"
	"time"
)

// Metrics 汇总某一类别队列中各状态的作业数量。
type Metrics struct {
	Category  Category `json:"category"`
	Waiting   int64    `json:"waiting"`
	Active    int64    `json:"active"`
	Delayed   int64    `json:"delayed"`
	Completed int64    `json:"completed"`
	Failed    int64    `json:"failed"`
	Dead      int64    `json:"dead"`
}

// Store 抽象了作业状态的持久化接口。
//
// Claim 是投递吸收点：completed 返回 ErrJobCompleted，active 返回
// ErrJobConflict，dead 返回 ErrJobExhausted，未到期的 delayed 返回
// ErrJobNotDue。成功认领会递增 Attempts 并将状态置为 active；当
// Attempts 已达上限时作业被置为 dead 并返回 ErrJobExhausted。
//
// MarkFailed 的 retryAt 为 0 表示终止重试，作业直接进入 dead。
//
// PruneCompleted 只清理 completed 作业；failed 与 dead 作业保留更久，
// 供排障与死信巡检使用。
//
// RequeueStale 把停留在 active 超过 olderThan 的作业重置为 waiting，
// 用于恢复崩溃时被认领但未收尾的作业；已计入的尝试次数保留。
type Store interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	Claim(ctx context.Context, id string) (*Job, error)
	MarkCompleted(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, code string, lastError string, retryAt int64) error
	Metrics(ctx context.Context, category Category) (Metrics, error)
	ListDead(ctx context.Context, category Category, limit int) ([]*Job, error)
	ListRunnable(ctx context.Context, category Category, limit int) ([]*Job, error)
	PruneCompleted(ctx context.Context, olderThan time.Duration) (int64, error)
	RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error)
	Close() error
}
