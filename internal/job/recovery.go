package job

import (
	"context"
	"time"

	"SettleFlow-Chain/pkg/logger"
)

// DefaultCompletedRetention 是 completed 作业的默认保留时长。
const DefaultCompletedRetention = 24 * time.Hour

// staleActiveThreshold 之前被认领但没有收尾的作业视为崩溃滞留。
// 阈值要大于单次结算的最长耗时，避免误抢仍在执行的作业。
const staleActiveThreshold = 10 * time.Minute

// Recover 在进程启动时把仍需执行的作业重新投递到各自类别的队列，
// 保证崩溃前入队的作业不会丢失。重复投递由 Claim 守卫吸收。
func Recover(ctx context.Context, store Store, producers map[Category]Producer) error {
	// 先把崩溃时滞留在 active 的作业重置为 waiting，让它们进入下面的扫描。
	requeued, err := store.RequeueStale(ctx, staleActiveThreshold)
	if err != nil {
		return err
	}
	if requeued > 0 {
		logger.L().Info("重置滞留作业", "count", requeued)
	}
	for category, producer := range producers {
		jobs, err := store.ListRunnable(ctx, category, 0)
		if err != nil {
			return err
		}
		for _, pending := range jobs {
			if err := producer.Publish(ctx, pending.ID); err != nil {
				logger.L().Warn("恢复投递作业失败",
					"job_id", pending.ID,
					"category", string(category),
					"error", err,
				)
				continue
			}
		}
		if len(jobs) > 0 {
			logger.L().Info("恢复未完成作业",
				"category", string(category),
				"count", len(jobs),
			)
		}
	}
	return nil
}

// Janitor 周期性清理早于 retention 的 completed 作业，直到 ctx 取消。
// failed 与 dead 作业不在清理范围内。
func Janitor(ctx context.Context, store Store, interval, retention time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	if retention <= 0 {
		retention = DefaultCompletedRetention
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruned, err := store.PruneCompleted(ctx, retention)
			if err != nil {
				logger.L().Warn("清理已完成作业失败", "error", err)
				continue
			}
			if pruned > 0 {
				logger.L().Info("清理已完成作业", "count", pruned)
			}
		}
	}
}
