package job

import "time"

// Backoff 计算重试前的延迟，按尝试次数指数增长并封顶。
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff 返回默认的退避策略：2s、4s、8s……封顶 1 分钟。
func DefaultBackoff() Backoff {
	return Backoff{Base: 2 * time.Second, Max: time.Minute}
}

// Delay 返回第 attempts 次失败后的等待时间。attempts 从 1 开始计数。
func (b Backoff) Delay(attempts int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = 2 * time.Second
	}
	max := b.Max
	if max <= 0 {
		max = time.Minute
	}
	if attempts < 1 {
		attempts = 1
	}
	delay := base
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
