package job

import (
	"context"
	"sort"
	"sync"
	"time"

	xerrors "SettleFlow-Chain/internal/errors"
)

// MemoryStore 以内存方式保存作业状态，主要用于测试。
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job)}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job == nil || job.ID == "" {
		return xerrors.New(xerrors.CodeValidation, "作业 ID 不能为空")
	}
	if !IsValidCategory(job.Category) {
		return xerrors.New(xerrors.CodeValidation, "未知的作业类别", xerrors.WithField("category"))
	}
	if _, ok := m.jobs[job.ID]; ok {
		return ErrJobConflict
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = DefaultMaxAttempts
	}
	if job.Status == "" {
		job.Status = StatusWaiting
	}
	now := time.Now().Unix()
	if job.CreatedAt == 0 {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	m.jobs[job.ID] = cloneJob(job)
	return nil
}

// Get 返回作业。
func (m *MemoryStore) Get(_ context.Context, id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return cloneJob(job), nil
}

// Claim 认领作业并递增尝试计数。重复投递在此被吸收。
func (m *MemoryStore) Claim(_ context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	switch job.Status {
	case StatusCompleted:
		return cloneJob(job), ErrJobCompleted
	case StatusActive:
		return cloneJob(job), ErrJobConflict
	case StatusDead:
		return cloneJob(job), ErrJobExhausted
	case StatusDelayed:
		if job.NotBefore > time.Now().Unix() {
			return cloneJob(job), ErrJobNotDue
		}
	}
	if job.Attempts >= job.MaxAttempts {
		job.Status = StatusDead
		job.UpdatedAt = time.Now().Unix()
		return cloneJob(job), ErrJobExhausted
	}
	job.Status = StatusActive
	job.Attempts++
	job.NotBefore = 0
	job.UpdatedAt = time.Now().Unix()
	return cloneJob(job), nil
}

// MarkCompleted 记录作业成功。
func (m *MemoryStore) MarkCompleted(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	job.Status = StatusCompleted
	job.LastError = ""
	job.ErrorCode = ""
	job.NotBefore = 0
	job.UpdatedAt = time.Now().Unix()
	return nil
}

// MarkFailed 记录失败。retryAt 为 0 或尝试耗尽时作业进入 dead。
func (m *MemoryStore) MarkFailed(_ context.Context, id string, code string, lastError string, retryAt int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	job.LastError = lastError
	job.ErrorCode = code
	job.UpdatedAt = time.Now().Unix()
	if retryAt <= 0 || job.Attempts >= job.MaxAttempts {
		job.Status = StatusDead
		job.NotBefore = 0
		return nil
	}
	job.Status = StatusDelayed
	job.NotBefore = retryAt
	return nil
}

// Metrics 统计类别下各状态的作业数量。
func (m *MemoryStore) Metrics(_ context.Context, category Category) (Metrics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	metrics := Metrics{Category: category}
	for _, job := range m.jobs {
		if job.Category != category {
			continue
		}
		switch job.Status {
		case StatusWaiting:
			metrics.Waiting++
		case StatusActive:
			metrics.Active++
		case StatusDelayed:
			metrics.Delayed++
		case StatusCompleted:
			metrics.Completed++
		case StatusFailed:
			metrics.Failed++
		case StatusDead:
			metrics.Dead++
		}
	}
	return metrics, nil
}

// ListDead 返回类别下最近进入 dead 的作业。
func (m *MemoryStore) ListDead(_ context.Context, category Category, limit int) ([]*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 {
		limit = 20
	}
	results := make([]*Job, 0, limit)
	for _, job := range m.jobs {
		if job.Category != category || job.Status != StatusDead {
			continue
		}
		results = append(results, cloneJob(job))
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].UpdatedAt == results[j].UpdatedAt {
			return results[i].ID < results[j].ID
		}
		return results[i].UpdatedAt > results[j].UpdatedAt
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// ListRunnable 返回类别下仍需执行的作业（waiting、failed 以及已到期的 delayed）。
func (m *MemoryStore) ListRunnable(_ context.Context, category Category, limit int) ([]*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 {
		limit = 128
	}
	now := time.Now().Unix()
	results := make([]*Job, 0, limit)
	for _, job := range m.jobs {
		if job.Category != category {
			continue
		}
		switch job.Status {
		case StatusWaiting, StatusFailed:
		case StatusDelayed:
			if job.NotBefore > now {
				continue
			}
		default:
			continue
		}
		results = append(results, cloneJob(job))
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].CreatedAt == results[j].CreatedAt {
			return results[i].ID < results[j].ID
		}
		return results[i].CreatedAt < results[j].CreatedAt
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// PruneCompleted 删除早于 olderThan 的 completed 作业，返回删除数量。
func (m *MemoryStore) PruneCompleted(_ context.Context, olderThan time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-olderThan).Unix()
	var pruned int64
	for id, job := range m.jobs {
		if job.Status != StatusCompleted || job.UpdatedAt > cutoff {
			continue
		}
		delete(m.jobs, id)
		pruned++
	}
	return pruned, nil
}

// RequeueStale 把停留在 active 超过 olderThan 的作业重置为 waiting。
func (m *MemoryStore) RequeueStale(_ context.Context, olderThan time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-olderThan).Unix()
	var requeued int64
	for _, job := range m.jobs {
		if job.Status != StatusActive || job.UpdatedAt > cutoff {
			continue
		}
		job.Status = StatusWaiting
		job.NotBefore = 0
		job.UpdatedAt = time.Now().Unix()
		requeued++
	}
	return requeued, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

// ensure interface compliance at compile time
var _ Store = (*MemoryStore)(nil)
