package job

import (
	"encoding/json"

	xerrors "SettleFlow-Chain/internal/errors"
)

// Category 按动作种类划分独立队列，互不阻塞。
type Category string

const (
	CategoryProvisioning Category = "wallet-provisioning"
	CategoryTransfer     Category = "transfer"
	CategorySwap         Category = "swap"
)

// Categories 返回全部作业类别，顺序固定。
func Categories() []Category {
	return []Category{CategoryProvisioning, CategoryTransfer, CategorySwap}
}

// IsValidCategory 检查类别是否为支持的枚举值。
func IsValidCategory(category Category) bool {
	switch category {
	case CategoryProvisioning, CategoryTransfer, CategorySwap:
		return true
	default:
		return false
	}
}

// Status 表示作业在队列生命周期中的状态。
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusDelayed   Status = "delayed"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusDead      Status = "dead"
)

// IsValidStatus 检查给定的作业状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusWaiting, StatusActive, StatusDelayed, StatusCompleted, StatusFailed, StatusDead:
		return true
	default:
		return false
	}
}

// DefaultMaxAttempts 是作业的默认尝试上限。
const DefaultMaxAttempts = 3

// Job 描述一条排队等待 worker 执行的持久化作业。
// Payload 携带执行所需的全部参数，RecordID 指向权威领域记录。
type Job struct {
	ID          string          `json:"id"`
	Category    Category        `json:"category"`
	RecordID    string          `json:"record_id"`
	UserID      string          `json:"user_id"`
	Payload     json.RawMessage `json:"payload"`
	Status      Status          `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	LastError   string          `json:"last_error,omitempty"`
	ErrorCode   string          `json:"error_code,omitempty"`
	NotBefore   int64           `json:"not_before,omitempty"`
	CreatedAt   int64           `json:"created_at"`
	UpdatedAt   int64           `json:"updated_at"`
}

var (
	// ErrJobNotFound 表示指定的作业不存在。
	ErrJobNotFound = xerrors.New(CodeJobNotFound, "job not found")
	// ErrJobConflict 表示作业在当前状态下无法进行所请求的操作。
	ErrJobConflict = xerrors.New(CodeJobConflict, "job conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrJobCompleted 表示作业已经成功完成，重复投递应静默吸收。
	ErrJobCompleted = xerrors.New(CodeJobCompleted, "job already completed", xerrors.WithSeverity(xerrors.SeverityInfo))
	// ErrJobExhausted 表示作业的尝试次数已经耗尽。
	ErrJobExhausted = xerrors.New(CodeJobExhausted, "job attempts exhausted", xerrors.WithSeverity(xerrors.SeverityCritical))
	// ErrJobNotDue 表示延迟作业尚未到达重试时间。
	ErrJobNotDue = xerrors.New(CodeJobNotDue, "job not due yet", xerrors.WithSeverity(xerrors.SeverityInfo))
)

const (
	CodeJobNotFound   xerrors.Code = "JOB_NOT_FOUND"
	CodeJobConflict   xerrors.Code = "JOB_CONFLICT"
	CodeJobCompleted  xerrors.Code = "JOB_COMPLETED"
	CodeJobExhausted  xerrors.Code = "JOB_ATTEMPTS_EXHAUSTED"
	CodeJobNotDue     xerrors.Code = "JOB_NOT_DUE"
	CodeJobPublish    xerrors.Code = "JOB_PUBLISH_FAILED"
	CodeJobProcessing xerrors.Code = "JOB_PROCESSING_FAILED"
	CodeJobCompensate xerrors.Code = "JOB_COMPENSATION_FAILED"
)

func init() {
	xerrors.Register(CodeJobNotFound, xerrors.Attributes{
		Message:   "job not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeJobConflict, xerrors.Attributes{
		Message:   "job conflict",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeJobCompleted, xerrors.Attributes{
		Message:   "job already completed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeJobExhausted, xerrors.Attributes{
		Message:   "job attempts exhausted",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeJobNotDue, xerrors.Attributes{
		Message:   "job not due yet",
		Severity:  xerrors.SeverityInfo,
		Retryable: true,
		Alert:     false,
	})
	xerrors.Register(CodeJobPublish, xerrors.Attributes{
		Message:   "failed to publish job",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeJobProcessing, xerrors.Attributes{
		Message:   "job execution failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeJobCompensate, xerrors.Attributes{
		Message:   "job compensation failed",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
}

func cloneJob(job *Job) *Job {
	clone := *job
	if job.Payload != nil {
		clone.Payload = make(json.RawMessage, len(job.Payload))
		copy(clone.Payload, job.Payload)
	}
	return &clone
}
