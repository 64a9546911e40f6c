package job

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "SettleFlow-Chain/internal/errors"
)

// MySQLStore 使用 MySQL 记录作业状态。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 创建一个新的 MySQLStore。
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store := &MySQLStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *MySQLStore) initSchema() error {
	const schema = `CREATE TABLE IF NOT EXISTS job_states (
        id VARCHAR(64) PRIMARY KEY,
        category VARCHAR(32) NOT NULL,
        record_id VARCHAR(64) NOT NULL,
        user_id VARCHAR(64) NOT NULL,
        payload TEXT,
        status VARCHAR(16) NOT NULL,
        attempts INT NOT NULL DEFAULT 0,
        max_attempts INT NOT NULL DEFAULT 3,
        last_error TEXT,
        error_code VARCHAR(64) DEFAULT '',
        not_before BIGINT NOT NULL DEFAULT 0,
        created_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        INDEX idx_job_category_status (category, status),
        INDEX idx_job_updated (updated_at)
)`
	if _, err := s.db.Exec(schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 job_states 表失败")
	}
	return nil
}

// Create 插入新的作业记录。
func (s *MySQLStore) Create(ctx context.Context, job *Job) error {
	if job == nil || strings.TrimSpace(job.ID) == "" {
		return xerrors.New(xerrors.CodeValidation, "作业 ID 不能为空")
	}
	if !IsValidCategory(job.Category) {
		return xerrors.New(xerrors.CodeValidation, "未知的作业类别", xerrors.WithField("category"))
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = DefaultMaxAttempts
	}
	if job.Status == "" {
		job.Status = StatusWaiting
	}
	now := time.Now().Unix()
	job.CreatedAt = now
	job.UpdatedAt = now

	const stmt = `INSERT INTO job_states
        (id, category, record_id, user_id, payload, status, attempts, max_attempts, last_error, error_code, not_before, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, '', '', 0, ?, ?)`
	_, err := s.db.ExecContext(ctx, stmt,
		job.ID, job.Category, job.RecordID, job.UserID, string(job.Payload),
		job.Status, job.Attempts, job.MaxAttempts, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrJobConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入作业失败")
	}
	return nil
}

// Get 查询指定作业。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Job, error) {
	const stmt = `SELECT id, category, record_id, user_id, payload, status, attempts, max_attempts,
        COALESCE(last_error, ''), error_code, not_before, created_at, updated_at
        FROM job_states WHERE id = ?`

	row := s.db.QueryRowContext(ctx, stmt, id)
	var job Job
	var payload sql.NullString
	if err := row.Scan(&job.ID, &job.Category, &job.RecordID, &job.UserID, &payload,
		&job.Status, &job.Attempts, &job.MaxAttempts, &job.LastError, &job.ErrorCode,
		&job.NotBefore, &job.CreatedAt, &job.UpdatedAt); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询作业失败")
	}
	if payload.Valid && payload.String != "" {
		job.Payload = []byte(payload.String)
	}
	return &job, nil
}

// Claim 认领作业并递增尝试计数。受保护的 UPDATE 保证并发投递只有一次生效。
func (s *MySQLStore) Claim(ctx context.Context, id string) (*Job, error) {
	const updateStmt = `UPDATE job_states
        SET status = ?, attempts = attempts + 1, not_before = 0, updated_at = ?
        WHERE id = ? AND status IN (?, ?, ?) AND attempts < max_attempts AND not_before <= ?`

	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, updateStmt,
		StatusActive, now, id,
		StatusWaiting, StatusFailed, StatusDelayed, now,
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新作业状态失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	if affected == 0 {
		job, getErr := s.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		switch job.Status {
		case StatusCompleted:
			return job, ErrJobCompleted
		case StatusActive:
			return job, ErrJobConflict
		case StatusDead:
			return job, ErrJobExhausted
		case StatusDelayed:
			if job.NotBefore > now {
				return job, ErrJobNotDue
			}
			fallthrough
		default:
			if job.Attempts >= job.MaxAttempts {
				// 与内存实现一致：认领时发现尝试耗尽，作业落为 dead，
				// 保证死信列表与指标能看到它。
				const killStmt = `UPDATE job_states SET status = ?, not_before = 0, updated_at = ?
                WHERE id = ? AND status NOT IN (?, ?)`
				if _, killErr := s.db.ExecContext(ctx, killStmt,
					StatusDead, now, id, StatusCompleted, StatusDead); killErr != nil {
					return nil, xerrors.Wrap(xerrors.CodeStorageFailure, killErr, "标记耗尽作业失败")
				}
				job.Status = StatusDead
				return job, ErrJobExhausted
			}
			return job, ErrJobConflict
		}
	}
	return s.Get(ctx, id)
}

// MarkCompleted 将作业标记为成功。
func (s *MySQLStore) MarkCompleted(ctx context.Context, id string) error {
	const stmt = `UPDATE job_states SET status = ?, last_error = '', error_code = '', not_before = 0, updated_at = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, stmt, StatusCompleted, time.Now().Unix(), id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记作业成功失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrJobNotFound
	}
	return nil
}

// MarkFailed 记录失败。retryAt 为 0 或尝试耗尽时作业进入 dead。
func (s *MySQLStore) MarkFailed(ctx context.Context, id string, code string, lastError string, retryAt int64) error {
	job, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	status := StatusDelayed
	notBefore := retryAt
	if retryAt <= 0 || job.Attempts >= job.MaxAttempts {
		status = StatusDead
		notBefore = 0
	}

	const stmt = `UPDATE job_states SET status = ?, last_error = ?, error_code = ?, not_before = ?, updated_at = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, stmt, status, lastError, code, notBefore, time.Now().Unix(), id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记作业失败失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrJobNotFound
	}
	return nil
}

// Metrics 统计类别下各状态的作业数量。
func (s *MySQLStore) Metrics(ctx context.Context, category Category) (Metrics, error) {
	const stmt = `SELECT status, COUNT(*) FROM job_states WHERE category = ? GROUP BY status`
	rows, err := s.db.QueryContext(ctx, stmt, category)
	if err != nil {
		return Metrics{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "统计作业失败")
	}
	defer rows.Close()

	metrics := Metrics{Category: category}
	for rows.Next() {
		var status Status
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return Metrics{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析作业统计失败")
		}
		switch status {
		case StatusWaiting:
			metrics.Waiting = count
		case StatusActive:
			metrics.Active = count
		case StatusDelayed:
			metrics.Delayed = count
		case StatusCompleted:
			metrics.Completed = count
		case StatusFailed:
			metrics.Failed = count
		case StatusDead:
			metrics.Dead = count
		}
	}
	if err := rows.Err(); err != nil {
		return Metrics{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历作业统计失败")
	}
	return metrics, nil
}

// ListDead 返回类别下最近进入 dead 的作业。
func (s *MySQLStore) ListDead(ctx context.Context, category Category, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 20
	}
	const stmt = `SELECT id, category, record_id, user_id, payload, status, attempts, max_attempts,
        COALESCE(last_error, ''), error_code, not_before, created_at, updated_at
        FROM job_states WHERE category = ? AND status = ?
        ORDER BY updated_at DESC, id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, stmt, category, StatusDead, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询死信作业失败")
	}
	defer rows.Close()

	jobs := make([]*Job, 0, limit)
	for rows.Next() {
		var job Job
		var payload sql.NullString
		if err := rows.Scan(&job.ID, &job.Category, &job.RecordID, &job.UserID, &payload,
			&job.Status, &job.Attempts, &job.MaxAttempts, &job.LastError, &job.ErrorCode,
			&job.NotBefore, &job.CreatedAt, &job.UpdatedAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析死信作业失败")
		}
		if payload.Valid && payload.String != "" {
			job.Payload = []byte(payload.String)
		}
		jobs = append(jobs, &job)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历死信作业失败")
	}
	return jobs, nil
}

// ListRunnable 返回类别下仍需执行的作业（waiting、failed 以及已到期的 delayed）。
func (s *MySQLStore) ListRunnable(ctx context.Context, category Category, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 128
	}
	const stmt = `SELECT id, category, record_id, user_id, payload, status, attempts, max_attempts,
        COALESCE(last_error, ''), error_code, not_before, created_at, updated_at
        FROM job_states
        WHERE category = ? AND (status IN (?, ?) OR (status = ? AND not_before <= ?))
        ORDER BY created_at ASC, id ASC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, stmt, category, StatusWaiting, StatusFailed, StatusDelayed, time.Now().Unix(), limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询待执行作业失败")
	}
	defer rows.Close()

	jobs := make([]*Job, 0, limit)
	for rows.Next() {
		var job Job
		var payload sql.NullString
		if err := rows.Scan(&job.ID, &job.Category, &job.RecordID, &job.UserID, &payload,
			&job.Status, &job.Attempts, &job.MaxAttempts, &job.LastError, &job.ErrorCode,
			&job.NotBefore, &job.CreatedAt, &job.UpdatedAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析待执行作业失败")
		}
		if payload.Valid && payload.String != "" {
			job.Payload = []byte(payload.String)
		}
		jobs = append(jobs, &job)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历待执行作业失败")
	}
	return jobs, nil
}

// PruneCompleted 删除早于 olderThan 的 completed 作业，返回删除数量。
func (s *MySQLStore) PruneCompleted(ctx context.Context, olderThan time.Duration) (int64, error) {
	const stmt = `DELETE FROM job_states WHERE status = ? AND updated_at <= ?`
	cutoff := time.Now().Add(-olderThan).Unix()
	res, err := s.db.ExecContext(ctx, stmt, StatusCompleted, cutoff)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "清理已完成作业失败")
	}
	pruned, err := res.RowsAffected()
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取清理行数失败")
	}
	return pruned, nil
}

// RequeueStale 把停留在 active 超过 olderThan 的作业重置为 waiting。
func (s *MySQLStore) RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	const stmt = `UPDATE job_states SET status = ?, not_before = 0, updated_at = ? WHERE status = ? AND updated_at <= ?`
	now := time.Now()
	cutoff := now.Add(-olderThan).Unix()
	res, err := s.db.ExecContext(ctx, stmt, StatusWaiting, now.Unix(), StatusActive, cutoff)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "重置滞留作业失败")
	}
	requeued, err := res.RowsAffected()
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取重置行数失败")
	}
	return requeued, nil
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ Store = (*MySQLStore)(nil)
