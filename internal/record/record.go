package record

import (
	xerrors "SettleFlow-Chain/internal/errors"
)

// Status 表示领域记录在结算生命周期中的状态。
// 状态迁移是单调的：pending -> confirmed 或 pending -> failed，
// 进入终态后不再变化。
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// IsTerminal 判断状态是否为终态。
func (s Status) IsTerminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// IsValidStatus 检查给定的状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusConfirmed, StatusFailed:
		return true
	default:
		return false
	}
}

var (
	// ErrNotFound 表示指定的记录不存在。
	ErrNotFound = xerrors.New(xerrors.CodeNotFound, "记录不存在")
	// ErrTerminal 表示记录已处于终态，拒绝再次变更。
	ErrTerminal = xerrors.New(CodeRecordTerminal, "记录已进入终态")
	// ErrConflict 表示唯一性约束冲突（重复用户名、重复别名等）。
	ErrConflict = xerrors.New(xerrors.CodeConflict, "记录冲突")
)

const (
	CodeRecordTerminal xerrors.Code = "RECORD_TERMINAL"
)

func init() {
	xerrors.Register(CodeRecordTerminal, xerrors.Attributes{
		Message:   "record already in terminal state",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
}

// Transaction 是一次转账的权威结算记录。
type Transaction struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	Asset       string `json:"asset"`
	Amount      string `json:"amount"`
	FromAddress string `json:"from_address"`
	ToAddress   string `json:"to_address"`
	Chain       string `json:"chain"`
	Status      Status `json:"status"`
	TxHash      string `json:"tx_hash,omitempty"`
	LastError   string `json:"last_error,omitempty"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

// Swap 是一次资产兑换的权威结算记录。
type Swap struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	FromAsset   string `json:"from_asset"`
	ToAsset     string `json:"to_asset"`
	Amount      string `json:"amount"`
	Protocol    string `json:"protocol"`
	SlippagePct string `json:"slippage_pct"`
	Chain       string `json:"chain"`
	Status      Status `json:"status"`
	TxHash      string `json:"tx_hash,omitempty"`
	LastError   string `json:"last_error,omitempty"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

// Provisioning 跟踪一次钱包开通操作。
type Provisioning struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Chain     string `json:"chain"`
	Status    Status `json:"status"`
	Address   string `json:"address,omitempty"`
	TxHash    string `json:"tx_hash,omitempty"`
	LastError string `json:"last_error,omitempty"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// Wallet 是用户在某条链上的钱包。每个 (用户, 链) 至多存在一个主钱包。
type Wallet struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Chain     string `json:"chain"`
	Address   string `json:"address"`
	IsPrimary bool   `json:"is_primary"`
	CreatedAt int64  `json:"created_at"`
}

// Alias 将用户自定义的短标签映射到链上地址。标签在用户内唯一，不做全局唯一。
type Alias struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Label     string `json:"label"`
	Address   string `json:"address"`
	Chain     string `json:"chain"`
	CreatedAt int64  `json:"created_at"`
}

// User 是账户记录。PrimaryAddress 缓存默认链上的主钱包地址，
// 由钱包开通 worker 维护。
type User struct {
	ID             string `json:"id"`
	Username       string `json:"username"`
	PasswordHash   string `json:"-"`
	PrimaryAddress string `json:"primary_address,omitempty"`
	CreatedAt      int64  `json:"created_at"`
}
