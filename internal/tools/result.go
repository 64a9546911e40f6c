package tools

import (
	"SettleFlow-Chain/internal/job"
	"SettleFlow-Chain/internal/record"
	"SettleFlow-Chain/internal/settlement"
)

// SignupResult 是注册动作的返回。ProvisioningID 指向异步的钱包开通记录。
type SignupResult struct {
	User           *record.User `json:"user"`
	ProvisioningID string       `json:"provisioning_id,omitempty"`
}

// AliasResult 是别名登记动作的返回。
type AliasResult struct {
	Alias *record.Alias `json:"alias"`
}

// ResolveResult 是别名解析动作的返回。
type ResolveResult struct {
	Label   string `json:"label"`
	Address string `json:"address"`
	Chain   string `json:"chain"`
}

// PendingResult 是异步结算动作的受理回执：记录已落库、作业已入队，
// 结算尚未发生。
type PendingResult struct {
	RecordID string        `json:"record_id"`
	JobID    string        `json:"job_id"`
	Category job.Category  `json:"category"`
	Status   record.Status `json:"status"`
}

// BalanceResult 是余额查询动作的返回。
type BalanceResult struct {
	Chain   string `json:"chain"`
	Address string `json:"address"`
	Asset   string `json:"asset"`
	Amount  string `json:"amount"`
}

// PortfolioEntry 是组合视图中的一项持仓。
type PortfolioEntry struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

// PortfolioResult 是组合查询动作的返回。Snapshot 为尽力而为，
// 链上元数据拉取失败时为 nil。
type PortfolioResult struct {
	Chain    string                    `json:"chain"`
	Address  string                    `json:"address"`
	Holdings []PortfolioEntry          `json:"holdings"`
	Snapshot *settlement.ChainSnapshot `json:"snapshot,omitempty"`
}
