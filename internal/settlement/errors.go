package settlement

import (
	xerrors "SettleFlow-Chain/internal/errors"
)

const (
	// CodeChainUnavailable 表示尚未提交交易时节点不可达，可以安全重试。
	CodeChainUnavailable xerrors.Code = "CHAIN_UNAVAILABLE"
)

func init() {
	xerrors.Register(CodeChainUnavailable, xerrors.Attributes{
		Message:   "chain endpoint unavailable",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     false,
	})
}
