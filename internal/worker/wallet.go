package worker

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"

	xerrors "SettleFlow-Chain/internal/errors"
	"SettleFlow-Chain/internal/job"
	"SettleFlow-Chain/internal/record"
	"SettleFlow-Chain/internal/settlement"
	"SettleFlow-Chain/pkg/logger"

	"github.com/google/uuid"
)

// ClientRegistry 提供按链名查找结算客户端的能力。
type ClientRegistry interface {
	Client(name string) (settlement.Client, bool)
	DefaultChain() string
}

// WalletExecutor 处理钱包开通作业。
//
// 幂等性依赖两道防线：先复核开通记录的状态，终态直接短路；再查找
// (用户, 链) 的既有主钱包，存在即复用而不再部署。
type WalletExecutor struct {
	records  record.Store
	registry ClientRegistry
}

// NewWalletExecutor 构造 WalletExecutor。
func NewWalletExecutor(records record.Store, registry ClientRegistry) *WalletExecutor {
	return &WalletExecutor{records: records, registry: registry}
}

// Execute 实现 Executor。
func (e *WalletExecutor) Execute(ctx context.Context, j *job.Job) (Outcome, error) {
	var payload job.ProvisioningPayload
	if err := job.DecodePayload(j, &payload); err != nil {
		return Outcome{}, err
	}

	prov, err := e.records.GetProvisioning(ctx, j.RecordID)
	if err != nil {
		if stdErrors.Is(err, record.ErrNotFound) {
			return Outcome{}, xerrors.Wrap(xerrors.CodePrecondition, err,
				fmt.Sprintf("钱包开通记录 %s 不存在", j.RecordID))
		}
		return Outcome{}, err
	}
	switch prov.Status {
	case record.StatusConfirmed:
		// 重复投递：记录已有结论，不再触达链上。
		return Outcome{Address: prov.Address, Note: "记录已确认，跳过执行"}, nil
	case record.StatusFailed:
		return Outcome{}, xerrors.New(CodeRecordTerminal,
			fmt.Sprintf("钱包开通记录 %s 已标记失败，放弃执行", j.RecordID))
	}

	// 已有主钱包则复用，不重复部署。
	if existing, err := e.records.FindPrimaryWallet(ctx, j.UserID, payload.Chain); err == nil {
		return e.finishProvisioning(ctx, j, prov.ID, existing.Address, "", false)
	} else if !stdErrors.Is(err, record.ErrNotFound) {
		return Outcome{}, err
	}

	client, ok := e.registry.Client(payload.Chain)
	if !ok {
		failErr := xerrors.New(xerrors.CodeSettlementFailure,
			fmt.Sprintf("链 %s 未配置结算客户端", payload.Chain))
		return Outcome{}, failErr
	}
	receipt, err := client.DeployWallet(ctx, j.UserID)
	if err != nil {
		return Outcome{}, err
	}

	wallet := &record.Wallet{
		ID:        uuid.NewString(),
		UserID:    j.UserID,
		Chain:     payload.Chain,
		Address:   receipt.Address,
		IsPrimary: true,
	}
	if err := e.records.CreateWallet(ctx, wallet); err != nil {
		if stdErrors.Is(err, record.ErrConflict) {
			// 并发的开通在我们部署期间赢得了主钱包，复用它。
			existing, findErr := e.records.FindPrimaryWallet(ctx, j.UserID, payload.Chain)
			if findErr != nil {
				return Outcome{}, findErr
			}
			return e.finishProvisioning(ctx, j, prov.ID, existing.Address, "", false)
		}
		return Outcome{}, err
	}
	return e.finishProvisioning(ctx, j, prov.ID, receipt.Address, receipt.TxHash, true)
}

func (e *WalletExecutor) finishProvisioning(ctx context.Context, j *job.Job, provID, address, txHash string, deployed bool) (Outcome, error) {
	if err := e.records.ConfirmProvisioning(ctx, provID, address, txHash); err != nil {
		if !stdErrors.Is(err, record.ErrTerminal) {
			return Outcome{}, err
		}
	}
	if err := e.records.SetPrimaryAddress(ctx, j.UserID, address); err != nil {
		logger.L().Warn("更新账户主钱包地址失败",
			slog.Any("error", err),
			slog.String("user_id", j.UserID),
		)
	}
	note := "复用已有主钱包"
	if deployed {
		note = "部署新钱包"
	}
	return Outcome{Reference: txHash, Address: address, Deployed: deployed, Note: note}, nil
}

// Abandon 在作业进入死信时将开通记录置为 failed。
func (e *WalletExecutor) Abandon(ctx context.Context, j *job.Job, cause error) error {
	reason := "作业重试耗尽"
	if cause != nil {
		reason = cause.Error()
	}
	if err := e.records.FailProvisioning(ctx, j.RecordID, reason); err != nil && !stdErrors.Is(err, record.ErrTerminal) {
		return err
	}
	return nil
}

var _ Executor = (*WalletExecutor)(nil)
