package worker

import (
	"context"
	stdErrors "errors"
	"fmt"

	"github.com/shopspring/decimal"

	xerrors "SettleFlow-Chain/internal/errors"
	"SettleFlow-Chain/internal/job"
	"SettleFlow-Chain/internal/record"
	"SettleFlow-Chain/internal/settlement"
)

// SwapExecutor 处理兑换结算作业。
type SwapExecutor struct {
	records  record.Store
	registry ClientRegistry
}

// NewSwapExecutor 构造 SwapExecutor。
func NewSwapExecutor(records record.Store, registry ClientRegistry) *SwapExecutor {
	return &SwapExecutor{records: records, registry: registry}
}

// Execute 实现 Executor。
func (e *SwapExecutor) Execute(ctx context.Context, j *job.Job) (Outcome, error) {
	var payload job.SwapPayload
	if err := job.DecodePayload(j, &payload); err != nil {
		return Outcome{}, err
	}

	swap, err := e.records.GetSwap(ctx, j.RecordID)
	if err != nil {
		if stdErrors.Is(err, record.ErrNotFound) {
			return Outcome{}, xerrors.Wrap(xerrors.CodePrecondition, err,
				fmt.Sprintf("兑换记录 %s 不存在", j.RecordID))
		}
		return Outcome{}, err
	}
	switch swap.Status {
	case record.StatusConfirmed:
		return Outcome{Reference: swap.TxHash, Note: "记录已确认，跳过执行"}, nil
	case record.StatusFailed:
		return Outcome{}, xerrors.New(CodeRecordTerminal,
			fmt.Sprintf("兑换记录 %s 已标记失败，放弃执行", j.RecordID))
	}

	amount, err := decimal.NewFromString(payload.Amount)
	if err != nil {
		return Outcome{}, xerrors.Wrap(xerrors.CodeValidation, err, "兑换金额格式异常", xerrors.WithField("amount"))
	}
	slippage, err := decimal.NewFromString(payload.SlippagePct)
	if err != nil {
		return Outcome{}, xerrors.Wrap(xerrors.CodeValidation, err, "滑点格式异常", xerrors.WithField("slippage_pct"))
	}

	// 兑换以用户主钱包为持有方。
	wallet, err := e.records.FindPrimaryWallet(ctx, j.UserID, payload.Chain)
	if err != nil {
		if stdErrors.Is(err, record.ErrNotFound) {
			return Outcome{}, xerrors.Wrap(xerrors.CodePrecondition, err,
				fmt.Sprintf("用户 %s 在链 %s 上没有主钱包", j.UserID, payload.Chain))
		}
		return Outcome{}, err
	}

	client, ok := e.registry.Client(payload.Chain)
	if !ok {
		return Outcome{}, xerrors.New(xerrors.CodeSettlementFailure,
			fmt.Sprintf("链 %s 未配置结算客户端", payload.Chain))
	}

	receipt, err := client.SubmitSwap(ctx, settlement.SwapRequest{
		Owner:       wallet.Address,
		FromAsset:   payload.FromAsset,
		ToAsset:     payload.ToAsset,
		Amount:      amount,
		Protocol:    payload.Protocol,
		SlippagePct: slippage,
	})
	if err != nil {
		if !xerrors.RetryableError(err) {
			if failErr := e.records.FailSwap(ctx, j.RecordID, err.Error()); failErr != nil && !stdErrors.Is(failErr, record.ErrTerminal) {
				return Outcome{}, failErr
			}
		}
		return Outcome{}, err
	}

	if err := e.records.ConfirmSwap(ctx, j.RecordID, receipt.TxHash); err != nil {
		if !stdErrors.Is(err, record.ErrTerminal) {
			return Outcome{}, err
		}
	}
	return Outcome{Reference: receipt.TxHash}, nil
}

// Abandon 在作业进入死信时将兑换记录置为 failed。
func (e *SwapExecutor) Abandon(ctx context.Context, j *job.Job, cause error) error {
	reason := "作业重试耗尽"
	if cause != nil {
		reason = cause.Error()
	}
	if err := e.records.FailSwap(ctx, j.RecordID, reason); err != nil && !stdErrors.Is(err, record.ErrTerminal) {
		return err
	}
	return nil
}

var _ Executor = (*SwapExecutor)(nil)
