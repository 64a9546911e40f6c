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

// TransferExecutor 处理转账结算作业。
type TransferExecutor struct {
	records  record.Store
	registry ClientRegistry
}

// NewTransferExecutor 构造 TransferExecutor。
func NewTransferExecutor(records record.Store, registry ClientRegistry) *TransferExecutor {
	return &TransferExecutor{records: records, registry: registry}
}

// Execute 实现 Executor。状态复核保证同一笔转账不会被结算两次。
func (e *TransferExecutor) Execute(ctx context.Context, j *job.Job) (Outcome, error) {
	var payload job.TransferPayload
	if err := job.DecodePayload(j, &payload); err != nil {
		return Outcome{}, err
	}

	tx, err := e.records.GetTransaction(ctx, j.RecordID)
	if err != nil {
		if stdErrors.Is(err, record.ErrNotFound) {
			return Outcome{}, xerrors.Wrap(xerrors.CodePrecondition, err,
				fmt.Sprintf("转账记录 %s 不存在", j.RecordID))
		}
		return Outcome{}, err
	}
	switch tx.Status {
	case record.StatusConfirmed:
		// 重复投递：转账已经确认，幂等短路。
		return Outcome{Reference: tx.TxHash, Note: "记录已确认，跳过执行"}, nil
	case record.StatusFailed:
		// 记录已被放弃，作业按终态失败收尾而不是成功完成。
		return Outcome{}, xerrors.New(CodeRecordTerminal,
			fmt.Sprintf("转账记录 %s 已标记失败，放弃执行", j.RecordID))
	}

	amount, err := decimal.NewFromString(payload.Amount)
	if err != nil {
		return Outcome{}, xerrors.Wrap(xerrors.CodeValidation, err, "转账金额格式异常", xerrors.WithField("amount"))
	}

	client, ok := e.registry.Client(payload.Chain)
	if !ok {
		return Outcome{}, xerrors.New(xerrors.CodeSettlementFailure,
			fmt.Sprintf("链 %s 未配置结算客户端", payload.Chain))
	}

	receipt, err := client.SubmitTransfer(ctx, settlement.TransferRequest{
		From:   tx.FromAddress,
		To:     payload.To,
		Asset:  payload.Asset,
		Amount: amount,
	})
	if err != nil {
		// 提交失败且不可重试时立即落终态，避免悬挂的 pending 记录。
		if !xerrors.RetryableError(err) {
			if failErr := e.records.FailTransaction(ctx, j.RecordID, err.Error()); failErr != nil && !stdErrors.Is(failErr, record.ErrTerminal) {
				return Outcome{}, failErr
			}
		}
		return Outcome{}, err
	}

	if err := e.records.ConfirmTransaction(ctx, j.RecordID, receipt.TxHash); err != nil {
		if !stdErrors.Is(err, record.ErrTerminal) {
			return Outcome{}, err
		}
	}
	return Outcome{Reference: receipt.TxHash}, nil
}

// Abandon 在作业进入死信时将转账记录置为 failed。
func (e *TransferExecutor) Abandon(ctx context.Context, j *job.Job, cause error) error {
	reason := "作业重试耗尽"
	if cause != nil {
		reason = cause.Error()
	}
	if err := e.records.FailTransaction(ctx, j.RecordID, reason); err != nil && !stdErrors.Is(err, record.ErrTerminal) {
		return err
	}
	return nil
}

var _ Executor = (*TransferExecutor)(nil)
