package tools

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"SettleFlow-Chain/internal/action"
	xerrors "SettleFlow-Chain/internal/errors"
	"SettleFlow-Chain/internal/job"
	"SettleFlow-Chain/internal/record"
	"SettleFlow-Chain/pkg/logger"
)

// Transfer 受理一次转账：解析别名收款人、落 pending 记录、入队作业后
// 立即返回，不等待链上结算。入队前的任何失败都不留下作业。
func (s *Service) Transfer(ctx context.Context, actorID string, req *action.Transfer) (*PendingResult, error) {
	if strings.TrimSpace(actorID) == "" {
		return nil, xerrors.New(xerrors.CodePrecondition, "转账需要登录身份")
	}
	chain := req.Chain
	if chain == "" {
		chain = s.registry.DefaultChain()
	}

	// "@" 前缀的收款人是别名，入队前必须解析成地址；解析失败直接拒绝。
	to := req.To
	if strings.HasPrefix(to, action.AliasMarker) {
		resolved, err := s.ResolveAlias(ctx, actorID, &action.ResolveAlias{
			Label: strings.TrimPrefix(to, action.AliasMarker),
			Chain: chain,
		})
		if err != nil {
			return nil, err
		}
		to = resolved.Address
	}

	wallet, err := s.records.FindPrimaryWallet(ctx, actorID, chain)
	if err != nil {
		if stdErrors.Is(err, record.ErrNotFound) {
			return nil, xerrors.Wrap(xerrors.CodePrecondition, err,
				fmt.Sprintf("链 %s 上没有可用的主钱包", chain))
		}
		return nil, err
	}

	tx := &record.Transaction{
		ID:          uuid.NewString(),
		UserID:      actorID,
		Asset:       req.Asset,
		Amount:      req.Amount.String(),
		FromAddress: wallet.Address,
		ToAddress:   to,
		Chain:       chain,
		Status:      record.StatusPending,
	}
	if err := s.records.CreateTransaction(ctx, tx); err != nil {
		return nil, err
	}

	payload := job.TransferPayload{Asset: req.Asset, Amount: tx.Amount, To: to, Chain: chain}
	jobID, err := s.enqueue(ctx, job.CategoryTransfer, tx.ID, actorID, payload, func(failCtx context.Context, reason string) error {
		return s.records.FailTransaction(failCtx, tx.ID, reason)
	})
	if err != nil {
		return nil, err
	}
	return &PendingResult{RecordID: tx.ID, JobID: jobID, Category: job.CategoryTransfer, Status: record.StatusPending}, nil
}

// Swap 受理一次资产兑换，语义与 Transfer 相同：pending 记录 + 入队作业。
func (s *Service) Swap(ctx context.Context, actorID string, req *action.Swap) (*PendingResult, error) {
	if strings.TrimSpace(actorID) == "" {
		return nil, xerrors.New(xerrors.CodePrecondition, "兑换需要登录身份")
	}
	chain := req.Chain
	if chain == "" {
		chain = s.registry.DefaultChain()
	}

	swap := &record.Swap{
		ID:          uuid.NewString(),
		UserID:      actorID,
		FromAsset:   req.FromAsset,
		ToAsset:     req.ToAsset,
		Amount:      req.Amount.String(),
		Protocol:    req.Protocol,
		SlippagePct: req.SlippagePct.String(),
		Chain:       chain,
		Status:      record.StatusPending,
	}
	if err := s.records.CreateSwap(ctx, swap); err != nil {
		return nil, err
	}

	payload := job.SwapPayload{
		FromAsset:   swap.FromAsset,
		ToAsset:     swap.ToAsset,
		Amount:      swap.Amount,
		Protocol:    swap.Protocol,
		SlippagePct: swap.SlippagePct,
		Chain:       chain,
	}
	jobID, err := s.enqueue(ctx, job.CategorySwap, swap.ID, actorID, payload, func(failCtx context.Context, reason string) error {
		return s.records.FailSwap(failCtx, swap.ID, reason)
	})
	if err != nil {
		return nil, err
	}
	return &PendingResult{RecordID: swap.ID, JobID: jobID, Category: job.CategorySwap, Status: record.StatusPending}, nil
}

// enqueueProvisioning 为用户在指定链上排队一次钱包开通。
func (s *Service) enqueueProvisioning(ctx context.Context, userID, chain string) (string, error) {
	prov := &record.Provisioning{
		ID:     uuid.NewString(),
		UserID: userID,
		Chain:  chain,
		Status: record.StatusPending,
	}
	if err := s.records.CreateProvisioning(ctx, prov); err != nil {
		return "", err
	}
	_, err := s.enqueue(ctx, job.CategoryProvisioning, prov.ID, userID, job.ProvisioningPayload{Chain: chain},
		func(failCtx context.Context, reason string) error {
			return s.records.FailProvisioning(failCtx, prov.ID, reason)
		})
	if err != nil {
		return "", err
	}
	return prov.ID, nil
}

// enqueue 创建作业并发布到对应类别的队列。发布失败时补偿：作业直接
// 置 dead、记录置 failed，对调用方表现为全有或全无。
func (s *Service) enqueue(ctx context.Context, category job.Category, recordID, userID string,
	payload any, failRecord func(ctx context.Context, reason string) error) (string, error) {
	producer, err := s.producer(category)
	if err != nil {
		return "", err
	}
	raw, err := job.EncodePayload(payload)
	if err != nil {
		return "", err
	}

	j := &job.Job{
		ID:          uuid.NewString(),
		Category:    category,
		RecordID:    recordID,
		UserID:      userID,
		Payload:     raw,
		Status:      job.StatusWaiting,
		MaxAttempts: job.DefaultMaxAttempts,
	}
	if err := s.jobs.Create(ctx, j); err != nil {
		if failErr := failRecord(ctx, err.Error()); failErr != nil {
			logger.L().Error("补偿记录状态失败",
				slog.Any("error", failErr),
				slog.String("record_id", recordID),
			)
		}
		return "", err
	}

	if err := producer.Publish(ctx, j.ID); err != nil {
		logger.L().Error("作业入队失败",
			slog.Any("error", err),
			slog.String("job_id", j.ID),
			slog.String("category", string(category)),
		)
		wrapped := xerrors.Wrap(job.CodeJobPublish, err, "发布作业到队列失败")
		if storeErr := s.jobs.MarkFailed(ctx, j.ID, string(job.CodeJobPublish), wrapped.Error(), 0); storeErr != nil {
			logger.L().Error("补偿作业状态失败", slog.Any("error", storeErr), slog.String("job_id", j.ID))
		}
		if failErr := failRecord(ctx, wrapped.Error()); failErr != nil {
			logger.L().Error("补偿记录状态失败",
				slog.Any("error", failErr),
				slog.String("record_id", recordID),
			)
		}
		return "", wrapped
	}

	if s.collector != nil {
		s.collector.RecordEnqueue(string(category))
	}
	logger.Audit().Info("作业入队成功",
		slog.String("job_id", j.ID),
		slog.String("category", string(category)),
		slog.String("record_id", recordID),
		slog.String("user_id", userID),
		slog.Int("max_attempts", j.MaxAttempts),
		slog.Time("enqueued_at", time.Now()),
	)
	return j.ID, nil
}
