package tools

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"

	"SettleFlow-Chain/internal/action"
	xerrors "SettleFlow-Chain/internal/errors"
	"SettleFlow-Chain/internal/record"
	"SettleFlow-Chain/pkg/logger"
)

// BalanceCheck 查询单一资产余额。未显式给出地址时回退到操作者的主钱包。
func (s *Service) BalanceCheck(ctx context.Context, actorID string, req *action.BalanceCheck) (*BalanceResult, error) {
	chain := req.Chain
	if chain == "" {
		chain = s.registry.DefaultChain()
	}
	address, err := s.resolveAddress(ctx, actorID, chain, req.Address)
	if err != nil {
		return nil, err
	}
	client, err := s.client(chain)
	if err != nil {
		return nil, err
	}
	amount, err := client.BalanceOf(ctx, address, req.Asset)
	if err != nil {
		return nil, err
	}
	return &BalanceResult{Chain: chain, Address: address, Asset: req.Asset, Amount: amount.String()}, nil
}

// Portfolio 返回操作者在某条链上的持仓组合。链上元数据快照是尽力而为的
// 补充信息，拉取失败只记日志。
func (s *Service) Portfolio(ctx context.Context, actorID string, req *action.Portfolio) (*PortfolioResult, error) {
	chain := req.Chain
	if chain == "" {
		chain = s.registry.DefaultChain()
	}
	address, err := s.resolveAddress(ctx, actorID, chain, "")
	if err != nil {
		return nil, err
	}
	client, err := s.client(chain)
	if err != nil {
		return nil, err
	}
	balances, err := client.Balances(ctx, address)
	if err != nil {
		return nil, err
	}

	result := &PortfolioResult{
		Chain:    chain,
		Address:  address,
		Holdings: make([]PortfolioEntry, 0, len(balances)),
	}
	for _, balance := range balances {
		result.Holdings = append(result.Holdings, PortfolioEntry{
			Asset:  balance.Asset,
			Amount: balance.Amount.String(),
		})
	}
	if snapshot, err := client.FetchChainSnapshot(ctx); err == nil {
		result.Snapshot = &snapshot
	} else {
		logger.L().Warn("拉取链上快照失败", slog.Any("error", err), slog.String("chain", chain))
	}
	return result, nil
}

// resolveAddress 确定读操作的目标地址：显式地址优先，否则取操作者主钱包。
func (s *Service) resolveAddress(ctx context.Context, actorID, chain, explicit string) (string, error) {
	if strings.TrimSpace(explicit) != "" {
		return explicit, nil
	}
	if strings.TrimSpace(actorID) == "" {
		return "", xerrors.New(xerrors.CodePrecondition, "查询需要地址或登录身份")
	}
	wallet, err := s.records.FindPrimaryWallet(ctx, actorID, chain)
	if err != nil {
		if stdErrors.Is(err, record.ErrNotFound) {
			return "", xerrors.Wrap(xerrors.CodePrecondition, err, "链 "+chain+" 上没有可用的主钱包")
		}
		return "", err
	}
	return wallet.Address, nil
}
