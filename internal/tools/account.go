package tools

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"SettleFlow-Chain/internal/action"
	"SettleFlow-Chain/internal/auth"
	xerrors "SettleFlow-Chain/internal/errors"
	"SettleFlow-Chain/internal/record"
	"SettleFlow-Chain/pkg/logger"
)

// Signup 注册账户并随即为默认链排队一次钱包开通。开通是异步的，
// 入队失败不回滚账户，只在返回值中缺少开通记录 ID。
func (s *Service) Signup(ctx context.Context, req *action.Signup) (*SignupResult, error) {
	user, err := s.accounts.Signup(ctx, req.Username, req.Password)
	if err != nil {
		return nil, err
	}

	result := &SignupResult{User: user}
	provisioningID, err := s.enqueueProvisioning(ctx, user.ID, s.registry.DefaultChain())
	if err != nil {
		logger.L().Warn("注册后排队钱包开通失败",
			slog.Any("error", err),
			slog.String("user_id", user.ID),
		)
		return result, nil
	}
	result.ProvisioningID = provisioningID
	return result, nil
}

// Signin 校验凭据并返回访问令牌。
func (s *Service) Signin(ctx context.Context, req *action.Signin) (*auth.Credential, error) {
	return s.accounts.Signin(ctx, req.Username, req.Password)
}

// CreateAlias 为操作者登记一个地址别名。别名属于用户，必须有登录身份。
func (s *Service) CreateAlias(ctx context.Context, actorID string, req *action.CreateAlias) (*AliasResult, error) {
	if strings.TrimSpace(actorID) == "" {
		return nil, xerrors.New(xerrors.CodePrecondition, "别名操作需要登录身份")
	}
	chain := req.Chain
	if chain == "" {
		chain = s.registry.DefaultChain()
	}
	alias := &record.Alias{
		ID:      uuid.NewString(),
		UserID:  actorID,
		Label:   strings.ToLower(strings.TrimSpace(req.Label)),
		Address: req.Address,
		Chain:   chain,
	}
	if err := s.records.CreateAlias(ctx, alias); err != nil {
		if stdErrors.Is(err, record.ErrConflict) {
			return nil, xerrors.Wrap(xerrors.CodeConflict, err,
				fmt.Sprintf("别名 %s 已存在", alias.Label))
		}
		return nil, err
	}
	logger.Audit().Info("别名登记成功",
		slog.String("user_id", actorID),
		slog.String("label", alias.Label),
		slog.String("chain", alias.Chain),
	)
	return &AliasResult{Alias: alias}, nil
}

// ResolveAlias 查询操作者的别名对应地址。
func (s *Service) ResolveAlias(ctx context.Context, actorID string, req *action.ResolveAlias) (*ResolveResult, error) {
	if strings.TrimSpace(actorID) == "" {
		return nil, xerrors.New(xerrors.CodePrecondition, "别名操作需要登录身份")
	}
	alias, err := s.records.ResolveAlias(ctx, actorID, strings.ToLower(strings.TrimSpace(req.Label)))
	if err != nil {
		if stdErrors.Is(err, record.ErrNotFound) {
			return nil, xerrors.Wrap(xerrors.CodeAliasNotFound, err,
				fmt.Sprintf("别名 %s 不存在", req.Label))
		}
		return nil, err
	}
	return &ResolveResult{Label: alias.Label, Address: alias.Address, Chain: alias.Chain}, nil
}
