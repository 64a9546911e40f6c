// Package orchestrator 将经过校验的动作路由到对应的处理器。
// 调度本身无状态，可被任意多个请求并发调用。
package orchestrator

import (
	"context"
	"fmt"

	"SettleFlow-Chain/internal/action"
	xerrors "SettleFlow-Chain/internal/errors"
	"SettleFlow-Chain/internal/tools"
)

// Result 是一次动作调度的返回：Kind 标识动作类型，Data 是该类型
// 处理器的具体返回结构。
type Result struct {
	Kind action.Kind `json:"kind"`
	Data any         `json:"data"`
}

// Orchestrator 持有处理器集合并按动作类型分发。
type Orchestrator struct {
	handlers *tools.Service
}

// New 构造调度器。
func New(handlers *tools.Service) (*Orchestrator, error) {
	if handlers == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "调度器缺少动作处理器")
	}
	return &Orchestrator{handlers: handlers}, nil
}

// Dispatch 执行一个动作。actorID 是经过认证的操作者账户 ID，匿名请求
// 传空串，需要身份的处理器自行拒绝。Kind 集合是封闭的：每个分支恰好
// 消费一个非空变体，未覆盖的值走 UNKNOWN_ACTION。
func (o *Orchestrator) Dispatch(ctx context.Context, act *action.Action, actorID string) (*Result, error) {
	if act == nil {
		return nil, xerrors.New(xerrors.CodeValidation, "动作不能为空")
	}

	var (
		data any
		err  error
	)
	switch act.Kind {
	case action.KindSignup:
		data, err = o.handlers.Signup(ctx, act.Signup)
	case action.KindSignin:
		data, err = o.handlers.Signin(ctx, act.Signin)
	case action.KindCreateAlias:
		data, err = o.handlers.CreateAlias(ctx, actorID, act.CreateAlias)
	case action.KindResolveAlias:
		data, err = o.handlers.ResolveAlias(ctx, actorID, act.ResolveAlias)
	case action.KindTransfer:
		data, err = o.handlers.Transfer(ctx, actorID, act.Transfer)
	case action.KindSwap:
		data, err = o.handlers.Swap(ctx, actorID, act.Swap)
	case action.KindBalanceCheck:
		data, err = o.handlers.BalanceCheck(ctx, actorID, act.BalanceCheck)
	case action.KindPortfolio:
		data, err = o.handlers.Portfolio(ctx, actorID, act.Portfolio)
	default:
		return nil, xerrors.New(xerrors.CodeUnknownAction,
			fmt.Sprintf("不支持的动作类型 %s", act.Kind))
	}
	if err != nil {
		return nil, err
	}
	return &Result{Kind: act.Kind, Data: data}, nil
}

// ListSupportedActions 返回全部受支持的动作类型名，顺序固定。
func (o *Orchestrator) ListSupportedActions() []string {
	kinds := action.Kinds()
	names := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		names = append(names, string(kind))
	}
	return names
}
