package action

import (
	"github.com/shopspring/decimal"
)

// Kind 表示动作类型，是一个封闭的枚举集合。
type Kind string

const (
	KindSignup       Kind = "signup"
	KindSignin       Kind = "signin"
	KindCreateAlias  Kind = "create_alias"
	KindResolveAlias Kind = "resolve_alias"
	KindTransfer     Kind = "transfer"
	KindSwap         Kind = "swap"
	KindBalanceCheck Kind = "balance_check"
	KindPortfolio    Kind = "portfolio"
)

// Kinds 返回全部受支持的动作类型，顺序固定。
func Kinds() []Kind {
	return []Kind{
		KindSignup,
		KindSignin,
		KindCreateAlias,
		KindResolveAlias,
		KindTransfer,
		KindSwap,
		KindBalanceCheck,
		KindPortfolio,
	}
}

// IsValidKind 检查给定的动作类型是否为支持的枚举值。
func IsValidKind(kind Kind) bool {
	switch kind {
	case KindSignup, KindSignin, KindCreateAlias, KindResolveAlias,
		KindTransfer, KindSwap, KindBalanceCheck, KindPortfolio:
		return true
	default:
		return false
	}
}

// AliasMarker 是别名收款人的前缀标记。
const AliasMarker = "@"

// Action 是经过校验的结构化用户意图。每个 Kind 恰好对应一个非空变体，
// 其余变体为 nil；调度端通过对 Kind 的穷举 switch 消费。
type Action struct {
	Kind         Kind
	Signup       *Signup
	Signin       *Signin
	CreateAlias  *CreateAlias
	ResolveAlias *ResolveAlias
	Transfer     *Transfer
	Swap         *Swap
	BalanceCheck *BalanceCheck
	Portfolio    *Portfolio
}

// Signup 描述注册请求。
type Signup struct {
	Username string
	Password string
}

// Signin 描述登录请求。
type Signin struct {
	Username string
	Password string
}

// CreateAlias 为当前用户登记一个地址别名。
type CreateAlias struct {
	Label   string
	Address string
	Chain   string
}

// ResolveAlias 查询当前用户的别名对应地址。
type ResolveAlias struct {
	Label string
	Chain string
}

// Transfer 描述一次资产转账。To 可能是地址，也可能是以 "@" 开头的别名，
// 后者在入队前必须解析为地址。
type Transfer struct {
	Asset  string
	Amount decimal.Decimal
	To     string
	Chain  string
}

// Swap 描述一次资产兑换。
type Swap struct {
	FromAsset   string
	ToAsset     string
	Amount      decimal.Decimal
	Protocol    string
	SlippagePct decimal.Decimal
	Chain       string
}

// BalanceCheck 查询单一资产余额。
type BalanceCheck struct {
	Asset   string
	Chain   string
	Address string
}

// Portfolio 查询资产组合视图。
type Portfolio struct {
	View  string
	Chain string
}
