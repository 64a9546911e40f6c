package record

import "context"

// TransactionStore 持久化转账结算记录。Confirm/Fail 只对 pending 记录生效，
// 对终态记录返回 ErrTerminal，保证状态单调。
type TransactionStore interface {
	CreateTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, id string) (*Transaction, error)
	ConfirmTransaction(ctx context.Context, id, txHash string) error
	FailTransaction(ctx context.Context, id, reason string) error
}

// SwapStore 持久化兑换结算记录。
type SwapStore interface {
	CreateSwap(ctx context.Context, swap *Swap) error
	GetSwap(ctx context.Context, id string) (*Swap, error)
	ConfirmSwap(ctx context.Context, id, txHash string) error
	FailSwap(ctx context.Context, id, reason string) error
}

// ProvisioningStore 持久化钱包开通记录。
type ProvisioningStore interface {
	CreateProvisioning(ctx context.Context, prov *Provisioning) error
	GetProvisioning(ctx context.Context, id string) (*Provisioning, error)
	ConfirmProvisioning(ctx context.Context, id, address, txHash string) error
	FailProvisioning(ctx context.Context, id, reason string) error
}

// WalletStore 管理用户钱包。CreateWallet 在写入主钱包时必须保证
// (用户, 链) 至多一个 is_primary。
type WalletStore interface {
	CreateWallet(ctx context.Context, wallet *Wallet) error
	FindPrimaryWallet(ctx context.Context, userID, chain string) (*Wallet, error)
	ListWallets(ctx context.Context, userID string) ([]*Wallet, error)
}

// AliasStore 管理用户别名。标签在用户内唯一。
type AliasStore interface {
	CreateAlias(ctx context.Context, alias *Alias) error
	ResolveAlias(ctx context.Context, userID, label string) (*Alias, error)
}

// UserStore 管理账户记录。
type UserStore interface {
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	FindUserByUsername(ctx context.Context, username string) (*User, error)
	SetPrimaryAddress(ctx context.Context, userID, address string) error
}

// Store 聚合全部领域记录的持久化能力。
type Store interface {
	TransactionStore
	SwapStore
	ProvisioningStore
	WalletStore
	AliasStore
	UserStore
	Close() error
}
