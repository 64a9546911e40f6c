package record

import (
	"context"
	"strings"
	"sync"
	"time"

	xerrors "SettleFlow-Chain/internal/errors"
)

// MemoryStore 以内存方式保存领域记录，主要用于测试。
type MemoryStore struct {
	mu           sync.RWMutex
	transactions map[string]*Transaction
	swaps        map[string]*Swap
	provisioning map[string]*Provisioning
	wallets      map[string]*Wallet
	aliases      map[string]*Alias
	users        map[string]*User
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		transactions: make(map[string]*Transaction),
		swaps:        make(map[string]*Swap),
		provisioning: make(map[string]*Provisioning),
		wallets:      make(map[string]*Wallet),
		aliases:      make(map[string]*Alias),
		users:        make(map[string]*User),
	}
}

// CreateTransaction 实现 TransactionStore。
func (m *MemoryStore) CreateTransaction(_ context.Context, tx *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tx == nil || tx.ID == "" {
		return xerrors.New(xerrors.CodeValidation, "记录 ID 不能为空")
	}
	if _, ok := m.transactions[tx.ID]; ok {
		return ErrConflict
	}
	now := time.Now().Unix()
	if tx.CreatedAt == 0 {
		tx.CreatedAt = now
	}
	tx.UpdatedAt = now
	clone := *tx
	m.transactions[tx.ID] = &clone
	return nil
}

// GetTransaction 返回转账记录。
func (m *MemoryStore) GetTransaction(_ context.Context, id string) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.transactions[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *tx
	return &clone, nil
}

// ConfirmTransaction 将 pending 记录置为 confirmed 并写入结算凭证。
func (m *MemoryStore) ConfirmTransaction(_ context.Context, id, txHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.transactions[id]
	if !ok {
		return ErrNotFound
	}
	if tx.Status != StatusPending {
		return ErrTerminal
	}
	tx.Status = StatusConfirmed
	tx.TxHash = txHash
	tx.LastError = ""
	tx.UpdatedAt = time.Now().Unix()
	return nil
}

// FailTransaction 将 pending 记录置为 failed。
func (m *MemoryStore) FailTransaction(_ context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.transactions[id]
	if !ok {
		return ErrNotFound
	}
	if tx.Status != StatusPending {
		return ErrTerminal
	}
	tx.Status = StatusFailed
	tx.LastError = reason
	tx.UpdatedAt = time.Now().Unix()
	return nil
}

// CreateSwap 实现 SwapStore。
func (m *MemoryStore) CreateSwap(_ context.Context, swap *Swap) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if swap == nil || swap.ID == "" {
		return xerrors.New(xerrors.CodeValidation, "记录 ID 不能为空")
	}
	if _, ok := m.swaps[swap.ID]; ok {
		return ErrConflict
	}
	now := time.Now().Unix()
	if swap.CreatedAt == 0 {
		swap.CreatedAt = now
	}
	swap.UpdatedAt = now
	clone := *swap
	m.swaps[swap.ID] = &clone
	return nil
}

// GetSwap 返回兑换记录。
func (m *MemoryStore) GetSwap(_ context.Context, id string) (*Swap, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	swap, ok := m.swaps[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *swap
	return &clone, nil
}

// ConfirmSwap 将 pending 记录置为 confirmed。
func (m *MemoryStore) ConfirmSwap(_ context.Context, id, txHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	swap, ok := m.swaps[id]
	if !ok {
		return ErrNotFound
	}
	if swap.Status != StatusPending {
		return ErrTerminal
	}
	swap.Status = StatusConfirmed
	swap.TxHash = txHash
	swap.LastError = ""
	swap.UpdatedAt = time.Now().Unix()
	return nil
}

// FailSwap 将 pending 记录置为 failed。
func (m *MemoryStore) FailSwap(_ context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	swap, ok := m.swaps[id]
	if !ok {
		return ErrNotFound
	}
	if swap.Status != StatusPending {
		return ErrTerminal
	}
	swap.Status = StatusFailed
	swap.LastError = reason
	swap.UpdatedAt = time.Now().Unix()
	return nil
}

// CreateProvisioning 实现 ProvisioningStore。
func (m *MemoryStore) CreateProvisioning(_ context.Context, prov *Provisioning) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prov == nil || prov.ID == "" {
		return xerrors.New(xerrors.CodeValidation, "记录 ID 不能为空")
	}
	if _, ok := m.provisioning[prov.ID]; ok {
		return ErrConflict
	}
	now := time.Now().Unix()
	if prov.CreatedAt == 0 {
		prov.CreatedAt = now
	}
	prov.UpdatedAt = now
	clone := *prov
	m.provisioning[prov.ID] = &clone
	return nil
}

// GetProvisioning 返回钱包开通记录。
func (m *MemoryStore) GetProvisioning(_ context.Context, id string) (*Provisioning, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	prov, ok := m.provisioning[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *prov
	return &clone, nil
}

// ConfirmProvisioning 将 pending 记录置为 confirmed 并写入地址与凭证。
func (m *MemoryStore) ConfirmProvisioning(_ context.Context, id, address, txHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prov, ok := m.provisioning[id]
	if !ok {
		return ErrNotFound
	}
	if prov.Status != StatusPending {
		return ErrTerminal
	}
	prov.Status = StatusConfirmed
	prov.Address = address
	prov.TxHash = txHash
	prov.LastError = ""
	prov.UpdatedAt = time.Now().Unix()
	return nil
}

// FailProvisioning 将 pending 记录置为 failed。
func (m *MemoryStore) FailProvisioning(_ context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prov, ok := m.provisioning[id]
	if !ok {
		return ErrNotFound
	}
	if prov.Status != StatusPending {
		return ErrTerminal
	}
	prov.Status = StatusFailed
	prov.LastError = reason
	prov.UpdatedAt = time.Now().Unix()
	return nil
}

// CreateWallet 写入钱包。主钱包受 (用户, 链) 唯一性约束保护。
func (m *MemoryStore) CreateWallet(_ context.Context, wallet *Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if wallet == nil || wallet.ID == "" {
		return xerrors.New(xerrors.CodeValidation, "记录 ID 不能为空")
	}
	if _, ok := m.wallets[wallet.ID]; ok {
		return ErrConflict
	}
	if wallet.IsPrimary {
		for _, existing := range m.wallets {
			if existing.UserID == wallet.UserID && existing.Chain == wallet.Chain && existing.IsPrimary {
				return ErrConflict
			}
		}
	}
	if wallet.CreatedAt == 0 {
		wallet.CreatedAt = time.Now().Unix()
	}
	clone := *wallet
	m.wallets[wallet.ID] = &clone
	return nil
}

// FindPrimaryWallet 返回 (用户, 链) 的主钱包。
func (m *MemoryStore) FindPrimaryWallet(_ context.Context, userID, chain string) (*Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, wallet := range m.wallets {
		if wallet.UserID == userID && wallet.Chain == chain && wallet.IsPrimary {
			clone := *wallet
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

// ListWallets 返回用户的全部钱包。
func (m *MemoryStore) ListWallets(_ context.Context, userID string) ([]*Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wallets := make([]*Wallet, 0, 4)
	for _, wallet := range m.wallets {
		if wallet.UserID == userID {
			clone := *wallet
			wallets = append(wallets, &clone)
		}
	}
	return wallets, nil
}

// CreateAlias 写入别名。标签在用户内唯一。
func (m *MemoryStore) CreateAlias(_ context.Context, alias *Alias) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if alias == nil || alias.ID == "" {
		return xerrors.New(xerrors.CodeValidation, "记录 ID 不能为空")
	}
	label := strings.ToLower(alias.Label)
	for _, existing := range m.aliases {
		if existing.UserID == alias.UserID && strings.ToLower(existing.Label) == label {
			return ErrConflict
		}
	}
	if alias.CreatedAt == 0 {
		alias.CreatedAt = time.Now().Unix()
	}
	clone := *alias
	m.aliases[alias.ID] = &clone
	return nil
}

// ResolveAlias 查询用户的别名。
func (m *MemoryStore) ResolveAlias(_ context.Context, userID, label string) (*Alias, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	label = strings.ToLower(label)
	for _, alias := range m.aliases {
		if alias.UserID == userID && strings.ToLower(alias.Label) == label {
			clone := *alias
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

// CreateUser 写入账户。用户名唯一。
func (m *MemoryStore) CreateUser(_ context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user == nil || user.ID == "" {
		return xerrors.New(xerrors.CodeValidation, "记录 ID 不能为空")
	}
	username := strings.ToLower(user.Username)
	for _, existing := range m.users {
		if strings.ToLower(existing.Username) == username {
			return ErrConflict
		}
	}
	if user.CreatedAt == 0 {
		user.CreatedAt = time.Now().Unix()
	}
	clone := *user
	m.users[user.ID] = &clone
	return nil
}

// GetUser 返回账户。
func (m *MemoryStore) GetUser(_ context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *user
	return &clone, nil
}

// FindUserByUsername 按用户名查询账户。
func (m *MemoryStore) FindUserByUsername(_ context.Context, username string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	username = strings.ToLower(username)
	for _, user := range m.users {
		if strings.ToLower(user.Username) == username {
			clone := *user
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

// SetPrimaryAddress 更新账户缓存的主钱包地址。
func (m *MemoryStore) SetPrimaryAddress(_ context.Context, userID, address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	user.PrimaryAddress = address
	return nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

// ensure interface compliance at compile time
var _ Store = (*MemoryStore)(nil)
