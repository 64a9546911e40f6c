package record

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "SettleFlow-Chain/internal/errors"
)

// MySQLStore 使用 MySQL 持久化领域记录。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 创建一个新的 MySQLStore 并初始化表结构。
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store := &MySQLStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *MySQLStore) initSchema() error {
	schemas := []string{
		`CREATE TABLE IF NOT EXISTS settlement_transactions (
        id VARCHAR(64) PRIMARY KEY,
        user_id VARCHAR(64) NOT NULL,
        asset VARCHAR(32) NOT NULL,
        amount DECIMAL(36,18) NOT NULL,
        from_address VARCHAR(128) DEFAULT '',
        to_address VARCHAR(128) NOT NULL,
        chain VARCHAR(32) NOT NULL,
        status VARCHAR(16) NOT NULL,
        tx_hash VARCHAR(128) DEFAULT '',
        last_error TEXT,
        created_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        INDEX idx_tx_user (user_id),
        INDEX idx_tx_status (status)
)`,
		`CREATE TABLE IF NOT EXISTS settlement_swaps (
        id VARCHAR(64) PRIMARY KEY,
        user_id VARCHAR(64) NOT NULL,
        from_asset VARCHAR(32) NOT NULL,
        to_asset VARCHAR(32) NOT NULL,
        amount DECIMAL(36,18) NOT NULL,
        protocol VARCHAR(32) NOT NULL,
        slippage_pct DECIMAL(8,4) NOT NULL DEFAULT 0.5,
        chain VARCHAR(32) NOT NULL,
        status VARCHAR(16) NOT NULL,
        tx_hash VARCHAR(128) DEFAULT '',
        last_error TEXT,
        created_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        INDEX idx_swap_user (user_id),
        INDEX idx_swap_status (status)
)`,
		`CREATE TABLE IF NOT EXISTS wallet_provisioning (
        id VARCHAR(64) PRIMARY KEY,
        user_id VARCHAR(64) NOT NULL,
        chain VARCHAR(32) NOT NULL,
        status VARCHAR(16) NOT NULL,
        address VARCHAR(128) DEFAULT '',
        tx_hash VARCHAR(128) DEFAULT '',
        last_error TEXT,
        created_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        INDEX idx_prov_user_chain (user_id, chain)
)`,
		`CREATE TABLE IF NOT EXISTS wallets (
        id VARCHAR(64) PRIMARY KEY,
        user_id VARCHAR(64) NOT NULL,
        chain VARCHAR(32) NOT NULL,
        address VARCHAR(128) NOT NULL,
        is_primary TINYINT(1) NOT NULL DEFAULT 0,
        created_at BIGINT NOT NULL,
        INDEX idx_wallet_user (user_id),
        INDEX idx_wallet_user_chain (user_id, chain)
)`,
		`CREATE TABLE IF NOT EXISTS aliases (
        id VARCHAR(64) PRIMARY KEY,
        user_id VARCHAR(64) NOT NULL,
        label VARCHAR(64) NOT NULL,
        address VARCHAR(128) NOT NULL,
        chain VARCHAR(32) NOT NULL,
        created_at BIGINT NOT NULL,
        UNIQUE KEY uniq_alias_user_label (user_id, label)
)`,
		`CREATE TABLE IF NOT EXISTS users (
        id VARCHAR(64) PRIMARY KEY,
        username VARCHAR(64) NOT NULL,
        password_hash VARCHAR(255) NOT NULL,
        primary_address VARCHAR(128) DEFAULT '',
        created_at BIGINT NOT NULL,
        UNIQUE KEY uniq_username (username)
)`,
	}
	for _, schema := range schemas {
		if _, err := s.db.Exec(schema); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化领域记录表失败")
		}
	}
	return nil
}

func isDuplicateKey(err error) bool {
	var mysqlErr *mysql.MySQLError
	return stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}

// CreateTransaction 插入新的转账记录。
func (s *MySQLStore) CreateTransaction(ctx context.Context, tx *Transaction) error {
	if tx == nil || strings.TrimSpace(tx.ID) == "" {
		return xerrors.New(xerrors.CodeValidation, "记录 ID 不能为空")
	}
	now := time.Now().Unix()
	tx.CreatedAt = now
	tx.UpdatedAt = now

	const stmt = `INSERT INTO settlement_transactions
        (id, user_id, asset, amount, from_address, to_address, chain, status, tx_hash, last_error, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, '', '', ?, ?)`
	_, err := s.db.ExecContext(ctx, stmt,
		tx.ID, tx.UserID, tx.Asset, tx.Amount, tx.FromAddress, tx.ToAddress, tx.Chain, tx.Status,
		tx.CreatedAt, tx.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return ErrConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入转账记录失败")
	}
	return nil
}

// GetTransaction 查询转账记录。
func (s *MySQLStore) GetTransaction(ctx context.Context, id string) (*Transaction, error) {
	const stmt = `SELECT id, user_id, asset, amount, from_address, to_address, chain, status,
        tx_hash, COALESCE(last_error, ''), created_at, updated_at
        FROM settlement_transactions WHERE id = ?`
	row := s.db.QueryRowContext(ctx, stmt, id)
	var tx Transaction
	if err := row.Scan(&tx.ID, &tx.UserID, &tx.Asset, &tx.Amount, &tx.FromAddress, &tx.ToAddress,
		&tx.Chain, &tx.Status, &tx.TxHash, &tx.LastError, &tx.CreatedAt, &tx.UpdatedAt); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询转账记录失败")
	}
	return &tx, nil
}

// ConfirmTransaction 以受状态保护的更新写入终态，保证状态单调。
func (s *MySQLStore) ConfirmTransaction(ctx context.Context, id, txHash string) error {
	const stmt = `UPDATE settlement_transactions SET status = ?, tx_hash = ?, last_error = '', updated_at = ?
        WHERE id = ? AND status = ?`
	return s.settleUpdate(ctx, stmt, func() (Status, error) {
		tx, err := s.GetTransaction(ctx, id)
		if err != nil {
			return "", err
		}
		return tx.Status, nil
	}, StatusConfirmed, txHash, time.Now().Unix(), id, StatusPending)
}

// FailTransaction 将 pending 记录置为 failed。
func (s *MySQLStore) FailTransaction(ctx context.Context, id, reason string) error {
	const stmt = `UPDATE settlement_transactions SET status = ?, last_error = ?, updated_at = ?
        WHERE id = ? AND status = ?`
	return s.settleUpdate(ctx, stmt, func() (Status, error) {
		tx, err := s.GetTransaction(ctx, id)
		if err != nil {
			return "", err
		}
		return tx.Status, nil
	}, StatusFailed, reason, time.Now().Unix(), id, StatusPending)
}

// settleUpdate 执行受保护的状态更新；零行受影响时区分记录缺失与终态。
func (s *MySQLStore) settleUpdate(ctx context.Context, stmt string, current func() (Status, error), args ...any) error {
	res, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新记录状态失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	if affected == 0 {
		status, getErr := current()
		if getErr != nil {
			return getErr
		}
		if status.IsTerminal() {
			return ErrTerminal
		}
		return ErrNotFound
	}
	return nil
}

// CreateSwap 插入新的兑换记录。
func (s *MySQLStore) CreateSwap(ctx context.Context, swap *Swap) error {
	if swap == nil || strings.TrimSpace(swap.ID) == "" {
		return xerrors.New(xerrors.CodeValidation, "记录 ID 不能为空")
	}
	now := time.Now().Unix()
	swap.CreatedAt = now
	swap.UpdatedAt = now

	const stmt = `INSERT INTO settlement_swaps
        (id, user_id, from_asset, to_asset, amount, protocol, slippage_pct, chain, status, tx_hash, last_error, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, '', '', ?, ?)`
	_, err := s.db.ExecContext(ctx, stmt,
		swap.ID, swap.UserID, swap.FromAsset, swap.ToAsset, swap.Amount, swap.Protocol,
		swap.SlippagePct, swap.Chain, swap.Status, swap.CreatedAt, swap.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return ErrConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入兑换记录失败")
	}
	return nil
}

// GetSwap 查询兑换记录。
func (s *MySQLStore) GetSwap(ctx context.Context, id string) (*Swap, error) {
	const stmt = `SELECT id, user_id, from_asset, to_asset, amount, protocol, slippage_pct, chain, status,
        tx_hash, COALESCE(last_error, ''), created_at, updated_at
        FROM settlement_swaps WHERE id = ?`
	row := s.db.QueryRowContext(ctx, stmt, id)
	var swap Swap
	if err := row.Scan(&swap.ID, &swap.UserID, &swap.FromAsset, &swap.ToAsset, &swap.Amount,
		&swap.Protocol, &swap.SlippagePct, &swap.Chain, &swap.Status, &swap.TxHash,
		&swap.LastError, &swap.CreatedAt, &swap.UpdatedAt); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询兑换记录失败")
	}
	return &swap, nil
}

// ConfirmSwap 将 pending 记录置为 confirmed。
func (s *MySQLStore) ConfirmSwap(ctx context.Context, id, txHash string) error {
	const stmt = `UPDATE settlement_swaps SET status = ?, tx_hash = ?, last_error = '', updated_at = ?
        WHERE id = ? AND status = ?`
	return s.settleUpdate(ctx, stmt, func() (Status, error) {
		swap, err := s.GetSwap(ctx, id)
		if err != nil {
			return "", err
		}
		return swap.Status, nil
	}, StatusConfirmed, txHash, time.Now().Unix(), id, StatusPending)
}

// FailSwap 将 pending 记录置为 failed。
func (s *MySQLStore) FailSwap(ctx context.Context, id, reason string) error {
	const stmt = `UPDATE settlement_swaps SET status = ?, last_error = ?, updated_at = ?
        WHERE id = ? AND status = ?`
	return s.settleUpdate(ctx, stmt, func() (Status, error) {
		swap, err := s.GetSwap(ctx, id)
		if err != nil {
			return "", err
		}
		return swap.Status, nil
	}, StatusFailed, reason, time.Now().Unix(), id, StatusPending)
}

// CreateProvisioning 插入新的钱包开通记录。
func (s *MySQLStore) CreateProvisioning(ctx context.Context, prov *Provisioning) error {
	if prov == nil || strings.TrimSpace(prov.ID) == "" {
		return xerrors.New(xerrors.CodeValidation, "记录 ID 不能为空")
	}
	now := time.Now().Unix()
	prov.CreatedAt = now
	prov.UpdatedAt = now

	const stmt = `INSERT INTO wallet_provisioning
        (id, user_id, chain, status, address, tx_hash, last_error, created_at, updated_at)
        VALUES (?, ?, ?, ?, '', '', '', ?, ?)`
	_, err := s.db.ExecContext(ctx, stmt, prov.ID, prov.UserID, prov.Chain, prov.Status, prov.CreatedAt, prov.UpdatedAt)
	if err != nil {
		if isDuplicateKey(err) {
			return ErrConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入钱包开通记录失败")
	}
	return nil
}

// GetProvisioning 查询钱包开通记录。
func (s *MySQLStore) GetProvisioning(ctx context.Context, id string) (*Provisioning, error) {
	const stmt = `SELECT id, user_id, chain, status, address, tx_hash, COALESCE(last_error, ''), created_at, updated_at
        FROM wallet_provisioning WHERE id = ?`
	row := s.db.QueryRowContext(ctx, stmt, id)
	var prov Provisioning
	if err := row.Scan(&prov.ID, &prov.UserID, &prov.Chain, &prov.Status, &prov.Address,
		&prov.TxHash, &prov.LastError, &prov.CreatedAt, &prov.UpdatedAt); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询钱包开通记录失败")
	}
	return &prov, nil
}

// ConfirmProvisioning 将 pending 记录置为 confirmed 并写入地址与凭证。
func (s *MySQLStore) ConfirmProvisioning(ctx context.Context, id, address, txHash string) error {
	const stmt = `UPDATE wallet_provisioning SET status = ?, address = ?, tx_hash = ?, last_error = '', updated_at = ?
        WHERE id = ? AND status = ?`
	return s.settleUpdate(ctx, stmt, func() (Status, error) {
		prov, err := s.GetProvisioning(ctx, id)
		if err != nil {
			return "", err
		}
		return prov.Status, nil
	}, StatusConfirmed, address, txHash, time.Now().Unix(), id, StatusPending)
}

// FailProvisioning 将 pending 记录置为 failed。
func (s *MySQLStore) FailProvisioning(ctx context.Context, id, reason string) error {
	const stmt = `UPDATE wallet_provisioning SET status = ?, last_error = ?, updated_at = ?
        WHERE id = ? AND status = ?`
	return s.settleUpdate(ctx, stmt, func() (Status, error) {
		prov, err := s.GetProvisioning(ctx, id)
		if err != nil {
			return "", err
		}
		return prov.Status, nil
	}, StatusFailed, reason, time.Now().Unix(), id, StatusPending)
}

// CreateWallet 在事务中写入钱包，持锁校验 (用户, 链) 主钱包唯一。
func (s *MySQLStore) CreateWallet(ctx context.Context, wallet *Wallet) error {
	if wallet == nil || strings.TrimSpace(wallet.ID) == "" {
		return xerrors.New(xerrors.CodeValidation, "记录 ID 不能为空")
	}
	if wallet.CreatedAt == 0 {
		wallet.CreatedAt = time.Now().Unix()
	}

	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启事务失败")
	}
	defer func() { _ = dbTx.Rollback() }()

	if wallet.IsPrimary {
		const check = `SELECT COUNT(*) FROM wallets WHERE user_id = ? AND chain = ? AND is_primary = 1 FOR UPDATE`
		var count int
		if err := dbTx.QueryRowContext(ctx, check, wallet.UserID, wallet.Chain).Scan(&count); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询主钱包失败")
		}
		if count > 0 {
			return ErrConflict
		}
	}

	const stmt = `INSERT INTO wallets (id, user_id, chain, address, is_primary, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := dbTx.ExecContext(ctx, stmt, wallet.ID, wallet.UserID, wallet.Chain, wallet.Address, wallet.IsPrimary, wallet.CreatedAt); err != nil {
		if isDuplicateKey(err) {
			return ErrConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入钱包失败")
	}
	if err := dbTx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交事务失败")
	}
	return nil
}

// FindPrimaryWallet 返回 (用户, 链) 的主钱包。
func (s *MySQLStore) FindPrimaryWallet(ctx context.Context, userID, chain string) (*Wallet, error) {
	const stmt = `SELECT id, user_id, chain, address, is_primary, created_at
        FROM wallets WHERE user_id = ? AND chain = ? AND is_primary = 1 LIMIT 1`
	row := s.db.QueryRowContext(ctx, stmt, userID, chain)
	var wallet Wallet
	if err := row.Scan(&wallet.ID, &wallet.UserID, &wallet.Chain, &wallet.Address, &wallet.IsPrimary, &wallet.CreatedAt); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询主钱包失败")
	}
	return &wallet, nil
}

// ListWallets 返回用户的全部钱包。
func (s *MySQLStore) ListWallets(ctx context.Context, userID string) ([]*Wallet, error) {
	const stmt = `SELECT id, user_id, chain, address, is_primary, created_at
        FROM wallets WHERE user_id = ? ORDER BY created_at ASC`
	rows, err := s.db.QueryContext(ctx, stmt, userID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询钱包列表失败")
	}
	defer rows.Close()

	wallets := make([]*Wallet, 0, 4)
	for rows.Next() {
		var wallet Wallet
		if err := rows.Scan(&wallet.ID, &wallet.UserID, &wallet.Chain, &wallet.Address, &wallet.IsPrimary, &wallet.CreatedAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析钱包记录失败")
		}
		wallets = append(wallets, &wallet)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历钱包失败")
	}
	return wallets, nil
}

// CreateAlias 写入别名，重复标签映射为 ErrConflict。
func (s *MySQLStore) CreateAlias(ctx context.Context, alias *Alias) error {
	if alias == nil || strings.TrimSpace(alias.ID) == "" {
		return xerrors.New(xerrors.CodeValidation, "记录 ID 不能为空")
	}
	if alias.CreatedAt == 0 {
		alias.CreatedAt = time.Now().Unix()
	}
	const stmt = `INSERT INTO aliases (id, user_id, label, address, chain, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, stmt, alias.ID, alias.UserID, strings.ToLower(alias.Label), alias.Address, alias.Chain, alias.CreatedAt)
	if err != nil {
		if isDuplicateKey(err) {
			return ErrConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入别名失败")
	}
	return nil
}

// ResolveAlias 查询用户的别名。
func (s *MySQLStore) ResolveAlias(ctx context.Context, userID, label string) (*Alias, error) {
	const stmt = `SELECT id, user_id, label, address, chain, created_at FROM aliases WHERE user_id = ? AND label = ?`
	row := s.db.QueryRowContext(ctx, stmt, userID, strings.ToLower(label))
	var alias Alias
	if err := row.Scan(&alias.ID, &alias.UserID, &alias.Label, &alias.Address, &alias.Chain, &alias.CreatedAt); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询别名失败")
	}
	return &alias, nil
}

// CreateUser 写入账户，重复用户名映射为 ErrConflict。
func (s *MySQLStore) CreateUser(ctx context.Context, user *User) error {
	if user == nil || strings.TrimSpace(user.ID) == "" {
		return xerrors.New(xerrors.CodeValidation, "记录 ID 不能为空")
	}
	if user.CreatedAt == 0 {
		user.CreatedAt = time.Now().Unix()
	}
	const stmt = `INSERT INTO users (id, username, password_hash, primary_address, created_at) VALUES (?, ?, ?, '', ?)`
	_, err := s.db.ExecContext(ctx, stmt, user.ID, strings.ToLower(user.Username), user.PasswordHash, user.CreatedAt)
	if err != nil {
		if isDuplicateKey(err) {
			return ErrConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入账户失败")
	}
	return nil
}

// GetUser 返回账户。
func (s *MySQLStore) GetUser(ctx context.Context, id string) (*User, error) {
	const stmt = `SELECT id, username, password_hash, primary_address, created_at FROM users WHERE id = ?`
	row := s.db.QueryRowContext(ctx, stmt, id)
	var user User
	if err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.PrimaryAddress, &user.CreatedAt); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询账户失败")
	}
	return &user, nil
}

// FindUserByUsername 按用户名查询账户。
func (s *MySQLStore) FindUserByUsername(ctx context.Context, username string) (*User, error) {
	const stmt = `SELECT id, username, password_hash, primary_address, created_at FROM users WHERE username = ?`
	row := s.db.QueryRowContext(ctx, stmt, strings.ToLower(username))
	var user User
	if err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.PrimaryAddress, &user.CreatedAt); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询账户失败")
	}
	return &user, nil
}

// SetPrimaryAddress 更新账户缓存的主钱包地址。
func (s *MySQLStore) SetPrimaryAddress(ctx context.Context, userID, address string) error {
	const stmt = `UPDATE users SET primary_address = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, stmt, address, userID)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新主钱包地址失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ Store = (*MySQLStore)(nil)
