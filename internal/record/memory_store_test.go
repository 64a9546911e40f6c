package record

import (
	"context"
	"errors"
	"testing"
)

func TestTransactionLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	tx := &Transaction{
		ID:        "tx-1",
		UserID:    "user-1",
		Asset:     "ETH",
		Amount:    "0.5",
		ToAddress: "0xabc",
		Chain:     "Base",
		Status:    StatusPending,
	}
	if err := store.CreateTransaction(ctx, tx); err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}
	if err := store.CreateTransaction(ctx, tx); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate create = %v, want ErrConflict", err)
	}

	if err := store.ConfirmTransaction(ctx, "tx-1", "0xhash"); err != nil {
		t.Fatalf("ConfirmTransaction: %v", err)
	}
	got, err := store.GetTransaction(ctx, "tx-1")
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if got.Status != StatusConfirmed || got.TxHash != "0xhash" {
		t.Fatalf("got status=%s hash=%s, want confirmed/0xhash", got.Status, got.TxHash)
	}
}

func TestTerminalStatusIsMonotone(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	tx := &Transaction{ID: "tx-1", UserID: "u", Status: StatusPending}
	if err := store.CreateTransaction(ctx, tx); err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}
	if err := store.FailTransaction(ctx, "tx-1", "gas too low"); err != nil {
		t.Fatalf("FailTransaction: %v", err)
	}

	// 终态之后的任何变更都必须被拒绝。
	if err := store.ConfirmTransaction(ctx, "tx-1", "0xlate"); !errors.Is(err, ErrTerminal) {
		t.Fatalf("confirm after fail = %v, want ErrTerminal", err)
	}
	if err := store.FailTransaction(ctx, "tx-1", "again"); !errors.Is(err, ErrTerminal) {
		t.Fatalf("fail after fail = %v, want ErrTerminal", err)
	}

	got, err := store.GetTransaction(ctx, "tx-1")
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if got.Status != StatusFailed || got.LastError != "gas too low" {
		t.Fatalf("terminal record mutated: status=%s lastError=%q", got.Status, got.LastError)
	}
}

func TestConfirmMissingRecord(t *testing.T) {
	store := NewMemoryStore()
	if err := store.ConfirmTransaction(context.Background(), "missing", "0x1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("confirm missing = %v, want ErrNotFound", err)
	}
}

func TestProvisioningLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	prov := &Provisioning{ID: "prov-1", UserID: "u", Chain: "Base", Status: StatusPending}
	if err := store.CreateProvisioning(ctx, prov); err != nil {
		t.Fatalf("CreateProvisioning: %v", err)
	}
	if err := store.ConfirmProvisioning(ctx, "prov-1", "0xwallet", "0xdeploy"); err != nil {
		t.Fatalf("ConfirmProvisioning: %v", err)
	}
	got, err := store.GetProvisioning(ctx, "prov-1")
	if err != nil {
		t.Fatalf("GetProvisioning: %v", err)
	}
	if got.Address != "0xwallet" || got.TxHash != "0xdeploy" {
		t.Fatalf("got address=%s hash=%s", got.Address, got.TxHash)
	}
	if err := store.ConfirmProvisioning(ctx, "prov-1", "0xother", "0x2"); !errors.Is(err, ErrTerminal) {
		t.Fatalf("second confirm = %v, want ErrTerminal", err)
	}
}

func TestPrimaryWalletUniquePerUserChain(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first := &Wallet{ID: "w-1", UserID: "u", Chain: "Base", Address: "0xaaa", IsPrimary: true}
	if err := store.CreateWallet(ctx, first); err != nil {
		t.Fatalf("CreateWallet: %v", err)
	}

	// 同一 (用户, 链) 的第二个主钱包必须冲突。
	second := &Wallet{ID: "w-2", UserID: "u", Chain: "Base", Address: "0xbbb", IsPrimary: true}
	if err := store.CreateWallet(ctx, second); !errors.Is(err, ErrConflict) {
		t.Fatalf("second primary = %v, want ErrConflict", err)
	}

	// 非主钱包与其它链上的主钱包不受限制。
	extra := &Wallet{ID: "w-3", UserID: "u", Chain: "Base", Address: "0xccc"}
	if err := store.CreateWallet(ctx, extra); err != nil {
		t.Fatalf("non-primary wallet: %v", err)
	}
	otherChain := &Wallet{ID: "w-4", UserID: "u", Chain: "Ethereum", Address: "0xddd", IsPrimary: true}
	if err := store.CreateWallet(ctx, otherChain); err != nil {
		t.Fatalf("primary on other chain: %v", err)
	}

	primary, err := store.FindPrimaryWallet(ctx, "u", "Base")
	if err != nil {
		t.Fatalf("FindPrimaryWallet: %v", err)
	}
	if primary.Address != "0xaaa" {
		t.Fatalf("primary address = %s, want 0xaaa", primary.Address)
	}

	wallets, err := store.ListWallets(ctx, "u")
	if err != nil {
		t.Fatalf("ListWallets: %v", err)
	}
	if len(wallets) != 3 {
		t.Fatalf("len(wallets) = %d, want 3", len(wallets))
	}
}

func TestAliasLabelUniquePerUser(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	alias := &Alias{ID: "a-1", UserID: "u1", Label: "Mom", Address: "0x111", Chain: "Base"}
	if err := store.CreateAlias(ctx, alias); err != nil {
		t.Fatalf("CreateAlias: %v", err)
	}

	// 标签大小写不敏感，同一用户内重复即冲突。
	dup := &Alias{ID: "a-2", UserID: "u1", Label: "mom", Address: "0x222", Chain: "Base"}
	if err := store.CreateAlias(ctx, dup); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate label = %v, want ErrConflict", err)
	}

	// 不同用户可以使用相同标签。
	other := &Alias{ID: "a-3", UserID: "u2", Label: "mom", Address: "0x333", Chain: "Base"}
	if err := store.CreateAlias(ctx, other); err != nil {
		t.Fatalf("same label other user: %v", err)
	}

	got, err := store.ResolveAlias(ctx, "u1", "MOM")
	if err != nil {
		t.Fatalf("ResolveAlias: %v", err)
	}
	if got.Address != "0x111" {
		t.Fatalf("resolved address = %s, want 0x111", got.Address)
	}
	if _, err := store.ResolveAlias(ctx, "u1", "dad"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown label = %v, want ErrNotFound", err)
	}
}

func TestUserStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	user := &User{ID: "u-1", Username: "Alice", PasswordHash: "hash"}
	if err := store.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	dup := &User{ID: "u-2", Username: "alice", PasswordHash: "hash2"}
	if err := store.CreateUser(ctx, dup); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate username = %v, want ErrConflict", err)
	}

	if err := store.SetPrimaryAddress(ctx, "u-1", "0xprimary"); err != nil {
		t.Fatalf("SetPrimaryAddress: %v", err)
	}
	got, err := store.FindUserByUsername(ctx, "ALICE")
	if err != nil {
		t.Fatalf("FindUserByUsername: %v", err)
	}
	if got.PrimaryAddress != "0xprimary" {
		t.Fatalf("primary address = %s, want 0xprimary", got.PrimaryAddress)
	}
}

func TestCloneSemantics(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	tx := &Transaction{ID: "tx-1", UserID: "u", Status: StatusPending}
	if err := store.CreateTransaction(ctx, tx); err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}
	got, err := store.GetTransaction(ctx, "tx-1")
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	got.Status = StatusFailed

	again, err := store.GetTransaction(ctx, "tx-1")
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if again.Status != StatusPending {
		t.Fatalf("store mutated through returned clone: status=%s", again.Status)
	}
}
