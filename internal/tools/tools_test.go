package tools

import (
	"context"
	stdErrors "errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"SettleFlow-Chain/internal/action"
	"SettleFlow-Chain/internal/auth"
	xerrors "SettleFlow-Chain/internal/errors"
	"SettleFlow-Chain/internal/job"
	"SettleFlow-Chain/internal/record"
	"SettleFlow-Chain/internal/settlement"
)

type stubClient struct {
	balance decimal.Decimal
}

func (c *stubClient) DeployWallet(context.Context, string) (settlement.WalletReceipt, error) {
	return settlement.WalletReceipt{Address: "0xdeployed", TxHash: "0xhash"}, nil
}

func (c *stubClient) SubmitTransfer(context.Context, settlement.TransferRequest) (settlement.Receipt, error) {
	return settlement.Receipt{TxHash: "0xtransfer"}, nil
}

func (c *stubClient) SubmitSwap(context.Context, settlement.SwapRequest) (settlement.Receipt, error) {
	return settlement.Receipt{TxHash: "0xswap"}, nil
}

func (c *stubClient) BalanceOf(context.Context, string, string) (decimal.Decimal, error) {
	return c.balance, nil
}

func (c *stubClient) Balances(context.Context, string) ([]settlement.Balance, error) {
	return []settlement.Balance{{Asset: "ETH", Amount: c.balance}}, nil
}

func (c *stubClient) FetchChainSnapshot(context.Context) (settlement.ChainSnapshot, error) {
	return settlement.ChainSnapshot{ChainID: "8453", BlockNumber: "1"}, nil
}

func (c *stubClient) Close() {}

type stubRegistry struct {
	client settlement.Client
}

func (r *stubRegistry) Client(name string) (settlement.Client, bool) {
	if name != "Base" {
		return nil, false
	}
	return r.client, true
}

func (r *stubRegistry) DefaultChain() string { return "Base" }

type failingProducer struct{}

func (failingProducer) Publish(context.Context, string) error {
	return stdErrors.New("broker unavailable")
}

func (failingProducer) PublishAfter(context.Context, string, time.Duration) error {
	return stdErrors.New("broker unavailable")
}

func (failingProducer) Close() error { return nil }

type fixture struct {
	service *Service
	records record.Store
	jobs    job.Store
	queues  map[job.Category]*job.MemoryQueue
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	records := record.NewMemoryStore()
	jobs := job.NewMemoryStore()
	accounts, err := auth.NewService(records, auth.Config{Secret: "test"})
	if err != nil {
		t.Fatalf("auth.NewService: %v", err)
	}

	queues := make(map[job.Category]*job.MemoryQueue)
	producers := make(map[job.Category]job.Producer)
	for _, category := range job.Categories() {
		queue := job.NewMemoryQueue(16)
		queues[category] = queue
		producers[category] = queue
	}

	service, err := NewService(records, jobs, producers, accounts, &stubRegistry{client: &stubClient{balance: decimal.RequireFromString("1.5")}})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(func() {
		for _, queue := range queues {
			_ = queue.Close()
		}
	})
	return &fixture{service: service, records: records, jobs: jobs, queues: queues}
}

func (f *fixture) signupActor(t *testing.T, username string) string {
	t.Helper()
	result, err := f.service.Signup(context.Background(), &action.Signup{Username: username, Password: "pw"})
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	return result.User.ID
}

func TestSignupEnqueuesProvisioning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.service.Signup(ctx, &action.Signup{Username: "alice", Password: "pw"})
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if result.ProvisioningID == "" {
		t.Fatal("expected a provisioning record id")
	}

	prov, err := f.records.GetProvisioning(ctx, result.ProvisioningID)
	if err != nil {
		t.Fatalf("GetProvisioning: %v", err)
	}
	if prov.Status != record.StatusPending || prov.Chain != "Base" {
		t.Fatalf("provisioning = %+v, want pending on Base", prov)
	}

	metrics, err := f.service.QueueMetrics(ctx, job.CategoryProvisioning)
	if err != nil {
		t.Fatalf("QueueMetrics: %v", err)
	}
	if metrics.Waiting != 1 {
		t.Fatalf("waiting = %d, want 1", metrics.Waiting)
	}
}

func TestTransferResolvesAliasBeforeEnqueue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	actorID := f.signupActor(t, "bob")

	wallet := &record.Wallet{ID: "w-1", UserID: actorID, Chain: "Base", Address: "0xme", IsPrimary: true}
	if err := f.records.CreateWallet(ctx, wallet); err != nil {
		t.Fatalf("CreateWallet: %v", err)
	}
	if _, err := f.service.CreateAlias(ctx, actorID, &action.CreateAlias{Label: "Mom", Address: "0xmom"}); err != nil {
		t.Fatalf("CreateAlias: %v", err)
	}

	result, err := f.service.Transfer(ctx, actorID, &action.Transfer{
		Asset:  "ETH",
		Amount: decimal.RequireFromString("0.5"),
		To:     "@mom",
	})
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if result.Status != record.StatusPending || result.Category != job.CategoryTransfer {
		t.Fatalf("unexpected result: %+v", result)
	}

	tx, err := f.records.GetTransaction(ctx, result.RecordID)
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if tx.ToAddress != "0xmom" || tx.FromAddress != "0xme" {
		t.Fatalf("tx addresses = %s -> %s, want 0xme -> 0xmom", tx.FromAddress, tx.ToAddress)
	}

	queued, err := f.jobs.Get(ctx, result.JobID)
	if err != nil {
		t.Fatalf("jobs.Get: %v", err)
	}
	if queued.Status != job.StatusWaiting || queued.RecordID != tx.ID {
		t.Fatalf("job = %+v, want waiting referencing %s", queued, tx.ID)
	}
}

func TestTransferRejectsUnresolvableAlias(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	actorID := f.signupActor(t, "carol")

	wallet := &record.Wallet{ID: "w-1", UserID: actorID, Chain: "Base", Address: "0xme", IsPrimary: true}
	if err := f.records.CreateWallet(ctx, wallet); err != nil {
		t.Fatalf("CreateWallet: %v", err)
	}

	_, err := f.service.Transfer(ctx, actorID, &action.Transfer{
		Asset:  "ETH",
		Amount: decimal.RequireFromString("1"),
		To:     "@nobody",
	})
	if xerrors.CodeOf(err) != xerrors.CodeAliasNotFound {
		t.Fatalf("code = %v, want ALIAS_NOT_FOUND", xerrors.CodeOf(err))
	}

	// 拒绝发生在入队之前，不应留下任何转账作业。
	metrics, err := f.service.QueueMetrics(ctx, job.CategoryTransfer)
	if err != nil {
		t.Fatalf("QueueMetrics: %v", err)
	}
	if metrics.Waiting != 0 {
		t.Fatalf("waiting = %d, want 0", metrics.Waiting)
	}
}

func TestAliasOperationsRequireActor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.service.CreateAlias(ctx, "", &action.CreateAlias{Label: "mom", Address: "0xmom"}); xerrors.CodeOf(err) != xerrors.CodePrecondition {
		t.Fatalf("CreateAlias code = %v, want PRECONDITION", xerrors.CodeOf(err))
	}
	if _, err := f.service.ResolveAlias(ctx, "", &action.ResolveAlias{Label: "mom"}); xerrors.CodeOf(err) != xerrors.CodePrecondition {
		t.Fatalf("ResolveAlias code = %v, want PRECONDITION", xerrors.CodeOf(err))
	}
	if _, err := f.service.Transfer(ctx, "", &action.Transfer{Asset: "ETH", Amount: decimal.RequireFromString("1"), To: "0xto"}); xerrors.CodeOf(err) != xerrors.CodePrecondition {
		t.Fatalf("Transfer code = %v, want PRECONDITION", xerrors.CodeOf(err))
	}
}

func TestTransferPublishFailureCompensates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	actorID := f.signupActor(t, "dave")

	wallet := &record.Wallet{ID: "w-1", UserID: actorID, Chain: "Base", Address: "0xme", IsPrimary: true}
	if err := f.records.CreateWallet(ctx, wallet); err != nil {
		t.Fatalf("CreateWallet: %v", err)
	}

	producers := map[job.Category]job.Producer{job.CategoryTransfer: failingProducer{}}
	accounts, err := auth.NewService(f.records, auth.Config{Secret: "test"})
	if err != nil {
		t.Fatalf("auth.NewService: %v", err)
	}
	broken, err := NewService(f.records, f.jobs, producers, accounts, &stubRegistry{client: &stubClient{}})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	_, err = broken.Transfer(ctx, actorID, &action.Transfer{
		Asset:  "ETH",
		Amount: decimal.RequireFromString("1"),
		To:     "0xto",
	})
	if xerrors.CodeOf(err) != job.CodeJobPublish {
		t.Fatalf("code = %v, want JOB_PUBLISH_FAILED", xerrors.CodeOf(err))
	}

	// 补偿后没有悬挂的 pending 记录，作业直接进入死信。
	metrics, err := f.jobs.Metrics(ctx, job.CategoryTransfer)
	if err != nil {
		t.Fatalf("Metrics: %v", err)
	}
	if metrics.Dead != 1 {
		t.Fatalf("dead = %d, want 1", metrics.Dead)
	}
}

func TestBalanceCheckFallsBackToPrimaryWallet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	actorID := f.signupActor(t, "erin")

	wallet := &record.Wallet{ID: "w-1", UserID: actorID, Chain: "Base", Address: "0xme", IsPrimary: true}
	if err := f.records.CreateWallet(ctx, wallet); err != nil {
		t.Fatalf("CreateWallet: %v", err)
	}

	result, err := f.service.BalanceCheck(ctx, actorID, &action.BalanceCheck{Asset: "ETH"})
	if err != nil {
		t.Fatalf("BalanceCheck: %v", err)
	}
	if result.Address != "0xme" || result.Amount != "1.5" {
		t.Fatalf("result = %+v, want 1.5 ETH at 0xme", result)
	}

	// 无身份也无地址的查询被拒绝。
	if _, err := f.service.BalanceCheck(ctx, "", &action.BalanceCheck{Asset: "ETH"}); xerrors.CodeOf(err) != xerrors.CodePrecondition {
		t.Fatalf("code = %v, want PRECONDITION", xerrors.CodeOf(err))
	}
}

func TestWaitUntilSettled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	actorID := f.signupActor(t, "frank")

	wallet := &record.Wallet{ID: "w-1", UserID: actorID, Chain: "Base", Address: "0xme", IsPrimary: true}
	if err := f.records.CreateWallet(ctx, wallet); err != nil {
		t.Fatalf("CreateWallet: %v", err)
	}
	result, err := f.service.Transfer(ctx, actorID, &action.Transfer{
		Asset:  "ETH",
		Amount: decimal.RequireFromString("1"),
		To:     "0xto",
	})
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = f.records.ConfirmTransaction(ctx, result.RecordID, "0xdone")
	}()

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	status, err := f.service.WaitUntilSettled(waitCtx, job.CategoryTransfer, result.RecordID, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitUntilSettled: %v", err)
	}
	if status != record.StatusConfirmed {
		t.Fatalf("status = %s, want confirmed", status)
	}
}
