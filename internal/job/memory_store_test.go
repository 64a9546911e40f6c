package job

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestJob(id string) *Job {
	return &Job{
		ID:       id,
		Category: CategoryTransfer,
		RecordID: "rec-" + id,
		UserID:   "user-1",
		Payload:  []byte(`{"asset":"ETH"}`),
	}
}

func TestCreateAppliesDefaults(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	created := newTestJob("j-1")
	if err := store.Create(ctx, created); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := store.Get(ctx, "j-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusWaiting {
		t.Fatalf("status = %s, want waiting", got.Status)
	}
	if got.MaxAttempts != DefaultMaxAttempts {
		t.Fatalf("max attempts = %d, want %d", got.MaxAttempts, DefaultMaxAttempts)
	}

	if err := store.Create(ctx, newTestJob("j-1")); !errors.Is(err, ErrJobConflict) {
		t.Fatalf("duplicate create = %v, want ErrJobConflict", err)
	}
}

func TestClaimTransitionsAndGuards(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, newTestJob("j-1")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	claimed, err := store.Claim(ctx, "j-1")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if claimed.Status != StatusActive || claimed.Attempts != 1 {
		t.Fatalf("claimed status=%s attempts=%d, want active/1", claimed.Status, claimed.Attempts)
	}

	// active 状态下的并发认领被拒绝。
	if _, err := store.Claim(ctx, "j-1"); !errors.Is(err, ErrJobConflict) {
		t.Fatalf("claim active = %v, want ErrJobConflict", err)
	}

	if err := store.MarkCompleted(ctx, "j-1"); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}

	// 完成后的重复投递必须被静默吸收。
	if _, err := store.Claim(ctx, "j-1"); !errors.Is(err, ErrJobCompleted) {
		t.Fatalf("claim completed = %v, want ErrJobCompleted", err)
	}
}

func TestClaimExhaustsAfterMaxAttempts(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	created := newTestJob("j-1")
	created.MaxAttempts = 2
	if err := store.Create(ctx, created); err != nil {
		t.Fatalf("Create: %v", err)
	}

	for attempt := 1; attempt <= 2; attempt++ {
		claimed, err := store.Claim(ctx, "j-1")
		if err != nil {
			t.Fatalf("claim %d: %v", attempt, err)
		}
		if claimed.Attempts != attempt {
			t.Fatalf("attempts = %d, want %d", claimed.Attempts, attempt)
		}
		retryAt := time.Now().Add(-time.Second).Unix()
		if err := store.MarkFailed(ctx, "j-1", string(CodeJobProcessing), "rpc unreachable", retryAt); err != nil {
			t.Fatalf("MarkFailed %d: %v", attempt, err)
		}
	}

	// 第二次失败时尝试已达上限，作业直接进入 dead。
	got, err := store.Get(ctx, "j-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusDead {
		t.Fatalf("status = %s, want dead", got.Status)
	}
	if _, err := store.Claim(ctx, "j-1"); !errors.Is(err, ErrJobExhausted) {
		t.Fatalf("claim dead = %v, want ErrJobExhausted", err)
	}
}

func TestClaimTimeExhaustionMovesJobToDead(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	created := newTestJob("j-1")
	created.Attempts = DefaultMaxAttempts
	if err := store.Create(ctx, created); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := store.Claim(ctx, "j-1"); !errors.Is(err, ErrJobExhausted) {
		t.Fatalf("claim exhausted = %v, want ErrJobExhausted", err)
	}
	// 认领时发现耗尽的作业必须落入 dead，而不是停在原状态隐身。
	got, err := store.Get(ctx, "j-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusDead {
		t.Fatalf("status = %s, want dead", got.Status)
	}
	dead, err := store.ListDead(ctx, CategoryTransfer, 10)
	if err != nil {
		t.Fatalf("ListDead: %v", err)
	}
	if len(dead) != 1 || dead[0].ID != "j-1" {
		t.Fatalf("dead jobs = %+v", dead)
	}
}

func TestDelayedJobNotDue(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, newTestJob("j-1")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.Claim(ctx, "j-1"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	retryAt := time.Now().Add(time.Hour).Unix()
	if err := store.MarkFailed(ctx, "j-1", string(CodeJobProcessing), "nonce too low", retryAt); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	if _, err := store.Claim(ctx, "j-1"); !errors.Is(err, ErrJobNotDue) {
		t.Fatalf("claim before retry window = %v, want ErrJobNotDue", err)
	}
}

func TestMarkFailedTerminalGoesDead(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, newTestJob("j-1")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.Claim(ctx, "j-1"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	// retryAt 为 0 表示不再重试。
	if err := store.MarkFailed(ctx, "j-1", string(CodeJobProcessing), "execution reverted", 0); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	got, err := store.Get(ctx, "j-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusDead {
		t.Fatalf("status = %s, want dead", got.Status)
	}
	if got.LastError != "execution reverted" {
		t.Fatalf("last error = %q", got.LastError)
	}
}

func TestMetricsCountsByStatus(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	waiting := newTestJob("j-1")
	if err := store.Create(ctx, waiting); err != nil {
		t.Fatalf("Create: %v", err)
	}
	done := newTestJob("j-2")
	if err := store.Create(ctx, done); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.Claim(ctx, "j-2"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := store.MarkCompleted(ctx, "j-2"); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	dead := newTestJob("j-3")
	if err := store.Create(ctx, dead); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.Claim(ctx, "j-3"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := store.MarkFailed(ctx, "j-3", string(CodeJobProcessing), "boom", 0); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	other := newTestJob("j-4")
	other.Category = CategorySwap
	if err := store.Create(ctx, other); err != nil {
		t.Fatalf("Create: %v", err)
	}

	metrics, err := store.Metrics(ctx, CategoryTransfer)
	if err != nil {
		t.Fatalf("Metrics: %v", err)
	}
	if metrics.Waiting != 1 || metrics.Completed != 1 || metrics.Dead != 1 {
		t.Fatalf("metrics = %+v", metrics)
	}

	deadJobs, err := store.ListDead(ctx, CategoryTransfer, 10)
	if err != nil {
		t.Fatalf("ListDead: %v", err)
	}
	if len(deadJobs) != 1 || deadJobs[0].ID != "j-3" {
		t.Fatalf("dead jobs = %+v", deadJobs)
	}
}

func TestPruneCompletedKeepsFailures(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, newTestJob("j-1")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.Claim(ctx, "j-1"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := store.MarkCompleted(ctx, "j-1"); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	if err := store.Create(ctx, newTestJob("j-2")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.Claim(ctx, "j-2"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := store.MarkFailed(ctx, "j-2", string(CodeJobProcessing), "boom", 0); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	pruned, err := store.PruneCompleted(ctx, 0)
	if err != nil {
		t.Fatalf("PruneCompleted: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("pruned = %d, want 1", pruned)
	}
	if _, err := store.Get(ctx, "j-1"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("get pruned job = %v, want ErrJobNotFound", err)
	}
	// dead 作业保留更久，清理不碰。
	if _, err := store.Get(ctx, "j-2"); err != nil {
		t.Fatalf("dead job pruned unexpectedly: %v", err)
	}
}

func TestRequeueStaleReclaimsAbandonedClaims(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, newTestJob("j-1")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.Claim(ctx, "j-1"); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	// 崩溃滞留的 active 作业被重置为 waiting，尝试次数保留。
	requeued, err := store.RequeueStale(ctx, 0)
	if err != nil {
		t.Fatalf("RequeueStale: %v", err)
	}
	if requeued != 1 {
		t.Fatalf("requeued = %d, want 1", requeued)
	}
	got, err := store.Get(ctx, "j-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusWaiting || got.Attempts != 1 {
		t.Fatalf("job = %+v, want waiting with attempts preserved", got)
	}
	if _, err := store.Claim(ctx, "j-1"); err != nil {
		t.Fatalf("reclaim: %v", err)
	}
}

func TestListRunnableSkipsFutureDelays(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, newTestJob("j-1")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	delayed := newTestJob("j-2")
	if err := store.Create(ctx, delayed); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.Claim(ctx, "j-2"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := store.MarkFailed(ctx, "j-2", string(CodeJobProcessing), "gas spike", time.Now().Add(time.Hour).Unix()); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	runnable, err := store.ListRunnable(ctx, CategoryTransfer, 0)
	if err != nil {
		t.Fatalf("ListRunnable: %v", err)
	}
	if len(runnable) != 1 || runnable[0].ID != "j-1" {
		t.Fatalf("runnable = %+v", runnable)
	}
}
