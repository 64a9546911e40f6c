package job

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryQueuePublishConsume(t *testing.T) {
	queue := NewMemoryQueue(8)
	defer queue.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	seen := make(map[string]int)
	done := make(chan struct{})

	go func() {
		_ = queue.Consume(ctx, 2, func(_ context.Context, jobID string) error {
			mu.Lock()
			seen[jobID]++
			if len(seen) == 3 {
				close(done)
			}
			mu.Unlock()
			return nil
		})
	}()

	for _, id := range []string{"j-1", "j-2", "j-3"} {
		if err := queue.Publish(ctx, id); err != nil {
			t.Fatalf("Publish(%s): %v", id, err)
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("消费超时")
	}
}

func TestMemoryQueuePublishAfterDelays(t *testing.T) {
	queue := NewMemoryQueue(8)
	defer queue.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan string, 1)
	go func() {
		_ = queue.Consume(ctx, 1, func(_ context.Context, jobID string) error {
			received <- jobID
			return nil
		})
	}()

	start := time.Now()
	if err := queue.PublishAfter(ctx, "j-1", 50*time.Millisecond); err != nil {
		t.Fatalf("PublishAfter: %v", err)
	}

	select {
	case id := <-received:
		if id != "j-1" {
			t.Fatalf("received %s, want j-1", id)
		}
		if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
			t.Fatalf("delivered too early: %v", elapsed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("延迟投递超时")
	}
}

func TestMemoryQueuePublishAfterClosed(t *testing.T) {
	queue := NewMemoryQueue(1)
	_ = queue.Close()
	if err := queue.Publish(context.Background(), "j-1"); err == nil {
		t.Fatal("publish on closed queue should fail")
	}
}
