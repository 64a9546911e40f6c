package job

import (
	"testing"
	"time"
)

func TestBackoffDelayGrowsExponentially(t *testing.T) {
	b := Backoff{Base: 2 * time.Second, Max: time.Minute}

	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 2 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{10, time.Minute},
	}
	for _, tc := range cases {
		if got := b.Delay(tc.attempts); got != tc.want {
			t.Errorf("Delay(%d) = %v, want %v", tc.attempts, got, tc.want)
		}
	}
}

func TestBackoffZeroValueUsesDefaults(t *testing.T) {
	var b Backoff
	if got := b.Delay(1); got != 2*time.Second {
		t.Fatalf("Delay(1) = %v, want 2s", got)
	}
	if got := b.Delay(100); got != time.Minute {
		t.Fatalf("Delay(100) = %v, want 1m", got)
	}
}
