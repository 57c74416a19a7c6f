package agent

import (
	"testing"
	"time"
)

func fixedLimiter(burst int, perMinute float64) (*RateLimiter, *time.Time) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(burst, perMinute)
	rl.now = func() time.Time { return now }
	return rl, &now
}

func TestRateLimiter_ImmediateBurst(t *testing.T) {
	rl, _ := fixedLimiter(5, 60)
	for i := 0; i < 5; i++ {
		if ok, _ := rl.Allow("U1"); !ok {
			t.Fatalf("burst token %d refused", i)
		}
	}
	if ok, _ := rl.Allow("U1"); ok {
		t.Fatal("sixth message must be refused")
	}
}

func TestRateLimiter_RetryAfterAndRefill(t *testing.T) {
	rl, now := fixedLimiter(1, 60) // one token per second

	if ok, _ := rl.Allow("U1"); !ok {
		t.Fatal("first message refused")
	}
	ok, retry := rl.Allow("U1")
	if ok {
		t.Fatal("second message must be refused")
	}
	if retry != time.Second {
		t.Fatalf("retry after = %v, want 1s", retry)
	}

	*now = now.Add(time.Second)
	if ok, _ := rl.Allow("U1"); !ok {
		t.Fatal("bucket must refill")
	}
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	rl, _ := fixedLimiter(1, 1)
	rl.Allow("U1")
	if ok, _ := rl.Allow("U1"); ok {
		t.Fatal("U1 must be throttled")
	}
	if ok, _ := rl.Allow("U2"); !ok {
		t.Fatal("another user must not be throttled")
	}
}

func TestRateLimiter_Prune(t *testing.T) {
	rl, now := fixedLimiter(2, 60)

	rl.Allow("U1")
	rl.Prune()
	if rl.size() != 1 {
		t.Fatal("partially drained bucket must be kept")
	}

	*now = now.Add(2 * time.Second)
	rl.Prune()
	if rl.size() != 0 {
		t.Fatal("refilled bucket must be pruned")
	}
}
