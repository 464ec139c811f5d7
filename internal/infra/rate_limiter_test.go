package infra

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiter_TryAcquire(t *testing.T) {
	// Create limiter with 2 tokens, 10/second refill
	rl := NewRateLimiter(2, 10)

	// Should acquire first two tokens immediately
	if !rl.TryAcquire() {
		t.Error("expected first TryAcquire to succeed")
	}
	if !rl.TryAcquire() {
		t.Error("expected second TryAcquire to succeed")
	}

	// Third should fail (no tokens left)
	if rl.TryAcquire() {
		t.Error("expected third TryAcquire to fail")
	}
}

func TestRateLimiter_Refill(t *testing.T) {
	// Create limiter with 1 token, 10/second refill
	rl := NewRateLimiter(1, 10)

	// Exhaust the token
	if !rl.TryAcquire() {
		t.Error("expected first TryAcquire to succeed")
	}

	// Should fail immediately
	if rl.TryAcquire() {
		t.Error("expected immediate TryAcquire to fail")
	}

	// Wait for refill (100ms = 1 token at 10/s)
	time.Sleep(120 * time.Millisecond)

	// Should succeed after refill
	if !rl.TryAcquire() {
		t.Error("expected TryAcquire to succeed after refill")
	}
}

func TestRateLimiter_Wait(t *testing.T) {
	// Create limiter with 1 token, 100/second refill (fast for testing)
	rl := NewRateLimiter(1, 100)
	ctx := context.Background()

	// Exhaust the token
	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	// Second Wait should block ~10ms (1/100 second)
	start := time.Now()
	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	elapsed := time.Since(start)

	// Should have waited at least 5ms (allowing some tolerance)
	if elapsed < 5*time.Millisecond {
		t.Errorf("expected Wait to block, but elapsed=%v", elapsed)
	}
}

func TestRateLimiter_WaitCancelled(t *testing.T) {
	// 1 token, very slow refill: the second Wait cannot succeed in time.
	rl := NewRateLimiter(1, 0.01)
	rl.TryAcquire()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := rl.Wait(ctx); err == nil {
		t.Error("expected Wait to return the context error when cancelled")
	}
}

func TestVenueLimiters_WindowCompliance(t *testing.T) {
	// Every rolling one-second window must see at most burst + refill
	// requests: 50 for trading, 5 for data.
	trade := NewTradeLimiter()
	granted := 0
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if trade.TryAcquire() {
			granted++
		}
	}
	if granted > 50 {
		t.Errorf("trade limiter granted %d requests in 1s, limit is 50", granted)
	}

	data := NewDataLimiter()
	granted = 0
	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if data.TryAcquire() {
			granted++
		}
	}
	if granted > 5 {
		t.Errorf("data limiter granted %d requests in 1s, limit is 5", granted)
	}
}
