package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLimiter_Allow(t *testing.T) {
	limiter := NewLimiter(2.0, 2) // 2 RPS, burst of 2

	if !limiter.Allow("test.com") {
		t.Error("first request should be allowed")
	}
	if !limiter.Allow("test.com") {
		t.Error("second request should be allowed")
	}
	if limiter.Allow("test.com") {
		t.Error("third request should be blocked")
	}
}

func TestLimiter_MultipleHosts(t *testing.T) {
	limiter := NewLimiter(1.0, 1)

	if !limiter.Allow("host1.com") {
		t.Error("first request to host1 should be allowed")
	}
	if !limiter.Allow("host2.com") {
		t.Error("first request to host2 should be allowed")
	}
	if limiter.Allow("host1.com") {
		t.Error("second request to host1 should be blocked")
	}
	if limiter.Allow("host2.com") {
		t.Error("second request to host2 should be blocked")
	}
}

func TestLimiter_Wait(t *testing.T) {
	limiter := NewLimiter(10.0, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	start := time.Now()
	if err := limiter.Wait(ctx, "test.com"); err != nil {
		t.Errorf("first wait should not error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 20*time.Millisecond {
		t.Errorf("first request should be immediate, took %v", elapsed)
	}

	start = time.Now()
	if err := limiter.Wait(ctx, "test.com"); err != nil {
		t.Errorf("second wait should not error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("second request should wait ~100ms, took %v", elapsed)
	}
}

func TestLimiter_WaitTimeout(t *testing.T) {
	limiter := NewLimiter(0.1, 1)
	limiter.Allow("test.com")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := limiter.Wait(ctx, "test.com"); err == nil {
		t.Error("wait should time out with a short context")
	}
}

func TestLimiter_Stats(t *testing.T) {
	limiter := NewLimiter(5.0, 10)
	host := "stats-test.com"
	limiter.Allow(host)
	limiter.Allow(host)

	stats := limiter.Stats()
	hostStats, exists := stats[host]
	if !exists {
		t.Fatal("stats should include the host")
	}
	if hostStats.RPS != 5.0 {
		t.Errorf("RPS should be 5.0, got %f", hostStats.RPS)
	}
	if hostStats.Burst != 10 {
		t.Errorf("burst should be 10, got %d", hostStats.Burst)
	}
	if hostStats.TokensAvailable >= 10 {
		t.Errorf("tokens available should be < 10 after usage, got %f", hostStats.TokensAvailable)
	}
}

func TestManager_Wait(t *testing.T) {
	manager := NewManager()

	if err := manager.Wait(context.Background(), "unknown-provider", "test.com"); err != nil {
		t.Errorf("unconfigured provider should never block: %v", err)
	}

	manager.AddProvider("test-provider", 1000.0, 1)
	if err := manager.Wait(context.Background(), "test-provider", "test.com"); err != nil {
		t.Errorf("first wait should not error: %v", err)
	}
}

func TestManager_Stats(t *testing.T) {
	manager := NewManager()
	manager.AddProvider("provider1", 5.0, 10)
	manager.AddProvider("provider2", 3.0, 5)

	manager.Wait(context.Background(), "provider1", "test1.com")
	manager.Wait(context.Background(), "provider2", "test2.com")

	allStats := manager.Stats()
	if len(allStats) != 2 {
		t.Errorf("should have stats for 2 providers, got %d", len(allStats))
	}
	if len(allStats["provider1"]) == 0 {
		t.Error("provider1 should have host stats")
	}
}
