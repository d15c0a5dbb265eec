package cache

import (
	"context"
	"testing"
	"time"

	"github.com/sawpanic/marketfeed/internal/domain"
)

func TestMemoryCache_GetSetDelete(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	if _, ok, err := c.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected a miss for an unset key, got ok=%v err=%v", ok, err)
	}

	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, ok, err := c.Get(ctx, "k")
	if err != nil || !ok || string(v) != "v" {
		t.Fatalf("get after set = %q, ok=%v, err=%v", v, ok, err)
	}

	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatal("expected a miss after delete")
	}
}

func TestMemoryCache_TTLExpiry(t *testing.T) {
	c := NewMemoryCache()
	fixed := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fixed }

	ctx := context.Background()
	if err := c.Set(ctx, "k", []byte("v"), time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}

	c.now = func() time.Time { return fixed.Add(2 * time.Second) }
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatal("expected the entry to have expired")
	}
}

func TestMemoryCache_GetMulti(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	c.Set(ctx, "a", []byte("1"), time.Minute)
	c.Set(ctx, "b", []byte("2"), time.Minute)

	out, err := c.GetMulti(ctx, []string{"a", "b", "missing"})
	if err != nil {
		t.Fatalf("getmulti: %v", err)
	}
	if len(out) != 2 || string(out["a"]) != "1" || string(out["b"]) != "2" {
		t.Fatalf("unexpected GetMulti result: %+v", out)
	}
}

func TestMemoryCache_Incr(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	n, err := c.Incr(ctx, "counter", time.Minute)
	if err != nil || n != 1 {
		t.Fatalf("first incr = %d, %v, want 1, nil", n, err)
	}
	n, err = c.Incr(ctx, "counter", time.Minute)
	if err != nil || n != 2 {
		t.Fatalf("second incr = %d, %v, want 2, nil", n, err)
	}
}

func TestMemoryCache_PublishSubscribe(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	ch, cancel, err := c.Subscribe(ctx, "topic")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	if err := c.Publish(ctx, "topic", []byte("hello")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-ch:
		if string(msg) != "hello" {
			t.Errorf("received %q, want hello", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published message")
	}
}

func TestGetSetQuote(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	q := domain.Quote{Symbol: "AAPL", Price: 150.5, Provider: "iex"}
	if err := SetQuote(ctx, c, q, time.Minute); err != nil {
		t.Fatalf("set quote: %v", err)
	}

	got, ok, err := GetQuote(ctx, c, "AAPL")
	if err != nil || !ok {
		t.Fatalf("get quote: ok=%v err=%v", ok, err)
	}
	if got.Symbol != "AAPL" || got.Price != 150.5 {
		t.Errorf("unexpected quote: %+v", got)
	}
}

func TestGetQuotesBatch(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	SetQuote(ctx, c, domain.Quote{Symbol: "AAPL", Price: 1}, time.Minute)
	SetQuote(ctx, c, domain.Quote{Symbol: "MSFT", Price: 2}, time.Minute)

	out, err := GetQuotes(ctx, c, []string{"AAPL", "MSFT", "GOOG"})
	if err != nil {
		t.Fatalf("get quotes: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 quotes found, got %d: %+v", len(out), out)
	}
}

func TestIncrRolloverCounter(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	at := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)

	n1, err := IncrRolloverCounter(ctx, c, "alpha", at)
	if err != nil {
		t.Fatalf("incr rollover: %v", err)
	}
	n2, err := IncrRolloverCounter(ctx, c, "alpha", at)
	if err != nil {
		t.Fatalf("incr rollover: %v", err)
	}
	if n2 != n1+1 {
		t.Errorf("expected the second rollover incr to be %d, got %d", n1+1, n2)
	}
}
