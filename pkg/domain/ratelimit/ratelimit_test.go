package ratelimit_test

import (
	"testing"
	"time"

	"github.com/anvilworks/anvil/pkg/domain/ratelimit"
)

// fakeClock is a settable time source.
type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func TestLimiter(t *testing.T) {
	t.Run("it serves up to capacity and then rejects", func(t *testing.T) {
		clock := newFakeClock()
		limiter := ratelimit.NewAPIKeyLimiter(3, ratelimit.WithClock(clock.Now))

		for i := 0; i < 3; i++ {
			if !limiter.TryConsume("key-a") {
				t.Fatalf("consume #%d rejected within capacity", i+1)
			}
		}
		if limiter.TryConsume("key-a") {
			t.Error("consume beyond capacity allowed")
		}
	})

	t.Run("it refills the full capacity once per period, not earlier", func(t *testing.T) {
		clock := newFakeClock()
		limiter := ratelimit.NewAPIKeyLimiter(2, ratelimit.WithClock(clock.Now))

		limiter.TryConsume("key-a")
		limiter.TryConsume("key-a")

		clock.Advance(59 * time.Second)
		if limiter.TryConsume("key-a") {
			t.Error("consume allowed before the refill period elapsed")
		}

		clock.Advance(1 * time.Second)
		for i := 0; i < 2; i++ {
			if !limiter.TryConsume("key-a") {
				t.Fatalf("consume #%d rejected right after refill", i+1)
			}
		}
		if limiter.TryConsume("key-a") {
			t.Error("refill granted more than capacity")
		}
	})

	t.Run("it refills node buckets every 10 seconds", func(t *testing.T) {
		clock := newFakeClock()
		limiter := ratelimit.NewNodeLimiter(1, ratelimit.WithClock(clock.Now))

		if !limiter.TryConsume("0000000042") {
			t.Fatal("first consume rejected")
		}
		if limiter.TryConsume("0000000042") {
			t.Error("consume beyond capacity allowed")
		}
		clock.Advance(10 * time.Second)
		if !limiter.TryConsume("0000000042") {
			t.Error("consume rejected after the refill period")
		}
	})

	t.Run("it keeps identities independent", func(t *testing.T) {
		clock := newFakeClock()
		limiter := ratelimit.NewAPIKeyLimiter(1, ratelimit.WithClock(clock.Now))

		if !limiter.TryConsume("key-a") {
			t.Fatal("first consume of key-a rejected")
		}
		if !limiter.TryConsume("key-b") {
			t.Error("key-b was throttled by key-a's consumption")
		}
	})

	t.Run("a rejection consumes nothing", func(t *testing.T) {
		clock := newFakeClock()
		limiter := ratelimit.NewAPIKeyLimiter(1, ratelimit.WithClock(clock.Now))

		limiter.TryConsume("key-a")
		for i := 0; i < 5; i++ {
			limiter.TryConsume("key-a")
		}
		clock.Advance(60 * time.Second)
		if !limiter.TryConsume("key-a") {
			t.Error("rejected consumes ate into the refilled bucket")
		}
	})
}

func TestService(t *testing.T) {
	t.Run("it routes identities to their own family", func(t *testing.T) {
		clock := newFakeClock()
		service := ratelimit.NewService(1, 1, ratelimit.WithClock(clock.Now))

		if !service.Check(ratelimit.APIKey, "same-value") {
			t.Fatal("api-key check rejected")
		}
		if !service.Check(ratelimit.ShortNodeId, "same-value") {
			t.Error("node check shares a bucket with the api-key family")
		}
	})

	t.Run("it rejects unknown identity kinds", func(t *testing.T) {
		service := ratelimit.NewService(1, 1)
		if service.Check(ratelimit.IdentityKind("session"), "x") {
			t.Error("unknown kind allowed")
		}
	})
}
