package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestActorLimiterCapacity(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := NewActorLimiter(client, 2, 1, time.Minute)

	allowed, _, err := limiter.Allow(ctx, "qa-lead")
	if err != nil || !allowed {
		t.Fatalf("expected first token allowed got allowed=%v err=%v", allowed, err)
	}
	allowed, _, _ = limiter.Allow(ctx, "qa-lead")
	if !allowed {
		t.Fatalf("expected second token allowed")
	}
	allowed, _, _ = limiter.Allow(ctx, "qa-lead")
	if allowed {
		t.Fatalf("expected third token to be rejected")
	}

	// Buckets are per actor; a different actor still has capacity.
	allowed, _, _ = limiter.Allow(ctx, "auditor")
	if !allowed {
		t.Fatalf("expected fresh actor to be allowed")
	}
}
