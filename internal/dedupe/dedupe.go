// Package dedupe backs the automation sweeps with Redis: once-per-day
// warning keys and per-sweep checkpoints so a long batch can resume where
// it left off.
package dedupe

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper tracks one-shot keys and sweep checkpoints in Redis.
type Deduper struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// New builds a Deduper. ttl bounds how long a one-shot key suppresses
// repeats; warning keys carry the day in the key itself, so the TTL only
// has to outlive the day.
func New(client *redis.Client, prefix string, ttl time.Duration) *Deduper {
	if prefix == "" {
		prefix = "workflow"
	}
	if ttl == 0 {
		ttl = 48 * time.Hour
	}
	return &Deduper{client: client, prefix: prefix, ttl: ttl}
}

// Once claims a key. It returns true exactly once per key per TTL window;
// concurrent sweeps racing on the same key see one winner.
func (d *Deduper) Once(ctx context.Context, key string) (bool, error) {
	ok, err := d.client.SetNX(ctx, d.prefix+":once:"+key, 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe setnx: %w", err)
	}
	return ok, nil
}

// Release gives a claimed key back, so the action it guards can be retried
// when the work behind the claim did not land.
func (d *Deduper) Release(ctx context.Context, key string) error {
	if err := d.client.Del(ctx, d.prefix+":once:"+key).Err(); err != nil {
		return fmt.Errorf("dedupe release: %w", err)
	}
	return nil
}

// WarningKey builds the dedupe key for a deadline warning: one per record
// per calendar day.
func WarningKey(recordID string, day time.Time) string {
	return fmt.Sprintf("warn:%s:%s", recordID, day.UTC().Format("2006-01-02"))
}

// SetCheckpoint records the last id a sweep processed.
func (d *Deduper) SetCheckpoint(ctx context.Context, sweep, lastID string) error {
	if err := d.client.Set(ctx, d.checkpointKey(sweep), lastID, d.ttl).Err(); err != nil {
		return fmt.Errorf("set checkpoint: %w", err)
	}
	return nil
}

// Checkpoint returns the last id a sweep processed, or "" when the sweep
// starts from the beginning.
func (d *Deduper) Checkpoint(ctx context.Context, sweep string) (string, error) {
	v, err := d.client.Get(ctx, d.checkpointKey(sweep)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get checkpoint: %w", err)
	}
	return v, nil
}

// ClearCheckpoint removes a sweep's checkpoint after a complete pass.
func (d *Deduper) ClearCheckpoint(ctx context.Context, sweep string) error {
	if err := d.client.Del(ctx, d.checkpointKey(sweep)).Err(); err != nil {
		return fmt.Errorf("clear checkpoint: %w", err)
	}
	return nil
}

func (d *Deduper) checkpointKey(sweep string) string {
	return d.prefix + ":checkpoint:" + sweep
}
