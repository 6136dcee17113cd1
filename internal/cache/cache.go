package cache

import (
	"context"
	"time"
)

// Cache stores serialized resolve results keyed by normalized moniker.
// Values are opaque bytes so backends stay oblivious to the payload shape.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Delete(ctx context.Context, key string)
	// DeletePrefix removes every key beginning with prefix. Used to purge a
	// catalog subtree after a status change.
	DeletePrefix(ctx context.Context, prefix string) int
	// Purge removes everything. Used after a catalog reload.
	Purge(ctx context.Context)
	Len(ctx context.Context) int
}
