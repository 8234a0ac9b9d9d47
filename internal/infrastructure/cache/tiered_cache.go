package cache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"obituaries/internal/errs"
	"obituaries/internal/ports"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// TieredCache keeps hot entries in an in-process LRU in front of a shared
// backend. Reads that miss the LRU fill it from the backend.
type TieredCache struct {
	local   *lru.Cache
	backend ports.Cache
	maxTTL  time.Duration
	now     func() time.Time
}

var _ ports.Cache = (*TieredCache)(nil)

// NewTieredCache bounds local entries to size and their lifetime to maxTTL
// (zero means the backend ttl is used as is).
func NewTieredCache(backend ports.Cache, size int, maxTTL time.Duration) (*TieredCache, error) {
	if backend == nil {
		return nil, errs.New(errs.CodeValidation, "tiered cache backend is required")
	}
	if size <= 0 {
		size = 1024
	}
	local, err := lru.New(size)
	if err != nil {
		return nil, errs.Wrap(err, "create lru")
	}
	return &TieredCache{local: local, backend: backend, maxTTL: maxTTL, now: time.Now}, nil
}

func (c *TieredCache) Get(ctx context.Context, key string) (string, bool, error) {
	trimmedKey, err := checkKey(ctx, key)
	if err != nil {
		return "", false, err
	}

	if raw, ok := c.local.Get(trimmedKey); ok {
		entry := raw.(memoryEntry)
		if entry.expiresAt.IsZero() || c.now().Before(entry.expiresAt) {
			return entry.value, true, nil
		}
		c.local.Remove(trimmedKey)
	}

	value, found, err := c.backend.Get(ctx, trimmedKey)
	if err != nil || !found {
		return "", false, err
	}
	c.remember(trimmedKey, value, c.maxTTL)
	return value, true, nil
}

func (c *TieredCache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	trimmedKey, err := checkKey(ctx, key)
	if err != nil {
		return err
	}
	if err := c.backend.Set(ctx, trimmedKey, value, ttl); err != nil {
		return err
	}

	localTTL := ttl
	if c.maxTTL > 0 && (localTTL <= 0 || localTTL > c.maxTTL) {
		localTTL = c.maxTTL
	}
	c.remember(trimmedKey, value, localTTL)
	return nil
}

func (c *TieredCache) Delete(ctx context.Context, key string) error {
	trimmedKey, err := checkKey(ctx, key)
	if err != nil {
		return err
	}
	c.local.Remove(trimmedKey)
	return c.backend.Delete(ctx, trimmedKey)
}

func (c *TieredCache) remember(key string, value string, ttl time.Duration) {
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = c.now().Add(ttl)
	}
	c.local.Add(key, entry)
}
