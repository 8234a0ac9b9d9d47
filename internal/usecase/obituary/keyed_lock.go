package obituary

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"obituaries/internal/errs"
)

type keyedEntry struct {
	sem  *semaphore.Weighted
	refs int
}

// keyedMutex serializes work per key and forgets keys nobody holds.
// Waiting for a key gives up when ctx is done.
type keyedMutex struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{entries: make(map[string]*keyedEntry)}
}

// Lock waits until key is free and returns its unlock func.
func (k *keyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	entry, ok := k.entries[key]
	if !ok {
		entry = &keyedEntry{sem: semaphore.NewWeighted(1)}
		k.entries[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	if err := entry.sem.Acquire(ctx, 1); err != nil {
		k.forget(key, entry)
		return nil, errs.Wrapf(err, "wait for %s", key)
	}
	return func() {
		entry.sem.Release(1)
		k.forget(key, entry)
	}, nil
}

func (k *keyedMutex) forget(key string, entry *keyedEntry) {
	k.mu.Lock()
	entry.refs--
	if entry.refs == 0 {
		delete(k.entries, key)
	}
	k.mu.Unlock()
}

// lockAll takes keys in the given order and releases them in reverse.
// Callers keep a fixed order (idempotency key, natural key, obituary id).
// On error nothing stays held.
func (k *keyedMutex) lockAll(ctx context.Context, keys ...string) (func(), error) {
	unlocks := make([]func(), 0, len(keys))
	release := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
	for _, key := range keys {
		if key == "" {
			continue
		}
		unlock, err := k.Lock(ctx, key)
		if err != nil {
			release()
			return nil, err
		}
		unlocks = append(unlocks, unlock)
	}
	return release, nil
}

// exclusiveWeight exceeds any realistic number of concurrent mutations.
const exclusiveWeight = 1 << 30

// writeGate is held shared by every mutation and exclusively by operations
// that need a quiescent store: warm, stats rebuild and check, and catch-up.
type writeGate struct {
	sem *semaphore.Weighted
}

func newWriteGate() *writeGate {
	return &writeGate{sem: semaphore.NewWeighted(exclusiveWeight)}
}

func (g *writeGate) Shared(ctx context.Context) (func(), error) {
	return g.acquire(ctx, 1)
}

func (g *writeGate) Exclusive(ctx context.Context) (func(), error) {
	return g.acquire(ctx, exclusiveWeight)
}

func (g *writeGate) acquire(ctx context.Context, n int64) (func(), error) {
	if err := g.sem.Acquire(ctx, n); err != nil {
		return nil, errs.Wrap(err, "wait for write gate")
	}
	return func() { g.sem.Release(n) }, nil
}

func idempotencyLockKey(key string) string {
	if key == "" {
		return ""
	}
	return "idem:" + key
}

func naturalLockKey(naturalKey string) string {
	return "contract:" + naturalKey
}

func obituaryLockKey(id string) string {
	if id == "" {
		return ""
	}
	return "obituary:" + id
}
