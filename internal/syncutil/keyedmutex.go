// Package syncutil holds small concurrency helpers.
package syncutil

import (
	"context"
	"hash/fnv"
)

const shardCount = 256

// KeyedMutex serializes work per string key using a fixed pool of
// channel-backed locks. Memory stays bounded no matter how many keys are
// seen; unrelated keys occasionally share a shard.
type KeyedMutex struct {
	shards [shardCount]chan struct{}
}

// NewKeyedMutex returns a KeyedMutex with every shard unlocked.
func NewKeyedMutex() *KeyedMutex {
	m := &KeyedMutex{}
	for i := range m.shards {
		m.shards[i] = make(chan struct{}, 1)
	}
	return m
}

// Lock blocks until key's shard is free or ctx is done. On success the
// returned func releases the lock and must be called exactly once.
func (m *KeyedMutex) Lock(ctx context.Context, key string) (unlock func(), err error) {
	shard := m.shards[shardOf(key)]
	select {
	case shard <- struct{}{}:
		return func() { <-shard }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func shardOf(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % shardCount
}
