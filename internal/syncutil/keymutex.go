package syncutil

import (
	"context"
	"hash/fnv"
	"sync"
)

// KeyMutex is a fixed pool of channel-based mutexes keyed by string. It
// serializes work on the same key (two keys may share a shard, which only
// costs extra waiting, never lost exclusion) and supports bailing out on
// context cancellation while waiting.
type KeyMutex struct {
	shards [256]chanMutex
	once   sync.Once
}

type chanMutex struct {
	ch chan struct{}
}

func NewKeyMutex() *KeyMutex {
	m := &KeyMutex{}
	m.init()
	return m
}

func (m *KeyMutex) init() {
	m.once.Do(func() {
		for i := range m.shards {
			m.shards[i].ch = make(chan struct{}, 1)
			m.shards[i].ch <- struct{}{} // start unlocked
		}
	})
}

// Lock acquires the mutex for key. On success it returns an unlock function
// that the caller must invoke. On context cancellation it returns the
// context error and no unlock function.
func (m *KeyMutex) Lock(ctx context.Context, key string) (func(), error) {
	m.init()
	shard := &m.shards[m.shardIdx(key)]

	select {
	case <-shard.ch:
		return func() { shard.ch <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *KeyMutex) shardIdx(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % 256
}
