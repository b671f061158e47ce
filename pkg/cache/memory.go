package cache

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const numShards = 16

// Memory is a sharded in-process cache with per-entry TTL. It honours the
// same contract as the redis backend and is used in simulation mode and in
// tests.
type Memory struct {
	shards [numShards]*shard

	mu   sync.RWMutex
	subs map[string][]chan string
	now  func() time.Time
}

type shard struct {
	mu    sync.RWMutex
	items map[string]entry
}

type entry struct {
	value     string
	expiresAt time.Time
}

// NewMemory creates an empty in-memory cache.
func NewMemory() *Memory {
	m := &Memory{
		subs: make(map[string][]chan string),
		now:  time.Now,
	}
	for i := range m.shards {
		m.shards[i] = &shard{items: make(map[string]entry)}
	}
	return m
}

func (m *Memory) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return m.shards[h.Sum32()%numShards]
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	s := m.shardFor(key)
	s.mu.RLock()
	e, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return "", ErrMiss
	}
	if !e.expiresAt.IsZero() && m.now().After(e.expiresAt) {
		s.mu.Lock()
		delete(s.items, key)
		s.mu.Unlock()
		return "", ErrMiss
	}
	return e.value, nil
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	var exp time.Time
	if ttl > 0 {
		exp = m.now().Add(ttl)
	}
	s := m.shardFor(key)
	s.mu.Lock()
	s.items[key] = entry{value: value, expiresAt: exp}
	s.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	s := m.shardFor(key)
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
	return nil
}

// Publish fans the payload out to channel subscribers, dropping when a
// subscriber buffer is full.
func (m *Memory) Publish(_ context.Context, channel, payload string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ch := range m.subs[channel] {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

// SubscribeChannel registers a buffered listener for a pub/sub channel.
// Only the in-memory backend exposes this; tests use it to observe fan-out.
func (m *Memory) SubscribeChannel(channel string, buffer int) <-chan string {
	ch := make(chan string, buffer)
	m.mu.Lock()
	m.subs[channel] = append(m.subs[channel], ch)
	m.mu.Unlock()
	return ch
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

// SetClock overrides the time source, for TTL tests.
func (m *Memory) SetClock(now func() time.Time) { m.now = now }
