package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
)

// DefaultMaxCost bounds the in-process cache at 64 MiB of values.
const DefaultMaxCost = 64 << 20

// Memory is an in-process cache backed by ristretto.
type Memory struct {
	c *ristretto.Cache
}

// NewMemory creates an in-process cache holding at most maxCost bytes.
func NewMemory(maxCost int64) (*Memory, error) {
	if maxCost <= 0 {
		maxCost = DefaultMaxCost
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 100_000,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create ristretto cache: %w", err)
	}
	return &Memory{c: c}, nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := m.c.Get(key)
	if !ok {
		return nil, ErrMiss
	}
	data, ok := v.([]byte)
	if !ok {
		return nil, ErrMiss
	}
	return data, nil
}

// Set stores value and waits for the write buffer to drain, so a Get
// issued right after Set observes the value.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	buf := make([]byte, len(value))
	copy(buf, value)
	if !m.c.SetWithTTL(key, buf, int64(len(buf))+1, ttl) {
		return fmt.Errorf("cache set %s: rejected", key)
	}
	m.c.Wait()
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.c.Del(key)
	return nil
}

// Clear drops every entry.
func (m *Memory) Clear() {
	m.c.Clear()
}

// Close stops the cache's background goroutines.
func (m *Memory) Close() {
	m.c.Close()
}
