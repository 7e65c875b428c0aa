// Package cache stores short-lived login challenges.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned when a key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Challenges holds one pending value per key. Take is single use.
type Challenges interface {
	Put(ctx context.Context, key, value string, ttl time.Duration) error
	Take(ctx context.Context, key string) (string, error)
}

// Redis keeps challenges in Redis under a key prefix.
type Redis struct {
	client *redis.Client
	prefix string
}

var _ Challenges = (*Redis)(nil)

// NewRedis connects to addr and checks the connection.
func NewRedis(ctx context.Context, addr, prefix string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to reach redis at %s: %w", addr, err)
	}
	return &Redis{client: client, prefix: prefix}, nil
}

func (r *Redis) key(k string) string {
	return r.prefix + ":challenge:" + k
}

func (r *Redis) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store challenge: %w", err)
	}
	return nil
}

func (r *Redis) Take(ctx context.Context, key string) (string, error) {
	v, err := r.client.GetDel(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	if err != nil {
		return "", fmt.Errorf("failed to load challenge: %w", err)
	}
	return v, nil
}

// Close releases the client.
func (r *Redis) Close() error {
	return r.client.Close()
}

type entry struct {
	value   string
	expires time.Time
}

// Memory is an in-process Challenges for single-node deployments and tests.
type Memory struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

var _ Challenges = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]entry), now: time.Now}
}

func (m *Memory) Put(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for k, e := range m.entries {
		if !now.Before(e.expires) {
			delete(m.entries, k)
		}
	}
	m.entries[key] = entry{value: value, expires: now.Add(ttl)}
	return nil
}

func (m *Memory) Take(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	delete(m.entries, key)
	if !ok || !m.now().Before(e.expires) {
		return "", ErrMiss
	}
	return e.value, nil
}
