package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// RedisRunLock is a TTL'd lock shared by every process pointing at the same
// Redis. The TTL bounds how long a crashed holder can block later runs.
type RedisRunLock struct {
	client *redis.Client
	ttl    time.Duration
	owner  string

	mu    sync.Mutex
	owned map[string]bool
}

// NewRedisClient connects and pings Redis.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", addr, err)
	}
	return client, nil
}

func NewRedisRunLock(client *redis.Client, ttl time.Duration) *RedisRunLock {
	return &RedisRunLock{
		client: client,
		ttl:    ttl,
		owner:  uuid.NewString(),
		owned:  make(map[string]bool),
	}
}

func lockKey(name string) string { return "jk-analytics:lock:" + name }

func (l *RedisRunLock) Acquire(ctx context.Context, name string) (bool, error) {
	ok, err := l.client.SetNX(ctx, lockKey(name), l.owner, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: acquire %s: %w", name, err)
	}
	if ok {
		l.mu.Lock()
		l.owned[name] = true
		l.mu.Unlock()
	}
	return ok, nil
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Release deletes the lock only if this process still owns it.
func (l *RedisRunLock) Release(ctx context.Context, name string) error {
	l.mu.Lock()
	owned := l.owned[name]
	delete(l.owned, name)
	l.mu.Unlock()
	if !owned {
		return nil
	}

	if err := releaseScript.Run(ctx, l.client, []string{lockKey(name)}, l.owner).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("redis: release %s: %w", name, err)
	}
	return nil
}

// LocalRunLock is the in-process fallback when no Redis is configured.
type LocalRunLock struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewLocalRunLock() *LocalRunLock {
	return &LocalRunLock{held: make(map[string]bool)}
}

func (l *LocalRunLock) Acquire(_ context.Context, name string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[name] {
		return false, nil
	}
	l.held[name] = true
	return true, nil
}

func (l *LocalRunLock) Release(_ context.Context, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, name)
	return nil
}
