package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis"
	"github.com/google/uuid"
)

// unlockScript deletes the key only if it still holds our token, so a lock
// that expired and was re-acquired elsewhere is never released by us.
const unlockScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`

// RedisConfig controls the distributed lock.
type RedisConfig struct {
	Prefix string        // Key namespace (default "taskyield:lock:")
	TTL    time.Duration // Lease length; must exceed one user's evaluation
	Retry  time.Duration // Poll interval while the key is held elsewhere
}

// DefaultRedisConfig returns safe lock defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Prefix: "taskyield:lock:",
		TTL:    30 * time.Second,
		Retry:  50 * time.Millisecond,
	}
}

// Redis is a SET NX lease lock shared by every process on one Redis.
type Redis struct {
	client *redis.Client
	cfg    RedisConfig
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, cfg RedisConfig) *Redis {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultRedisConfig().Prefix
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultRedisConfig().TTL
	}
	if cfg.Retry <= 0 {
		cfg.Retry = DefaultRedisConfig().Retry
	}
	return &Redis{client: client, cfg: cfg}
}

// Dial connects to addr and verifies the server answers.
func Dial(addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping().Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis %s: %w", addr, err)
	}
	return client, nil
}

// Lock polls SET NX until it wins the key or ctx is done.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	k := r.cfg.Prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(r.cfg.Retry)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(k, token, r.cfg.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// On error the lease simply expires after TTL.
			r.client.Eval(unlockScript, []string{k}, token)
		})
	}, nil
}
