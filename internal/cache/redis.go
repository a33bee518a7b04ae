package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps catalog snapshots in Redis under
// "<prefix>:<scope>:<key>". Expiry is delegated to Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
	scope  string
	ttl    time.Duration
}

// DialRedis connects and pings. The caller owns the returned client.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", addr, err)
	}
	return c, nil
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, prefix, baseURL, tenantID string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "convo"
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, prefix: prefix, scope: Scope(baseURL, tenantID), ttl: ttl}
}

func (s *RedisStore) key(key string) string {
	return s.prefix + ":" + s.scope + ":" + sanitizeKey(key)
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string, dst any) bool {
	if disabled() {
		return false
	}
	raw, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		return false
	}
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return false
	}
	return json.Unmarshal(e.Items, dst) == nil
}

// Put implements Store.
func (s *RedisStore) Put(ctx context.Context, key string, value any) {
	if disabled() {
		return
	}
	data, err := encode(value)
	if err != nil {
		return
	}
	_ = s.client.Set(ctx, s.key(key), data, s.ttl).Err()
}

// Clear implements Store.
func (s *RedisStore) Clear(ctx context.Context, key string) {
	_ = s.client.Del(ctx, s.key(key)).Err()
}

// ClearScope removes every key of this store's tenant scope.
func (s *RedisStore) ClearScope(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, s.prefix+":"+s.scope+":*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}
