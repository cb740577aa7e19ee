package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultKeyPrefix namespaces every key written to Redis
const DefaultKeyPrefix = "consolesso:"

// DefaultTagTTL bounds how long a tag set outlives its members
const DefaultTagTTL = 24 * time.Hour

// RedisConfig configures the Redis-backed store
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	KeyPrefix  string
	TagTTL     time.Duration
}

// Redis is a Store shared across instances. Tag membership is kept in Redis
// sets so invalidation reaches entries written by other processes.
type Redis struct {
	client *redis.Client
	prefix string
	tagTTL time.Duration
}

// NewRedisClient dials Redis and verifies connectivity
func NewRedisClient(cfg RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB > 0 {
		opts.DB = cfg.DB
	}
	if cfg.MaxRetries > 0 {
		opts.MaxRetries = cfg.MaxRetries
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

// NewRedis wraps an existing client
func NewRedis(client *redis.Client, cfg RedisConfig) *Redis {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	tagTTL := cfg.TagTTL
	if tagTTL <= 0 {
		tagTTL = DefaultTagTTL
	}
	return &Redis{client: client, prefix: prefix, tagTTL: tagTTL}
}

func (r *Redis) entryKey(key Key) string {
	return r.prefix + key.String()
}

func (r *Redis) tagKey(tag string) string {
	return r.prefix + "tag:" + tag
}

func (r *Redis) Get(ctx context.Context, key Key, dest interface{}) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, err
	}
	k := r.entryKey(key)

	data, err := r.client.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("redis get failed: %w", err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		// Drop corrupt data so the next read repopulates it
		r.client.Del(ctx, k)
		return false, fmt.Errorf("failed to decode cache entry: %w", err)
	}
	return true, nil
}

func (r *Redis) Set(ctx context.Context, key Key, value interface{}, ttl time.Duration, tags ...string) error {
	if err := key.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}
	k := r.entryKey(key)

	tagTTL := r.tagTTL
	if ttl > tagTTL {
		tagTTL = ttl
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, k, data, ttl)
		for _, tag := range tags {
			tk := r.tagKey(tag)
			pipe.SAdd(ctx, tk, k)
			pipe.Expire(ctx, tk, tagTTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *Redis) Forget(ctx context.Context, key Key) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if err := r.client.Del(ctx, r.entryKey(key)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

func (r *Redis) InvalidateTags(ctx context.Context, tags ...string) error {
	for _, tag := range tags {
		tk := r.tagKey(tag)
		members, err := r.client.SMembers(ctx, tk).Result()
		if err != nil {
			return fmt.Errorf("redis smembers failed for tag %s: %w", tag, err)
		}
		keys := append(members, tk)
		if err := r.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("redis del failed for tag %s: %w", tag, err)
		}
	}
	return nil
}
