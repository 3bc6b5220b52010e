package modelstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-redis/redis/v8"
)

// DefaultRedisPrefix namespaces model keys in Redis.
const DefaultRedisPrefix = "switchwatch:model:"

// RedisConfig configures the Redis model store.
type RedisConfig struct {
	Addr     string
	Password string
	Prefix   string
	DB       int
}

// RedisStore keeps each model as a JSON string value plus a set indexing all
// model keys.
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger
	prefix string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig, logger *slog.Logger) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address cannot be empty")
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisStoreWithClient(client, cfg.Prefix, logger)
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, prefix string, logger *slog.Logger) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, logger: logger, prefix: prefix}, nil
}

func (s *RedisStore) indexKey() string {
	return s.prefix + "index"
}

func (s *RedisStore) entryKey(k Key) string {
	return s.prefix + k.String()
}

// Save writes the entry and indexes its key in one transaction.
func (s *RedisStore) Save(ctx context.Context, e Entry) error {
	data, err := encode(e)
	if err != nil {
		return err
	}
	key := s.entryKey(e.Key)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, 0)
		pipe.SAdd(ctx, s.indexKey(), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save model %s in redis: %w", e.Key, err)
	}
	return nil
}

// LoadAll reads every indexed model. Index entries whose value is gone are
// removed from the index.
func (s *RedisStore) LoadAll(ctx context.Context) ([]Entry, error) {
	keys, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list models in redis: %w", err)
	}
	out := make([]Entry, 0, len(keys))
	for _, key := range keys {
		data, err := s.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			s.client.SRem(ctx, s.indexKey(), key)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read model %s from redis: %w", key, err)
		}
		e, err := decode(data)
		if err != nil {
			s.logger.Warn("skipping unreadable model", "key", key, "error", err)
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ ModelStore = (*RedisStore)(nil)
