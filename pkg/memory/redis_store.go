package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/conductor-ai/conductor/pkg/fault"
)

// RedisStore implements Store using Redis. It provides distributed memory
// suitable for multi-node deployments.
type RedisStore struct {
	client *redis.Client
	prefix string
	mu     sync.RWMutex
	closed bool
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string
	// Password is the Redis password (optional).
	Password string
	// DB is the Redis database number.
	DB int
	// Prefix is the key prefix for all memory keys (default "conductor:").
	Prefix string
	// PoolSize is the connection pool size (default 10).
	PoolSize int
}

// NewRedisStore creates a new Redis store and verifies connectivity.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "conductor:"
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: poolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisStore{client: client, prefix: prefix}, nil
}

// NewRedisStoreFromClient creates a Redis store from an existing client.
// This is useful for testing with miniredis.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "conductor:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(key string) string {
	return s.prefix + key
}

func (s *RedisStore) guard() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Get retrieves the value for a key.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("%w: get %s: %v", fault.ErrUnavailable, key, err)
	}
	return data, nil
}

// Put stores a value under a key.
func (s *RedisStore) Put(ctx context.Context, key string, value []byte) error {
	if err := s.guard(); err != nil {
		return err
	}

	if err := s.client.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("%w: put %s: %v", fault.ErrUnavailable, key, err)
	}
	return nil
}

// mergeAttempts bounds the optimistic transaction retries under write
// contention on one key. Every aborted round means another writer
// committed, so the bound is only reachable under sustained contention.
const mergeAttempts = 16

// Merge folds a long-term record patch into the stored record. The
// read-modify-write runs inside a WATCH/MULTI transaction, so concurrent
// writers from other processes cannot lose updates; contention aborts the
// transaction and the merge retries.
func (s *RedisStore) Merge(ctx context.Context, key string, patch *LongTermRecord) error {
	if err := s.guard(); err != nil {
		return err
	}

	k := s.key(key)
	txf := func(tx *redis.Tx) error {
		var base *LongTermRecord
		raw, err := tx.Get(ctx, k).Bytes()
		switch {
		case err == nil:
			base = &LongTermRecord{}
			if err := json.Unmarshal(raw, base); err != nil {
				return fmt.Errorf("unmarshal record %s: %w", key, err)
			}
		case errors.Is(err, redis.Nil):
			// First write for this user.
		default:
			return fmt.Errorf("%w: merge read %s: %v", fault.ErrUnavailable, key, err)
		}

		merged := mergeRecords(base, patch)
		out, err := json.Marshal(merged)
		if err != nil {
			return fmt.Errorf("marshal record %s: %w", key, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, out, 0)
			return nil
		})
		if err != nil && !errors.Is(err, redis.TxFailedErr) {
			return fmt.Errorf("%w: merge write %s: %v", fault.ErrUnavailable, key, err)
		}
		return err
	}

	for i := 0; i < mergeAttempts; i++ {
		err := s.client.Watch(ctx, txf, k)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fault.Newf(fault.ClassTransient, "merge %s: contention after %d attempts", key, mergeAttempts)
}

// Delete removes a key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.guard(); err != nil {
		return err
	}

	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: delete %s: %v", fault.ErrUnavailable, key, err)
	}
	return nil
}

// Close releases the connection pool.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}

// Ping checks if the Redis connection is alive.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.guard(); err != nil {
		return err
	}
	return s.client.Ping(ctx).Err()
}
