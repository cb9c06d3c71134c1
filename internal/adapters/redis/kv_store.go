package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"gitlab.com/timkado/api/support-chat-client/internal/domain"
	"gitlab.com/timkado/api/support-chat-client/pkg/rediskeys"
)

// KeyValueStore implements domain.KeyValueStore on Redis. Keys are scoped
// under a profile namespace so several clients can share one database.
type KeyValueStore struct {
	redisClient *redis.Client
	namespace   string
	logger      domain.Logger
}

// NewKeyValueStore creates a new instance of KeyValueStore.
func NewKeyValueStore(redisClient *redis.Client, namespace string, logger domain.Logger) *KeyValueStore {
	if redisClient == nil {
		panic("redisClient cannot be nil in NewKeyValueStore")
	}
	if logger == nil {
		panic("logger cannot be nil in NewKeyValueStore")
	}
	return &KeyValueStore{
		redisClient: redisClient,
		namespace:   namespace,
		logger:      logger,
	}
}

var _ domain.KeyValueStore = (*KeyValueStore)(nil)

// Get retrieves a value, returning domain.ErrKeyNotFound on a miss.
func (a *KeyValueStore) Get(ctx context.Context, key string) (string, error) {
	fullKey := rediskeys.NamespacedKey(a.namespace, key)
	val, err := a.redisClient.Get(ctx, fullKey).Result()
	if errors.Is(err, redis.Nil) {
		a.logger.Debug(ctx, "Redis store miss", "key", fullKey)
		return "", domain.ErrKeyNotFound
	}
	if err != nil {
		a.logger.Error(ctx, "Failed to get value from Redis", "key", fullKey, "error", err.Error())
		return "", fmt.Errorf("redis GET for key '%s' failed: %w", fullKey, err)
	}
	return val, nil
}

// Set stores a value without expiry. The session identity lives until logout.
func (a *KeyValueStore) Set(ctx context.Context, key string, value string) error {
	fullKey := rediskeys.NamespacedKey(a.namespace, key)
	if err := a.redisClient.Set(ctx, fullKey, value, 0).Err(); err != nil {
		a.logger.Error(ctx, "Failed to set value in Redis", "key", fullKey, "error", err.Error())
		return fmt.Errorf("redis SET for key '%s' failed: %w", fullKey, err)
	}
	a.logger.Debug(ctx, "Stored value in Redis", "key", fullKey)
	return nil
}

func (a *KeyValueStore) Delete(ctx context.Context, key string) error {
	fullKey := rediskeys.NamespacedKey(a.namespace, key)
	if err := a.redisClient.Del(ctx, fullKey).Err(); err != nil {
		a.logger.Error(ctx, "Failed to delete value from Redis", "key", fullKey, "error", err.Error())
		return fmt.Errorf("redis DEL for key '%s' failed: %w", fullKey, err)
	}
	return nil
}

func (a *KeyValueStore) Ping(ctx context.Context) error {
	return a.redisClient.Ping(ctx).Err()
}

// Close is a no-op; the client is owned by the provider that created it.
func (a *KeyValueStore) Close() error {
	return nil
}
