package packconfig

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/deixis/actionrunner/internal/action"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// Prefix namespaces every key written by the store.
	Prefix string `yaml:"prefix"`
}

// RedisStore keeps overrides in redis. Global overrides live at
// <prefix>pack:<pack>:<key>, user-scoped ones at
// <prefix>pack:<pack>:<key>:user:<user>.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisStore creates a RedisStore. It does not contact the server;
// reachability is checked by Ping at resolution time.
func NewRedisStore(cfg RedisConfig, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 2 * time.Second,
		MaxRetries:  1,
	})
	return &RedisStore{
		client: client,
		prefix: cfg.Prefix,
		logger: logger.With(zap.String("component", "datastore")),
	}
}

func (s *RedisStore) key(pack, key, user string) string {
	k := fmt.Sprintf("%spack:%s:%s", s.prefix, pack, key)
	if user != "" {
		k += ":user:" + user
	}
	return k
}

// Ping checks that redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", action.ErrDatastoreUnavailable, err)
	}
	return nil
}

// Get implements Datastore.
func (s *RedisStore) Get(ctx context.Context, pack, key, user string) (*Item, error) {
	raw, err := s.client.Get(ctx, s.key(pack, key, user)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", action.ErrDatastoreUnavailable, err)
	}
	var item Item
	if err := sonic.UnmarshalString(raw, &item); err != nil {
		return nil, fmt.Errorf("malformed override %s: %w", s.key(pack, key, user), err)
	}
	return &item, nil
}

// Set implements Writer.
func (s *RedisStore) Set(ctx context.Context, pack, key, user string, item Item) error {
	raw, err := sonic.MarshalString(item)
	if err != nil {
		return fmt.Errorf("encoding override: %w", err)
	}
	if err := s.client.Set(ctx, s.key(pack, key, user), raw, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", action.ErrDatastoreUnavailable, err)
	}
	s.logger.Debug("override stored",
		zap.String("pack", pack),
		zap.String("key", key),
		zap.String("user", user),
		zap.Bool("secret", item.Secret))
	return nil
}

// Delete removes an override.
func (s *RedisStore) Delete(ctx context.Context, pack, key, user string) error {
	return s.client.Del(ctx, s.key(pack, key, user)).Err()
}

// Close closes the redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
