package repositories

import (
	"context"
	"fmt"

	"github.com/desertthunder/nowplaying/internal/models"
	"github.com/redis/rueidis"
)

// RedisKeyPrefix namespaces every key written by [RedisKV].
const RedisKeyPrefix = "nowplaying:"

// RedisKV implements [models.Repository] using Redis via rueidis.
type RedisKV struct {
	client rueidis.Client
}

// RedisOptions contains configuration for Redis connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisKV wraps an existing rueidis client.
func NewRedisKV(client rueidis.Client) *RedisKV {
	return &RedisKV{client: client}
}

// NewRedisKVFromOptions dials Redis with simplified options.
func NewRedisKVFromOptions(opts RedisOptions) (*RedisKV, error) {
	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress: []string{opts.Addr},
		Password:    opts.Password,
		SelectDB:    opts.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}
	return NewRedisKV(client), nil
}

func (r *RedisKV) Get(ctx context.Context, key string) (string, error) {
	cmd := r.client.B().Get().Key(RedisKeyPrefix + key).Build()
	value, err := r.client.Do(ctx, cmd).ToString()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return "", models.ErrNotFound
		}
		return "", fmt.Errorf("failed to get %s from redis: %w", key, err)
	}
	return value, nil
}

func (r *RedisKV) Set(ctx context.Context, key, value string) error {
	cmd := r.client.B().Set().Key(RedisKeyPrefix + key).Value(value).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to set %s in redis: %w", key, err)
	}
	return nil
}

func (r *RedisKV) Delete(ctx context.Context, key string) error {
	cmd := r.client.B().Del().Key(RedisKeyPrefix + key).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to delete %s from redis: %w", key, err)
	}
	return nil
}

// Ping checks the connection.
func (r *RedisKV) Ping(ctx context.Context) error {
	return r.client.Do(ctx, r.client.B().Ping().Build()).Error()
}

func (r *RedisKV) Close() error {
	r.client.Close()
	return nil
}
