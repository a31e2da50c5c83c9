package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"storefront/pkg/metrics"

	"github.com/redis/go-redis/v9"
)

const (
	serviceName   = "catalog-service"
	keyPrefix     = "catalog:products"
	totalCountKey = keyPrefix + ":total"
)

type RedisCache struct {
	client *redis.Client
}

// NewRedisCache подключается к Redis и проверяет соединение
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

func NewRedisCacheFromClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (r *RedisCache) GetTotalCount(ctx context.Context) (int64, bool, error) {
	raw, err := r.client.Get(ctx, totalCountKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			metrics.RecordCacheMiss(serviceName, keyPrefix)
			return 0, false, nil
		}
		metrics.RecordRedisError(serviceName, "get")
		return 0, false, fmt.Errorf("failed to get total count from cache: %w", err)
	}

	count, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		// Битое значение считаем промахом
		metrics.RecordCacheMiss(serviceName, keyPrefix)
		return 0, false, nil
	}

	metrics.RecordCacheHit(serviceName, keyPrefix)
	return count, true, nil
}

func (r *RedisCache) SetTotalCount(ctx context.Context, count int64, ttl time.Duration) error {
	if err := r.client.Set(ctx, totalCountKey, count, ttl).Err(); err != nil {
		metrics.RecordRedisError(serviceName, "set")
		return fmt.Errorf("failed to set total count in cache: %w", err)
	}
	return nil
}

func (r *RedisCache) InvalidateTotalCount(ctx context.Context) error {
	if err := r.client.Del(ctx, totalCountKey).Err(); err != nil {
		metrics.RecordRedisError(serviceName, "del")
		return fmt.Errorf("failed to delete total count from cache: %w", err)
	}
	return nil
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}
