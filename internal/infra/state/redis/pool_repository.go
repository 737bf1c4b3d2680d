package redisstate

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/drewww/unhangout/internal/repository"
)

// RedisHangoutPool 是 HangoutPool 接口的 Redis 实现。
// 池是一个 Redis list：NextURL 从头弹出，AddURL/ReuseURL 推到尾部，
// 所以归还的 URL 排在新 farm 的 URL 之后。list 跨进程重启持久。
type RedisHangoutPool struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisHangoutPool 创建 RedisHangoutPool 实例
func NewRedisHangoutPool(client *redis.Client, keyPrefix string) *RedisHangoutPool {
	if client == nil {
		panic("redis client cannot be nil for RedisHangoutPool")
	}
	if keyPrefix == "" {
		keyPrefix = "uh:"
	}
	return &RedisHangoutPool{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// --- Key Generation Helpers ---

func (r *RedisHangoutPool) poolKey() string {
	return fmt.Sprintf("%shangout:urls", r.keyPrefix)
}

// NextURL 弹出最早入池的 URL
func (r *RedisHangoutPool) NextURL(ctx context.Context) (string, error) {
	url, err := r.client.LPop(ctx, r.poolKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", repository.ErrPoolEmpty
		}
		return "", fmt.Errorf("redis: failed to pop hangout url from %s: %w", r.poolKey(), err)
	}
	return url, nil
}

// ReuseURL 把竞态落败方未消耗的 URL 放回池尾
func (r *RedisHangoutPool) ReuseURL(ctx context.Context, url string) error {
	if err := r.client.RPush(ctx, r.poolKey(), url).Err(); err != nil {
		return fmt.Errorf("redis: failed to return hangout url to %s: %w", r.poolKey(), err)
	}
	return nil
}

// AddURL 把新 farm 到的 URL 加入池尾
func (r *RedisHangoutPool) AddURL(ctx context.Context, url string) error {
	if err := r.client.RPush(ctx, r.poolKey(), url).Err(); err != nil {
		return fmt.Errorf("redis: failed to add hangout url to %s: %w", r.poolKey(), err)
	}
	return nil
}

// Available 返回池深
func (r *RedisHangoutPool) Available(ctx context.Context) (int64, error) {
	n, err := r.client.LLen(ctx, r.poolKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: failed to get hangout pool length for %s: %w", r.poolKey(), err)
	}
	return n, nil
}

// RedisSubscriptionRepository 是 SubscriptionRepository 接口的 Redis 实现，
// 邮箱追加到一个 list，运营侧离线消费。
type RedisSubscriptionRepository struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisSubscriptionRepository 创建 RedisSubscriptionRepository 实例
func NewRedisSubscriptionRepository(client *redis.Client, keyPrefix string) *RedisSubscriptionRepository {
	if client == nil {
		panic("redis client cannot be nil for RedisSubscriptionRepository")
	}
	if keyPrefix == "" {
		keyPrefix = "uh:"
	}
	return &RedisSubscriptionRepository{client: client, keyPrefix: keyPrefix}
}

func (r *RedisSubscriptionRepository) listKey() string {
	return fmt.Sprintf("%sglobal:subscriptions", r.keyPrefix)
}

// Add 追加一个订阅邮箱
func (r *RedisSubscriptionRepository) Add(ctx context.Context, email string) error {
	if err := r.client.RPush(ctx, r.listKey(), email).Err(); err != nil {
		return fmt.Errorf("redis: failed to record subscription in %s: %w", r.listKey(), err)
	}
	return nil
}
