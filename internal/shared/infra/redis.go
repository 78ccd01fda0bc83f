// Package infra Redis 基础设施初始化
package infra

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"chemsim/internal/shared/eventbus"
	eventbusredis "chemsim/internal/shared/eventbus/redis"
	"chemsim/internal/shared/queue"
	queueredis "chemsim/internal/shared/queue/redis"
)

// RedisInfra Redis 基础设施
//
// EventBus 与 Queue 共享同一个 Redis 连接，关闭时只关闭一次底层客户端。
type RedisInfra struct {
	eventBusStore *eventbusredis.Store
	queueStore    *queueredis.Store

	client *redis.Client
}

// NewRedisInfra 从 URL 创建 Redis 基础设施
func NewRedisInfra(redisURL string) (*RedisInfra, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Printf("[Redis/Infra] Connected to %s", opts.Addr)

	return NewRedisInfraFromClient(client), nil
}

// NewRedisInfraFromClient 从现有客户端创建 Redis 基础设施
func NewRedisInfraFromClient(client *redis.Client) *RedisInfra {
	return &RedisInfra{
		client:        client,
		eventBusStore: eventbusredis.NewStoreFromClient(client),
		queueStore:    queueredis.NewStoreFromClient(client),
	}
}

// Client 返回底层 Redis 客户端
func (r *RedisInfra) Client() *redis.Client {
	return r.client
}

// Close 关闭 Redis 连接
func (r *RedisInfra) Close() error {
	return r.client.Close()
}

// ============================================================================
// eventbus.RunEventBus 接口委托实现
// ============================================================================

func (r *RedisInfra) PublishRunEvent(ctx context.Context, runID string, event *eventbus.RunEvent) error {
	return r.eventBusStore.PublishRunEvent(ctx, runID, event)
}
func (r *RedisInfra) GetRunEvents(ctx context.Context, runID string, fromSeq int, count int64) ([]*eventbus.RunEvent, error) {
	return r.eventBusStore.GetRunEvents(ctx, runID, fromSeq, count)
}
func (r *RedisInfra) SubscribeRunEvents(ctx context.Context, runID string) (<-chan *eventbus.RunEvent, error) {
	return r.eventBusStore.SubscribeRunEvents(ctx, runID)
}

// ============================================================================
// queue.RunQueue 接口委托实现
// ============================================================================

func (r *RedisInfra) EnqueueRun(ctx context.Context, runID, slug string) (string, error) {
	return r.queueStore.EnqueueRun(ctx, runID, slug)
}
func (r *RedisInfra) CreateConsumerGroup(ctx context.Context) error {
	return r.queueStore.CreateConsumerGroup(ctx)
}
func (r *RedisInfra) ConsumeRuns(ctx context.Context, consumerID string, count int64, blockTimeout time.Duration) ([]*queue.RunMessage, error) {
	return r.queueStore.ConsumeRuns(ctx, consumerID, count, blockTimeout)
}
func (r *RedisInfra) AckRun(ctx context.Context, messageID string) error {
	return r.queueStore.AckRun(ctx, messageID)
}
func (r *RedisInfra) QueueLength(ctx context.Context) (int64, error) {
	return r.queueStore.QueueLength(ctx)
}
func (r *RedisInfra) PendingCount(ctx context.Context) (int64, error) {
	return r.queueStore.PendingCount(ctx)
}

var (
	_ eventbus.RunEventBus = (*RedisInfra)(nil)
	_ queue.RunQueue       = (*RedisInfra)(nil)
)
