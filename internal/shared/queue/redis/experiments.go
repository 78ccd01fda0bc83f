package redis

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"chemsim/internal/shared/queue"
)

var _ queue.RunQueue = (*Store)(nil)

// EnqueueRun 将 Run 加入生成队列
func (s *Store) EnqueueRun(ctx context.Context, runID, slug string) (string, error) {
	args := &redis.XAddArgs{
		Stream: queue.KeyExperimentRuns,
		MaxLen: queue.MaxQueueLength,
		Approx: true,
		Values: map[string]interface{}{
			"run_id":      runID,
			"slug":        slug,
			"enqueued_at": time.Now().Format(time.RFC3339Nano),
		},
	}

	return s.client.XAdd(ctx, args).Result()
}

// CreateConsumerGroup 创建 worker 消费者组
func (s *Store) CreateConsumerGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, queue.KeyExperimentRuns, queue.WorkerConsumerGroup, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// ConsumeRuns 消费生成队列中的 Run
func (s *Store) ConsumeRuns(ctx context.Context, consumerID string, count int64, blockTimeout time.Duration) ([]*queue.RunMessage, error) {
	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    queue.WorkerConsumerGroup,
		Consumer: consumerID,
		Streams:  []string{queue.KeyExperimentRuns, ">"},
		Count:    count,
		Block:    blockTimeout,
	}).Result()

	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var messages []*queue.RunMessage
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			m := &queue.RunMessage{
				ID: msg.ID,
			}
			if runID, ok := msg.Values["run_id"].(string); ok {
				m.RunID = runID
			}
			if slug, ok := msg.Values["slug"].(string); ok {
				m.Slug = slug
			}
			if enqueuedAt, ok := msg.Values["enqueued_at"].(string); ok {
				if t, err := time.Parse(time.RFC3339Nano, enqueuedAt); err == nil {
					m.EnqueuedAt = t
				}
			}
			messages = append(messages, m)
		}
	}

	return messages, nil
}

// AckRun 确认 Run 消息已处理
func (s *Store) AckRun(ctx context.Context, messageID string) error {
	return s.client.XAck(ctx, queue.KeyExperimentRuns, queue.WorkerConsumerGroup, messageID).Err()
}

// QueueLength 获取队列长度
func (s *Store) QueueLength(ctx context.Context) (int64, error) {
	return s.client.XLen(ctx, queue.KeyExperimentRuns).Result()
}

// PendingCount 获取未确认消息数量
func (s *Store) PendingCount(ctx context.Context) (int64, error) {
	pending, err := s.client.XPending(ctx, queue.KeyExperimentRuns, queue.WorkerConsumerGroup).Result()
	if err != nil {
		return 0, err
	}
	return pending.Count, nil
}
