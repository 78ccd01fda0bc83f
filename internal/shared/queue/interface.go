// Package queue 消息队列抽象接口
//
// 队列模式下 api-server 将 Run 写入队列，由 worker 进程消费执行。
// 当前由 Redis Streams 实现。
package queue

import (
	"context"
	"time"
)

// RunQueue 生成任务队列
type RunQueue interface {
	// EnqueueRun 将 Run 加入队列，返回消息 ID
	EnqueueRun(ctx context.Context, runID, slug string) (string, error)
	CreateConsumerGroup(ctx context.Context) error
	// ConsumeRuns 阻塞读取新消息，超时无消息时返回 (nil, nil)
	ConsumeRuns(ctx context.Context, consumerID string, count int64, blockTimeout time.Duration) ([]*RunMessage, error)
	AckRun(ctx context.Context, messageID string) error
	QueueLength(ctx context.Context) (int64, error)
	PendingCount(ctx context.Context) (int64, error)
	Close() error
}
