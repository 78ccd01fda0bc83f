package queue

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// MemoryQueue 进程内 RunQueue 实现（用于测试）
//
// 语义与 Redis Streams 消费者组一致：消费后进入 pending，Ack 后移除。
type MemoryQueue struct {
	mu      sync.Mutex
	nextID  int
	ready   []*RunMessage
	pending map[string]*RunMessage
	notify  chan struct{}
}

var _ RunQueue = (*MemoryQueue)(nil)

// NewMemoryQueue 创建进程内队列
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		pending: make(map[string]*RunMessage),
		notify:  make(chan struct{}, 1),
	}
}

func (q *MemoryQueue) EnqueueRun(ctx context.Context, runID, slug string) (string, error) {
	q.mu.Lock()
	q.nextID++
	msg := &RunMessage{
		ID:         strconv.Itoa(q.nextID) + "-0",
		RunID:      runID,
		Slug:       slug,
		EnqueuedAt: time.Now(),
	}
	q.ready = append(q.ready, msg)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return msg.ID, nil
}

func (q *MemoryQueue) CreateConsumerGroup(ctx context.Context) error {
	return nil
}

func (q *MemoryQueue) ConsumeRuns(ctx context.Context, consumerID string, count int64, blockTimeout time.Duration) ([]*RunMessage, error) {
	timer := time.NewTimer(blockTimeout)
	defer timer.Stop()

	for {
		if msgs := q.take(count); len(msgs) > 0 {
			return msgs, nil
		}
		select {
		case <-q.notify:
		case <-timer.C:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *MemoryQueue) take(count int64) []*RunMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.ready)
	if count > 0 && int64(n) > count {
		n = int(count)
	}
	msgs := q.ready[:n:n]
	q.ready = q.ready[n:]
	for _, m := range msgs {
		q.pending[m.ID] = m
	}
	return msgs
}

func (q *MemoryQueue) AckRun(ctx context.Context, messageID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.pending, messageID)
	return nil
}

func (q *MemoryQueue) QueueLength(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.ready) + len(q.pending)), nil
}

func (q *MemoryQueue) PendingCount(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.pending)), nil
}

func (q *MemoryQueue) Close() error {
	return nil
}
