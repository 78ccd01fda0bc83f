// Package eventbus 事件总线抽象接口
//
// 提供 Run 阶段事件的发布/订阅能力。
// 单机部署使用进程内实现，多实例部署由 Redis Streams 实现。
package eventbus

import (
	"context"
)

// RunEventBus Run 事件总线接口
type RunEventBus interface {
	// PublishRunEvent 发布事件，Seq 由实现分配
	PublishRunEvent(ctx context.Context, runID string, event *RunEvent) error
	// GetRunEvents 获取 Seq > fromSeq 的历史事件，count <= 0 表示不限
	GetRunEvents(ctx context.Context, runID string, fromSeq int, count int64) ([]*RunEvent, error)
	// SubscribeRunEvents 订阅新事件，ctx 取消后通道关闭
	SubscribeRunEvents(ctx context.Context, runID string) (<-chan *RunEvent, error)
	Close() error
}
