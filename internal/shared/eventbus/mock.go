// Package eventbus 事件总线 mock 实现
package eventbus

import (
	"context"
)

// NoOpEventBus 是一个不做任何操作的 RunEventBus 实现（用于测试）
type NoOpEventBus struct{}

// NewNoOpEventBus 创建 NoOpEventBus 实例
func NewNoOpEventBus() *NoOpEventBus {
	return &NoOpEventBus{}
}

// Close 关闭事件总线
func (e *NoOpEventBus) Close() error {
	return nil
}

func (e *NoOpEventBus) PublishRunEvent(ctx context.Context, runID string, event *RunEvent) error {
	return nil
}
func (e *NoOpEventBus) GetRunEvents(ctx context.Context, runID string, fromSeq int, count int64) ([]*RunEvent, error) {
	return []*RunEvent{}, nil
}
func (e *NoOpEventBus) SubscribeRunEvents(ctx context.Context, runID string) (<-chan *RunEvent, error) {
	ch := make(chan *RunEvent)
	close(ch)
	return ch, nil
}

// 确保 NoOpEventBus 实现了 RunEventBus 接口
var _ RunEventBus = (*NoOpEventBus)(nil)
