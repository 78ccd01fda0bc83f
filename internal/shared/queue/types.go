// Package queue 消息队列类型定义
package queue

import (
	"time"
)

// RunMessage 待执行的生成任务消息
type RunMessage struct {
	ID         string
	RunID      string
	Slug       string
	EnqueuedAt time.Time
}

const (
	// KeyExperimentRuns 生成任务队列
	KeyExperimentRuns = "experiments:runs"

	// WorkerConsumerGroup worker 消费者组
	WorkerConsumerGroup = "chemsim_workers"

	// MaxQueueLength 队列近似最大长度
	MaxQueueLength = 10000
)
