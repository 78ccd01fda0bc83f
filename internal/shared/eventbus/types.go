// Package eventbus 事件总线类型定义
package eventbus

import (
	"time"
)

// ============================================================================
// 事件类型
// ============================================================================

// RunEvent Run 执行事件
type RunEvent struct {
	ID        string                 `json:"id"`
	RunID     string                 `json:"run_id"`
	Seq       int                    `json:"seq"`
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload"`
}

// IsTerminal 是否为终止事件（之后不会再有新事件）
func (e *RunEvent) IsTerminal() bool {
	return e.Type == EventRunCompleted || e.Type == EventRunFailed
}

// 事件类型
const (
	EventRunQueued    = "run.queued"
	EventRunStarted   = "run.started"
	EventRunStage     = "run.stage"
	EventRunCompleted = "run.completed"
	EventRunFailed    = "run.failed"
)

// ============================================================================
// Key 前缀和常量
// ============================================================================

const (
	// Key 前缀
	KeyRunEvents = "run_events:"

	// Stream 最大长度
	MaxStreamLength = 1000

	// RunEventsTTL 终止事件发布后事件流的保留时间
	RunEventsTTL = 24 * time.Hour
)
