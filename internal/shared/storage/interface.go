// Package storage 定义运行登记表的存储接口
//
// 调用方只依赖接口，具体实现在子包中：
//   - repository/：SQL 实现（SQLite、PostgreSQL）
//   - mongostore/：MongoDB 实现
//   - memory.go：进程内实现（测试与无数据库部署）
package storage

import (
	"context"
	"time"

	"chemsim/internal/shared/model"
)

// RunStore 运行登记表
//
// 查询类方法在记录不存在时返回 (nil, nil)；
// 更新类方法在记录不存在时返回 ErrNotFound。
type RunStore interface {
	CreateRun(ctx context.Context, run *model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	// GetLatestRunBySlug 返回该 slug 最新创建的 Run
	GetLatestRunBySlug(ctx context.Context, slug string) (*model.Run, error)
	// ListRuns 按创建时间倒序列出最近的 Run
	ListRuns(ctx context.Context, limit int) ([]*model.Run, error)
	// ListUnfinishedRuns 列出在 before 之前创建且未到终态的 Run
	ListUnfinishedRuns(ctx context.Context, before time.Time) ([]*model.Run, error)

	// MarkRunStarted 标记 Run 开始执行（queued → running）
	MarkRunStarted(ctx context.Context, id string) error
	// UpdateRunStage 更新当前阶段与已发生的模型调用次数
	UpdateRunStage(ctx context.Context, id string, stage model.Stage, modelCalls int) error
	// FinishRun 写入终态结果
	FinishRun(ctx context.Context, id string, outcome model.RunOutcome) error

	Close() error
}
