// Package model 定义核心数据模型
//
// run.go 包含生成执行相关的数据模型定义：
//   - Run：一次生成流水线的执行记录（运行登记表中的一行）
//   - RunStatus：执行状态枚举
//   - Stage：流水线阶段枚举
package model

import (
	"encoding/json"
	"time"
)

// ============================================================================
// RunStatus - 执行状态
// ============================================================================

// RunStatus 表示一次生成执行的状态
//
//   - queued：已登记，等待分发
//   - running：流水线执行中
//   - completed：产物已写入磁盘并打包
//   - failed：某个阶段失败，未写入任何产物
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// IsTerminal 是否为终态
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// PublicStatus 对外暴露的状态（queued/running 合并为 processing）
func (s RunStatus) PublicStatus() string {
	switch s {
	case RunStatusCompleted:
		return "completed"
	case RunStatusFailed:
		return "failed"
	default:
		return "processing"
	}
}

// ============================================================================
// Stage - 流水线阶段
// ============================================================================

// Stage 流水线阶段
//
// Instructing → Implementing → Extracting → Validating →
// (Fixing → ReExtracting)? → Materializing → Completed | Failed
type Stage string

const (
	StageInstructing   Stage = "instructing"
	StageImplementing  Stage = "implementing"
	StageExtracting    Stage = "extracting"
	StageValidating    Stage = "validating"
	StageFixing        Stage = "fixing"
	StageReExtracting  Stage = "re_extracting"
	StageMaterializing Stage = "materializing"
	StageCompleted     Stage = "completed"
	StageFailed        Stage = "failed"
)

// CallsModel 该阶段是否会调用生成模型
func (s Stage) CallsModel() bool {
	switch s {
	case StageInstructing, StageImplementing, StageValidating, StageFixing:
		return true
	}
	return false
}

// ============================================================================
// Run - 执行记录
// ============================================================================

// Run 运行登记表中的一次生成执行
//
// 同一 slug 可以有多个 Run（同名实验重复提交），
// 状态查询以最新创建的 Run 为准。
type Run struct {
	ID             string          `json:"id" bson:"_id" db:"id"`
	Slug           string          `json:"folder_name" bson:"slug" db:"slug"`
	ExperimentName string          `json:"experiment_name" bson:"experiment_name" db:"experiment_name"`
	Request        json.RawMessage `json:"request,omitempty" bson:"request,omitempty" db:"request"`
	Status         RunStatus       `json:"status" bson:"status" db:"status"`
	Stage          Stage           `json:"stage,omitempty" bson:"stage,omitempty" db:"stage"`
	Error          *string         `json:"error,omitempty" bson:"error,omitempty" db:"error"`
	ArchivePath    *string         `json:"archive_path,omitempty" bson:"archive_path,omitempty" db:"archive_path"`
	Repaired       bool            `json:"repaired" bson:"repaired" db:"repaired"`
	ModelCalls     int             `json:"model_calls" bson:"model_calls" db:"model_calls"`
	Warnings       []string        `json:"warnings,omitempty" bson:"warnings,omitempty" db:"warnings"`
	CreatedAt      time.Time       `json:"created_at" bson:"created_at" db:"created_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty" bson:"started_at,omitempty" db:"started_at"`
	FinishedAt     *time.Time      `json:"finished_at,omitempty" bson:"finished_at,omitempty" db:"finished_at"`
	UpdatedAt      time.Time       `json:"updated_at" bson:"updated_at" db:"updated_at"`
}

// NewRun 为请求创建一条 queued 状态的执行记录
func NewRun(id string, req ExperimentRequest) *Run {
	snapshot, _ := json.Marshal(req)
	now := time.Now()
	return &Run{
		ID:             id,
		Slug:           Slugify(req.Name),
		ExperimentName: req.Name,
		Request:        snapshot,
		Status:         RunStatusQueued,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// DecodeRequest 从快照还原请求
func (r *Run) DecodeRequest() (ExperimentRequest, error) {
	var req ExperimentRequest
	err := json.Unmarshal(r.Request, &req)
	return req, err
}

// RunOutcome 执行结束时写回登记表的结果
type RunOutcome struct {
	Status      RunStatus
	Stage       Stage
	ArchivePath string
	Repaired    bool
	ModelCalls  int
	Warnings    []string
	Error       string
}
