// Package model 定义核心数据模型
//
// experiment.go 包含实验生成请求相关的数据模型定义：
//   - ExperimentRequest：一次生成请求（名称、描述、难度、受众）
//   - Complexity：难度等级
//   - Audience：目标受众
package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidRequest 请求字段校验失败
var ErrInvalidRequest = errors.New("invalid experiment request")

// ============================================================================
// Complexity - 难度等级
// ============================================================================

// Complexity 实验难度
type Complexity string

const (
	ComplexityBeginner     Complexity = "Beginner"
	ComplexityIntermediate Complexity = "Intermediate"
	ComplexityAdvanced     Complexity = "Advanced"
)

// DefaultComplexity 未指定时使用的难度
const DefaultComplexity = ComplexityIntermediate

// Valid 是否为已知难度
func (c Complexity) Valid() bool {
	switch c {
	case ComplexityBeginner, ComplexityIntermediate, ComplexityAdvanced:
		return true
	}
	return false
}

// ============================================================================
// Audience - 目标受众
// ============================================================================

// Audience 目标受众
type Audience string

const (
	AudienceMiddleSchool Audience = "Middle School"
	AudienceHighSchool   Audience = "High School"
	AudienceCollege      Audience = "College"
)

// DefaultAudience 未指定时使用的受众
const DefaultAudience = AudienceHighSchool

// Valid 是否为已知受众
func (a Audience) Valid() bool {
	switch a {
	case AudienceMiddleSchool, AudienceHighSchool, AudienceCollege:
		return true
	}
	return false
}

// ============================================================================
// ExperimentRequest - 生成请求
// ============================================================================

// ExperimentRequest 用户提交的实验生成请求
//
// 提交后不可变：流水线只读取，不修改。
type ExperimentRequest struct {
	Name        string     `json:"experiment_name" bson:"experiment_name"`
	Description string     `json:"experiment_description" bson:"experiment_description"`
	Complexity  Complexity `json:"complexity_level,omitempty" bson:"complexity_level,omitempty"`
	Audience    Audience   `json:"target_age_group,omitempty" bson:"target_age_group,omitempty"`
}

// Normalize 去除首尾空白并填充默认难度和受众
func (r *ExperimentRequest) Normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.Description = strings.TrimSpace(r.Description)
	r.Complexity = Complexity(strings.TrimSpace(string(r.Complexity)))
	r.Audience = Audience(strings.TrimSpace(string(r.Audience)))
	if r.Complexity == "" {
		r.Complexity = DefaultComplexity
	}
	if r.Audience == "" {
		r.Audience = DefaultAudience
	}
}

// Validate 校验必填字段
// 名称和描述为空白时返回 ErrInvalidRequest
func (r *ExperimentRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: experiment_name is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.Description) == "" {
		return fmt.Errorf("%w: experiment_description is required", ErrInvalidRequest)
	}
	if r.Complexity != "" && !r.Complexity.Valid() {
		return fmt.Errorf("%w: unknown complexity_level %q", ErrInvalidRequest, r.Complexity)
	}
	if r.Audience != "" && !r.Audience.Valid() {
		return fmt.Errorf("%w: unknown target_age_group %q", ErrInvalidRequest, r.Audience)
	}
	return nil
}

// Slug 请求对应的项目目录名
func (r *ExperimentRequest) Slug() string {
	return Slugify(r.Name)
}
