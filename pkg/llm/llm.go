// Package llm 定义生成模型接口和核心数据结构
//
// Generator 是模型服务的适配层：输入一段提示词，返回模型生成的文本。
// 模型服务本身是黑盒，调用方只关心 Generate 的成功与失败。
//
// 文件组织：
//   - llm.go: Generator 接口、配置、错误类型和注册表
//   - gemini/: Gemini 适配（google.golang.org/genai）
//   - openai/: OpenAI 兼容 chat/completions 适配
//   - stub/: 按脚本返回固定文本（测试与离线开发）
//   - providers/: 根据配置组装注册表
package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// ============================================================================
// Generator 接口
// ============================================================================

// Generator 生成模型接口
//
// 实现注意事项：
//   - Name() 返回唯一标识，如 "gemini"、"openai"、"stub"
//   - Generate() 不做重试，失败直接返回错误
//   - 响应文本为空时返回 ErrEmptyResponse
//   - ctx 用于取消和超时控制
type Generator interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc 函数适配器
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

// Name 返回固定名称 func
func (f GeneratorFunc) Name() string { return "func" }

// Generate 调用函数本身
func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// ============================================================================
// 配置
// ============================================================================

// Config 模型服务配置
type Config struct {
	Provider        string        // gemini | openai | stub
	Model           string        // 模型名称，如 gemini-2.0-flash
	BaseURL         string        // API 根地址，为空使用各 provider 默认值
	APIKey          string        // API 密钥（只从环境变量读取）
	Temperature     float64       // 采样温度
	TopK            int           // top-k 采样
	TopP            float64       // nucleus 采样
	MaxOutputTokens int           // 单次响应最大 token 数
	Timeout         time.Duration // HTTP 传输超时，0 表示不限制
}

// 生成参数默认值
const (
	DefaultTemperature     = 0.2
	DefaultTopK            = 40
	DefaultTopP            = 0.95
	DefaultMaxOutputTokens = 8192
)

// WithDefaults 填充未设置的生成参数
func (c Config) WithDefaults() Config {
	if c.Temperature == 0 {
		c.Temperature = DefaultTemperature
	}
	if c.TopK == 0 {
		c.TopK = DefaultTopK
	}
	if c.TopP == 0 {
		c.TopP = DefaultTopP
	}
	if c.MaxOutputTokens == 0 {
		c.MaxOutputTokens = DefaultMaxOutputTokens
	}
	return c
}

// ============================================================================
// 错误
// ============================================================================

// ErrEmptyResponse 模型返回了空文本
var ErrEmptyResponse = errors.New("llm: empty response")

// ErrMissingAPIKey 未配置 API 密钥
var ErrMissingAPIKey = errors.New("llm: api key is required")

// APIError 模型服务返回非 2xx 状态码
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error: status=%d message=%s", e.Provider, e.StatusCode, e.Message)
}

// ============================================================================
// 注册表
// ============================================================================

// Registry Generator 注册表
type Registry struct {
	generators map[string]Generator
}

// NewRegistry 创建注册表
func NewRegistry() *Registry {
	return &Registry{
		generators: make(map[string]Generator),
	}
}

// Register 注册 Generator
func (r *Registry) Register(g Generator) {
	r.generators[g.Name()] = g
}

// Get 获取 Generator
func (r *Registry) Get(name string) (Generator, bool) {
	g, ok := r.generators[name]
	return g, ok
}

// List 列出所有 Generator（按名称排序）
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.generators))
	for name := range r.generators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
