// Package config 统一配置管理
//
// API Server 和 Worker 共用同一 YAML schema，通过不同章节（section）区分各组件的配置。
//
// 配置加载优先级（高→低）：
//  1. 环境变量（通过 .env 文件或 shell/systemd 注入）
//  2. YAML 配置文件（common.yaml，然后 {env}.yaml）
//  3. 代码硬编码默认值
//
// 凭据单一数据源：
//
//	密码/密钥只存在环境变量中（YAML 中不存储任何密钥）。
//
// 配置路径确定策略：
//  1. --config 命令行参数（SetConfigDir）
//  2. CONFIG_DIR 环境变量
//  3. 按 APP_ENV 选择默认路径：
//     - prod → /etc/chemsim/
//     - dev/test → ./configs/
package config

import "time"

// Environment 环境类型
type Environment string

const (
	EnvProduction  Environment = "prod"
	EnvTest        Environment = "test"
	EnvDevelopment Environment = "dev"
)

// YAMLConfig 统一 YAML 配置文件结构
type YAMLConfig struct {
	APIServer APIServerConfig `yaml:"api_server"`
	Projects  ProjectsConfig  `yaml:"projects"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	MinIO     MinIOConfig     `yaml:"minio"`
	LLM       LLMConfig       `yaml:"llm"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Auth      AuthConfig      `yaml:"auth"`
	Log       LogConfig       `yaml:"log"`

	loadedFrom string
}

// APIServerConfig API Server 配置
type APIServerConfig struct {
	Port string `yaml:"port"`
}

// ProjectsConfig 生成产物目录
type ProjectsConfig struct {
	Root string `yaml:"root"` // 项目根目录，默认 ./generated_projects
}

// DatabaseConfig 运行登记表所用数据库
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "sqlite"（默认）、"postgres"、"mongodb" 或 "memory"
	Path     string `yaml:"path"`   // SQLite 文件路径
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"-"` // 只从 DB_PASSWORD 环境变量读取
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
	URI      string `yaml:"uri"` // MongoDB 连接 URI（优先于 host/port）
}

// RedisConfig Redis 配置（事件总线与队列模式使用）
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	DB       int    `yaml:"db"`
	Password string `yaml:"-"`   // 只从 REDIS_PASSWORD 环境变量读取
	URL      string `yaml:"url"` // 直接指定 URL，优先于 host/port/db
}

// MinIOConfig MinIO 对象存储配置（压缩包镜像）
type MinIOConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"` // 例如 localhost:9000
	AccessKey string `yaml:"-"`        // 只从 MINIO_ROOT_USER 环境变量读取
	SecretKey string `yaml:"-"`        // 只从 MINIO_ROOT_PASSWORD 环境变量读取
	UseSSL    bool   `yaml:"use_ssl"`
	Bucket    string `yaml:"bucket"`
}

// LLMConfig 生成模型配置
type LLMConfig struct {
	Provider        string        `yaml:"provider"` // gemini | openai | stub
	Model           string        `yaml:"model"`
	BaseURL         string        `yaml:"base_url"`
	APIKey          string        `yaml:"-"` // GEMINI_API_KEY / OPENAI_API_KEY
	Temperature     float64       `yaml:"temperature"`
	TopK            int           `yaml:"top_k"`
	TopP            float64       `yaml:"top_p"`
	MaxOutputTokens int           `yaml:"max_output_tokens"`
	Timeout         time.Duration `yaml:"timeout"` // 0 表示不限制
}

// PipelineConfig 生成流水线配置
type PipelineConfig struct {
	RepairAttempts int    `yaml:"repair_attempts"` // 修复次数，默认 1
	PassPhrase     string `yaml:"pass_phrase"`     // 审查通过判定短语，默认 "ready for use"
}

// DispatchConfig 分发配置
type DispatchConfig struct {
	Mode          string        `yaml:"mode"`           // local（默认）或 queue
	ConsumerID    string        `yaml:"consumer_id"`    // queue 模式下 worker 的消费者 ID
	BlockTimeout  time.Duration `yaml:"block_timeout"`  // XReadGroup 阻塞时间
	ShutdownGrace time.Duration `yaml:"shutdown_grace"` // 关闭时等待进行中任务的时间
}

// AuthConfig 认证配置
// 注意：JWTSecret/AdminPasswordHash 只从环境变量读取
type AuthConfig struct {
	JWTSecret         string `yaml:"-"`                // JWT_SECRET
	AdminPasswordHash string `yaml:"-"`                // ADMIN_PASSWORD_HASH（bcrypt）
	AdminUser         string `yaml:"admin_user"`       // 默认 admin
	AccessTokenTTL    string `yaml:"access_token_ttl"` // 例如 "1h"
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text | json
	File   string `yaml:"file"`   // 非空时同时写入文件
}

// Config 应用最终配置（YAML + 环境变量合并后）
type Config struct {
	Env            Environment
	APIPort        string
	ProjectsRoot   string
	DatabaseDriver string
	DatabaseURL    string
	DatabaseName   string
	RedisURL       string
	Redis          RedisConfig
	MinIO          MinIOConfig
	LLM            LLMConfig
	Pipeline       PipelineConfig
	Dispatch       DispatchConfig
	Auth           AuthConfig
	Log            LogConfig
}
