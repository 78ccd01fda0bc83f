package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load 加载配置
//
// 流程：
//  1. 解析 APP_ENV，加载 .env.{env}
//  2. 默认值 → common.yaml → {env}.yaml
//  3. 环境变量覆盖与密钥注入
func Load() *Config {
	env := parseEnv(getEnv("APP_ENV", "dev"))
	loadEnvFiles(env)

	yamlCfg := loadYAMLConfig(env)
	if yamlCfg.loadedFrom != "" {
		log.Printf("[config] loaded %s", yamlCfg.loadedFrom)
	}

	return resolve(env, yamlCfg)
}

// defaultYAMLConfig 代码默认值
func defaultYAMLConfig() *YAMLConfig {
	return &YAMLConfig{
		APIServer: APIServerConfig{Port: "8000"},
		Projects:  ProjectsConfig{Root: "./generated_projects"},
		Database:  DatabaseConfig{Path: "./data/chemsim.db", Host: "localhost", Port: 5432, User: "chemsim", Name: "chemsim", SSLMode: "disable"},
		Redis:     RedisConfig{Host: "localhost", Port: 6379, DB: 0},
		MinIO:     MinIOConfig{Endpoint: "localhost:9000", Bucket: "chemsim"},
		LLM: LLMConfig{
			Provider:        "gemini",
			Model:           "gemini-2.0-flash",
			Temperature:     0.2,
			TopK:            40,
			TopP:            0.95,
			MaxOutputTokens: 8192,
		},
		Pipeline: PipelineConfig{RepairAttempts: 1, PassPhrase: "ready for use"},
		Dispatch: DispatchConfig{Mode: "local", BlockTimeout: 5 * time.Second, ShutdownGrace: 10 * time.Minute},
		Auth:     AuthConfig{AdminUser: "admin", AccessTokenTTL: "1h"},
		Log:      LogConfig{Level: "info", Format: "text"},
	}
}

// loadYAMLConfig 加载 YAML 配置文件
// 加载顺序：默认值 → common.yaml → {env}.yaml
func loadYAMLConfig(env Environment) *YAMLConfig {
	cfg := defaultYAMLConfig()

	for _, base := range effectiveConfigPaths() {
		path := filepath.Join(base, "common.yaml")
		if data, err := os.ReadFile(path); err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				log.Printf("[config] WARNING: parse %s: %v", path, err)
			}
			break
		}
	}

	filename := fmt.Sprintf("%s.yaml", env)
	for _, base := range effectiveConfigPaths() {
		path := filepath.Join(base, filename)
		if data, err := os.ReadFile(path); err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				log.Printf("[config] WARNING: parse %s: %v", path, err)
			}
			cfg.loadedFrom = path
			break
		}
	}

	return cfg
}

// resolve 合并 YAML 与环境变量得到最终配置
func resolve(env Environment, y *YAMLConfig) *Config {
	y.Database.Password = firstEnv("DB_PASSWORD", "MONGO_ROOT_PASSWORD")
	y.Redis.Password = os.Getenv("REDIS_PASSWORD")
	y.MinIO.AccessKey = os.Getenv("MINIO_ROOT_USER")
	y.MinIO.SecretKey = os.Getenv("MINIO_ROOT_PASSWORD")
	y.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	y.Auth.AdminPasswordHash = os.Getenv("ADMIN_PASSWORD_HASH")

	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		y.LLM.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		y.LLM.Model = v
	}
	switch y.LLM.Provider {
	case "openai":
		y.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	default:
		y.LLM.APIKey = firstEnv("GEMINI_API_KEY", "GOOGLE_API_KEY")
	}

	if v := os.Getenv("PIPELINE_REPAIR_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			y.Pipeline.RepairAttempts = n
		}
	}
	if y.Pipeline.RepairAttempts < 1 {
		y.Pipeline.RepairAttempts = 1
	}
	if strings.TrimSpace(y.Pipeline.PassPhrase) == "" {
		y.Pipeline.PassPhrase = "ready for use"
	}

	if v := os.Getenv("DISPATCH_MODE"); v != "" {
		y.Dispatch.Mode = strings.ToLower(v)
	}
	if y.Dispatch.Mode != "queue" {
		y.Dispatch.Mode = "local"
	}
	if y.Dispatch.ConsumerID == "" {
		host, _ := os.Hostname()
		y.Dispatch.ConsumerID = "worker-" + host
	}

	databaseURL := os.Getenv("DATABASE_URL")
	driver := detectDatabaseDriver(y.Database.Driver, databaseURL)
	y.Database.Driver = driver
	if databaseURL == "" {
		databaseURL = buildDatabaseURL(y.Database, y.Database.Password)
	}

	redisURL := getEnv("REDIS_URL", buildRedisURL(y.Redis))
	if os.Getenv("REDIS_URL") != "" {
		y.Redis.Enabled = true
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		y.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		y.Log.Format = v
	}

	return &Config{
		Env:            env,
		APIPort:        getEnv("PORT", y.APIServer.Port),
		ProjectsRoot:   getEnv("PROJECTS_ROOT", y.Projects.Root),
		DatabaseDriver: driver,
		DatabaseURL:    databaseURL,
		DatabaseName:   y.Database.Name,
		RedisURL:       redisURL,
		Redis:          y.Redis,
		MinIO:          y.MinIO,
		LLM:            y.LLM,
		Pipeline:       y.Pipeline,
		Dispatch:       y.Dispatch,
		Auth:           y.Auth,
		Log:            y.Log,
	}
}

// AccessTokenDuration 解析令牌有效期，非法值回退为 1 小时
func (a AuthConfig) AccessTokenDuration() time.Duration {
	d, err := time.ParseDuration(a.AccessTokenTTL)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}
