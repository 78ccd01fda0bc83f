// Package logging 结构化日志
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	slogmulti "github.com/samber/slog-multi"
)

// ContextKey 上下文键类型
type ContextKey string

const (
	RunIDKey ContextKey = "run_id"
	SlugKey  ContextKey = "slug"
)

// Logger 结构化日志器
type Logger struct {
	*slog.Logger
	component string
	closer    io.Closer
}

// Config 日志配置
type Config struct {
	Level     string `json:"level"`
	Format    string `json:"format"` // json or text
	Output    string `json:"output"` // stdout, stderr
	File      string `json:"file"`   // 非空时同时写入该文件
	Component string `json:"component"`
}

// ParseLevel 解析日志级别，未知值返回 info
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New 创建新的日志器
//
// 控制台与文件两个输出通过 slogmulti.Fanout 同时写入；
// 文件无法打开时只写控制台。
func New(cfg Config) *Logger {
	level := ParseLevel(cfg.Level)
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var console io.Writer = os.Stdout
	if cfg.Output == "stderr" {
		console = os.Stderr
	}

	handlers := []slog.Handler{newHandler(console, cfg.Format, opts)}

	var closer io.Closer
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err == nil {
			if f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); err == nil {
				// 文件始终使用 JSON，便于采集
				handlers = append(handlers, slog.NewJSONHandler(f, opts))
				closer = f
			}
		}
	}

	var handler slog.Handler
	if len(handlers) == 1 {
		handler = handlers[0]
	} else {
		handler = slogmulti.Fanout(handlers...)
	}

	logger := slog.New(handler)
	if cfg.Component != "" {
		logger = logger.With(slog.String("component", cfg.Component))
	}

	return &Logger{
		Logger:    logger,
		component: cfg.Component,
		closer:    closer,
	}
}

// NewWithWriter 写入指定 Writer 的日志器（测试使用）
func NewWithWriter(w io.Writer, cfg Config) *Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	logger := slog.New(newHandler(w, cfg.Format, opts))
	if cfg.Component != "" {
		logger = logger.With(slog.String("component", cfg.Component))
	}
	return &Logger{Logger: logger, component: cfg.Component}
}

func newHandler(w io.Writer, format string, opts *slog.HandlerOptions) slog.Handler {
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// Default 创建默认日志器
func Default(component string) *Logger {
	return New(Config{
		Level:     os.Getenv("LOG_LEVEL"),
		Format:    os.Getenv("LOG_FORMAT"),
		Output:    "stdout",
		Component: component,
	})
}

// Discard 丢弃所有输出的日志器
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// Close 关闭文件输出
func (l *Logger) Close() error {
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

// Component 组件名称
func (l *Logger) Component() string {
	return l.component
}

// with 复制日志器并附加属性
func (l *Logger) with(attrs ...any) *Logger {
	return &Logger{
		Logger:    l.Logger.With(attrs...),
		component: l.component,
	}
}

// WithContext 从上下文提取 run_id/slug
func (l *Logger) WithContext(ctx context.Context) *Logger {
	var attrs []any
	if runID, ok := ctx.Value(RunIDKey).(string); ok && runID != "" {
		attrs = append(attrs, slog.String("run_id", runID))
	}
	if slug, ok := ctx.Value(SlugKey).(string); ok && slug != "" {
		attrs = append(attrs, slog.String("slug", slug))
	}
	if len(attrs) == 0 {
		return l
	}
	return l.with(attrs...)
}

// ContextWithRun 把 run_id 与 slug 放入上下文
func ContextWithRun(ctx context.Context, runID, slug string) context.Context {
	ctx = context.WithValue(ctx, RunIDKey, runID)
	return context.WithValue(ctx, SlugKey, slug)
}

// WithRunID 添加 Run ID
func (l *Logger) WithRunID(runID string) *Logger {
	return l.with(slog.String("run_id", runID))
}

// WithSlug 添加项目目录名
func (l *Logger) WithSlug(slug string) *Logger {
	return l.with(slog.String("slug", slug))
}

// WithStage 添加流水线阶段
func (l *Logger) WithStage(stage string) *Logger {
	return l.with(slog.String("stage", stage))
}

// WithError 添加错误信息
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.with(slog.String("error", err.Error()))
}

// WithDuration 添加持续时间
func (l *Logger) WithDuration(d time.Duration) *Logger {
	return l.with(slog.Float64("duration_ms", float64(d.Milliseconds())))
}

// HTTPRequestLog HTTP 请求日志
func (l *Logger) HTTPRequestLog(method, path string, status int, duration time.Duration, clientIP string) {
	l.Logger.Info("HTTP request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
		slog.String("client_ip", clientIP),
	)
}

// ModelCallLog 模型调用日志
func (l *Logger) ModelCallLog(stage string, promptLen, responseLen int, duration time.Duration, err error) {
	attrs := []any{
		slog.String("stage", stage),
		slog.Int("prompt_chars", promptLen),
		slog.Int("response_chars", responseLen),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		l.Logger.Warn("Model call failed", attrs...)
		return
	}
	l.Logger.Info("Model call", attrs...)
}
