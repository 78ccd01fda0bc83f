// Package server HTTP 网关：路由装配、中间件、指标与 WebSocket 事件推送
//
// 文件组织：
//   - common.go: Handler 定义和通用工具函数
//   - handler.go: 路由与中间件链
//   - events.go: WebSocket 阶段事件网关
//   - metrics.go: Prometheus 指标
//
// 业务接口由 experiment / auth 包注册，本包只负责组装。
package server

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"chemsim/internal/apiserver/auth"
	"chemsim/internal/apiserver/experiment"
	"chemsim/internal/apiserver/openapi"
	"chemsim/internal/shared/eventbus"
)

// Options 网关依赖
type Options struct {
	Experiments  *experiment.Handler  // 实验接口
	Auth         auth.Config          // 认证配置，JWTSecret 为空时关闭
	OpenAPI      *openapi.Validator   // 提供 /api/openapi.yaml，可为 nil
	ProjectsRoot string               // 静态托管 /projects/ 的根目录
	Runs         RunGetter            // WebSocket 连接时校验 Run
	EventBus     eventbus.RunEventBus // 阶段事件
	Registry     *prometheus.Registry // 为 nil 时使用新 Registry
	Namespace    string               // 指标前缀，默认 chemsim
}

// Handler HTTP 网关
type Handler struct {
	opts         Options
	registry     *prometheus.Registry
	metrics      *Metrics
	eventGateway *EventGateway
}

// NewHandler 创建网关
func NewHandler(opts Options) *Handler {
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	if opts.Namespace == "" {
		opts.Namespace = "chemsim"
	}
	metrics := NewMetrics(opts.Registry, opts.Namespace)
	return &Handler{
		opts:         opts,
		registry:     opts.Registry,
		metrics:      metrics,
		eventGateway: NewEventGateway(opts.Runs, opts.EventBus, metrics),
	}
}

// GetMetrics 返回指标实例
func (h *Handler) GetMetrics() *Metrics {
	return h.metrics
}

// writeJSON 将数据以 JSON 格式写入 HTTP 响应
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Health 健康检查接口
//
// 路由: GET /health
//
// 返回 {"status": "ok"} 表示服务正常运行。
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
