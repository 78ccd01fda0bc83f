package server

import (
	"net/http"

	"chemsim/internal/apiserver/auth"
)

// Router 返回配置好的 HTTP 路由
//
// 路由规则：
//
// 基础:
//   - GET  /health                       - 健康检查
//   - GET  /metrics                      - Prometheus 指标
//   - GET  /api/openapi.yaml             - 接口描述文档
//
// 实验 (experiment 包):
//   - POST /api/experiments              - 提交生成任务
//   - GET  /api/experiments              - 最近的执行记录
//   - GET  /api/experiments/{slug}       - 生成状态
//   - GET  /api/download/{slug}          - 下载信息
//   - GET  /api/download/{slug}/archive  - 下载 zip
//   - GET  /api/runs/{id}                - 执行详情
//
// 认证 (auth 包，仅在配置 JWT_SECRET 时注册):
//   - POST /api/auth/token
//   - GET  /api/auth/me
//
// 静态文件:
//   - GET  /projects/{slug}/...          - 生成的项目目录
//
// WebSocket:
//   - GET  /ws/runs/{id}/events          - 阶段事件推送
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)
	mux.Handle("GET /metrics", MetricsHandler(h.registry))
	if h.opts.OpenAPI != nil {
		mux.HandleFunc("GET /api/openapi.yaml", h.opts.OpenAPI.ServeDocument)
	}

	if h.opts.Experiments != nil {
		h.opts.Experiments.RegisterRoutes(mux)
	}
	auth.NewHandler(h.opts.Auth).RegisterRoutes(mux)

	if h.opts.ProjectsRoot != "" {
		files := http.FileServer(http.Dir(h.opts.ProjectsRoot))
		mux.Handle("GET /projects/", http.StripPrefix("/projects/", files))
	}

	// 中间件顺序：CORS -> 认证 -> 指标
	apiHandler := h.metrics.MetricsMiddleware(mux)
	authedHandler := auth.Middleware(h.opts.Auth)(apiHandler)
	corsHandler := corsMiddleware(authedHandler)

	// WebSocket 绕过 metrics 中间件（包装后的 ResponseWriter 不支持 http.Hijacker）
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /ws/runs/{id}/events", h.eventGateway.HandleWebSocket)
	topMux.Handle("/", corsHandler)

	return topMux
}

// corsMiddleware 添加 CORS 头支持跨域请求
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
