package auth

import (
	"encoding/json"
	"log"
	"net/http"
)

// Handler 认证 HTTP 处理器
type Handler struct {
	cfg Config
}

// NewHandler 创建认证处理器
func NewHandler(cfg Config) *Handler {
	return &Handler{cfg: cfg}
}

// RegisterRoutes 注册认证相关路由，认证关闭时不注册
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	if !h.cfg.Enabled() {
		return
	}
	mux.HandleFunc("POST /api/auth/token", h.Token)
	mux.HandleFunc("GET /api/auth/me", h.Me)
}

// ============================================================================
// 请求/响应类型
// ============================================================================

type tokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// ============================================================================
// Handlers
// ============================================================================

// Token 用管理员账号密码换取访问令牌
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	if h.cfg.AdminPasswordHash == "" || req.Username != h.cfg.AdminUser ||
		!CheckPassword(req.Password, h.cfg.AdminPasswordHash) {
		log.Printf("[auth.token] rejected username=%q", req.Username)
		writeError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}

	token, err := GenerateAccessToken(h.cfg, req.Username, RoleAdmin)
	if err != nil {
		log.Printf("[auth.token] GenerateAccessToken error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(h.cfg.AccessTokenTTL.Seconds()),
	})
}

// Me 返回当前令牌对应的用户
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user := GetAuthUser(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"username": user.Name, "role": user.Role})
}

// ============================================================================
// 工具函数
// ============================================================================

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
