// Package experiment 实验生成领域 - HTTP 处理
package experiment

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"chemsim/internal/dispatch"
	"chemsim/internal/project"
	"chemsim/internal/shared/model"
)

// StartedMessage 提交成功的提示语
const StartedMessage = "Experiment generation started"

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Submitter 提交入口（dispatch.Service）
type Submitter interface {
	Submit(ctx context.Context, req model.ExperimentRequest) (*model.Run, *dispatch.Task, error)
}

// RunStore 定义 handler 需要的登记表接口（用于测试 mock）
type RunStore interface {
	GetRun(ctx context.Context, id string) (*model.Run, error)
	GetLatestRunBySlug(ctx context.Context, slug string) (*model.Run, error)
	ListRuns(ctx context.Context, limit int) ([]*model.Run, error)
}

// Projects 基于文件系统的项目查询（project.Materializer）
type Projects interface {
	Status(slug string) (project.Status, error)
	Archive(slug string) (string, error)
}

// RequestValidator 请求体结构校验（openapi.Validator），可为 nil
type RequestValidator interface {
	ValidateRequest(r *http.Request) error
}

// Handler 实验生成 HTTP 处理器
type Handler struct {
	submitter Submitter
	runs      RunStore
	projects  Projects
	validator RequestValidator
}

// NewHandler 创建处理器
func NewHandler(submitter Submitter, runs RunStore, projects Projects, validator RequestValidator) *Handler {
	return &Handler{submitter: submitter, runs: runs, projects: projects, validator: validator}
}

// RegisterRoutes 注册实验相关路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/experiments", h.Create)
	mux.HandleFunc("GET /api/experiments", h.List)
	mux.HandleFunc("GET /api/experiments/{slug}", h.Status)
	mux.HandleFunc("GET /api/download/{slug}", h.Download)
	mux.HandleFunc("GET /api/download/{slug}/archive", h.Archive)
	mux.HandleFunc("GET /api/runs/{id}", h.GetRun)
}

// ============================================================================
// 响应类型
// ============================================================================

// SubmitResponse 提交响应
type SubmitResponse struct {
	Message        string `json:"message"`
	ExperimentName string `json:"experiment_name"`
	Status         string `json:"status"`
	FolderName     string `json:"folder_name"`
	RunID          string `json:"run_id,omitempty"`
}

// StatusResponse 状态查询响应
type StatusResponse struct {
	Status     string `json:"status"`
	FolderName string `json:"folder_name"`
	RunID      string `json:"run_id,omitempty"`
	Stage      string `json:"stage,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ============================================================================
// Handlers
// ============================================================================

// Create 提交生成任务
// POST /api/experiments
//
// 流程：
//  1. OpenAPI 结构校验
//  2. 字段校验（空白名称/描述返回 400，不调用模型）
//  3. 登记 Run 并分发，立即返回 202
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h.validator != nil {
		if r.Header.Get("Content-Type") == "" {
			r.Header.Set("Content-Type", "application/json")
		}
		if err := h.validator.ValidateRequest(r); err != nil {
			// 响应只带出错字段，schema 细节只进日志
			var d interface{ Detail() string }
			if errors.As(err, &d) {
				log.Printf("[experiment.create.invalid] error=%v detail=%s", err, d.Detail())
			} else {
				log.Printf("[experiment.create.invalid] error=%v", err)
			}
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	var req model.ExperimentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	run, _, err := h.submitter.Submit(r.Context(), req)
	if err != nil {
		if errors.Is(err, model.ErrInvalidRequest) {
			log.Printf("[experiment.create.invalid] error=%v", err)
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("[experiment.create.failed] error=%v", err)
		writeError(w, http.StatusInternalServerError, "failed to start experiment generation")
		return
	}

	log.Printf("[experiment.create.accepted] run_id=%s slug=%s", run.ID, run.Slug)
	writeJSON(w, http.StatusAccepted, SubmitResponse{
		Message:        StartedMessage,
		ExperimentName: run.ExperimentName,
		Status:         model.RunStatusQueued.PublicStatus(),
		FolderName:     run.Slug,
		RunID:          run.ID,
	})
}

// Status 查询项目状态
// GET /api/experiments/{slug}
//
// 登记表中最新的 Run 优先；没有记录时按文件系统判断：
// index.html 存在为 completed，仅目录存在为 processing，否则 404。
// 最新 Run 失败但磁盘上已有 index.html 时返回 completed，失败原因放在 error。
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")
	if !model.ValidSlug(slug) {
		writeError(w, http.StatusNotFound, "experiment not found")
		return
	}

	run, err := h.runs.GetLatestRunBySlug(r.Context(), slug)
	if err != nil {
		log.Printf("[experiment.status.registry.failed] slug=%s error=%v", slug, err)
		writeError(w, http.StatusInternalServerError, "failed to get experiment status")
		return
	}
	if run != nil {
		resp := StatusResponse{
			Status:     run.Status.PublicStatus(),
			FolderName: slug,
			RunID:      run.ID,
			Stage:      string(run.Stage),
		}
		if run.Error != nil {
			resp.Error = *run.Error
		}
		// 失败的 Run 不写文件，早先生成的 index.html 仍在 /projects/ 下可用
		if run.Status == model.RunStatusFailed {
			if fs, err := h.projects.Status(slug); err == nil && fs == project.StatusCompleted {
				resp.Status = string(project.StatusCompleted)
			}
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	status, err := h.projects.Status(slug)
	if err != nil {
		writeError(w, http.StatusNotFound, "experiment not found")
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: string(status), FolderName: slug})
}

// Download 返回压缩包路径
// GET /api/download/{slug}
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	path, ok := h.archive(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"download_path": path})
}

// Archive 直接下载压缩包
// GET /api/download/{slug}/archive
func (h *Handler) Archive(w http.ResponseWriter, r *http.Request) {
	path, ok := h.archive(w, r)
	if !ok {
		return
	}
	f, err := os.Open(path)
	if err != nil {
		writeError(w, http.StatusNotFound, "archive not found")
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read archive")
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filepath.Base(path)+`"`)
	http.ServeContent(w, r, filepath.Base(path), info.ModTime(), f)
}

func (h *Handler) archive(w http.ResponseWriter, r *http.Request) (string, bool) {
	slug := r.PathValue("slug")
	path, err := h.projects.Archive(slug)
	if err != nil {
		if !errors.Is(err, project.ErrNotFound) && !errors.Is(err, project.ErrInvalidSlug) {
			log.Printf("[experiment.download.failed] slug=%q error=%v", slug, err)
		}
		writeError(w, http.StatusNotFound, "archive not found")
		return "", false
	}
	return path, true
}

// List 列出最近的 Run
// GET /api/experiments?limit=20
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	runs, err := h.runs.ListRuns(r.Context(), limit)
	if err != nil {
		log.Printf("[experiment.list.failed] error=%v", err)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs, "count": len(runs)})
}

// GetRun 获取单个 Run 详情
// GET /api/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, err := h.runs.GetRun(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, run)
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
