// Package experiment 实验生成领域 - Handler 单元测试
//
// 测试类型：Unit Test（使用 Mock 隔离提交服务、登记表和文件系统）
package experiment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"

	"chemsim/internal/apiserver/openapi"
	"chemsim/internal/dispatch"
	"chemsim/internal/project"
	"chemsim/internal/shared/model"
)

// ============================================================================
// Mock 实现
// ============================================================================

// mockSubmitter 模拟提交服务：校验请求并记录提交
type mockSubmitter struct {
	submitted []model.ExperimentRequest
	err       error
}

func (m *mockSubmitter) Submit(ctx context.Context, req model.ExperimentRequest) (*model.Run, *dispatch.Task, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, nil, err
	}
	if m.err != nil {
		return nil, nil, m.err
	}
	m.submitted = append(m.submitted, req)
	return model.NewRun("run-test", req), nil, nil
}

// mockRunStore 模拟登记表
type mockRunStore struct {
	runs   map[string]*model.Run
	getErr error
}

func newMockStore(runs ...*model.Run) *mockRunStore {
	m := &mockRunStore{runs: make(map[string]*model.Run)}
	for _, r := range runs {
		m.runs[r.ID] = r
	}
	return m
}

func (m *mockRunStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.runs[id], nil
}

func (m *mockRunStore) GetLatestRunBySlug(ctx context.Context, slug string) (*model.Run, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	var latest *model.Run
	for _, r := range m.runs {
		if r.Slug == slug && (latest == nil || r.CreatedAt.After(latest.CreatedAt)) {
			latest = r
		}
	}
	return latest, nil
}

func (m *mockRunStore) ListRuns(ctx context.Context, limit int) ([]*model.Run, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	runs := make([]*model.Run, 0, len(m.runs))
	for _, r := range m.runs {
		runs = append(runs, r)
	}
	if len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func newTestHandler(t *testing.T, sub Submitter, store RunStore) (*Handler, string, *http.ServeMux) {
	t.Helper()
	root := t.TempDir()
	v, err := openapi.LoadEmbedded()
	if err != nil {
		t.Fatalf("LoadEmbedded: %v", err)
	}
	h := NewHandler(sub, store, project.New(root), v)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return h, root, mux
}

func do(mux http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func runWithStatus(id, name string, status model.RunStatus, created time.Time) *model.Run {
	run := model.NewRun(id, model.ExperimentRequest{Name: name, Description: "d"})
	run.Status = status
	run.CreatedAt = created
	return run
}

// ============================================================================
// POST /api/experiments
// ============================================================================

func TestCreate_Accepted(t *testing.T) {
	sub := &mockSubmitter{}
	_, _, mux := newTestHandler(t, sub, newMockStore())

	w := do(mux, "POST", "/api/experiments",
		`{"experiment_name":"Acid Base Titration","experiment_description":"HCl vs NaOH"}`)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body = %s", w.Code, w.Body.String())
	}
	var resp SubmitResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	want := SubmitResponse{
		Message:        StartedMessage,
		ExperimentName: "Acid Base Titration",
		Status:         "processing",
		FolderName:     "acid_base_titration",
		RunID:          "run-test",
	}
	if resp != want {
		t.Errorf("resp = %+v, want %+v", resp, want)
	}

	if len(sub.submitted) != 1 {
		t.Fatalf("提交次数 = %d, want 1", len(sub.submitted))
	}
	// 默认难度和受众
	if sub.submitted[0].Complexity != model.ComplexityIntermediate || sub.submitted[0].Audience != model.AudienceHighSchool {
		t.Errorf("默认值未填充: %+v", sub.submitted[0])
	}
}

func TestCreate_BadRequest(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"缺少名称", `{"experiment_description":"x"}`},
		{"缺少描述", `{"experiment_name":"Flame Test"}`},
		{"名称为空白", `{"experiment_name":"   ","experiment_description":"x"}`},
		{"描述为空白", `{"experiment_name":"Flame Test","experiment_description":"  "}`},
		{"未知受众", `{"experiment_name":"a","experiment_description":"b","target_age_group":"Toddler"}`},
		{"非法 JSON", `{"experiment_name":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &mockSubmitter{}
			_, _, mux := newTestHandler(t, sub, newMockStore())

			w := do(mux, "POST", "/api/experiments", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400, body = %s", w.Code, w.Body.String())
			}
			if len(sub.submitted) != 0 {
				t.Errorf("无效请求不应提交, got %d", len(sub.submitted))
			}
		})
	}
}

func TestCreate_AcceptsAnyNonEmptyRequest(t *testing.T) {
	long := strings.Repeat("Titrate HCl with NaOH. ", 1000)
	tests := []struct {
		name           string
		body           string
		wantComplexity model.Complexity
		wantAudience   model.Audience
	}{
		{"超长描述", `{"experiment_name":"Acid Base Titration","experiment_description":"` + long + `"}`,
			model.ComplexityIntermediate, model.AudienceHighSchool},
		{"超长名称", `{"experiment_name":"` + strings.Repeat("Flame ", 100) + `","experiment_description":"x"}`,
			model.ComplexityIntermediate, model.AudienceHighSchool},
		{"空难度使用默认值", `{"experiment_name":"Flame Test","experiment_description":"x","complexity_level":""}`,
			model.ComplexityIntermediate, model.AudienceHighSchool},
		{"空受众使用默认值", `{"experiment_name":"Flame Test","experiment_description":"x","complexity_level":"Advanced","target_age_group":""}`,
			model.ComplexityAdvanced, model.AudienceHighSchool},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &mockSubmitter{}
			_, _, mux := newTestHandler(t, sub, newMockStore())

			w := do(mux, "POST", "/api/experiments", tt.body)
			if w.Code != http.StatusAccepted {
				t.Fatalf("status = %d, want 202, body = %.200s", w.Code, w.Body.String())
			}
			if len(sub.submitted) != 1 {
				t.Fatalf("提交次数 = %d, want 1", len(sub.submitted))
			}
			got := sub.submitted[0]
			if got.Complexity != tt.wantComplexity || got.Audience != tt.wantAudience {
				t.Errorf("complexity/audience = %q/%q, want %q/%q", got.Complexity, got.Audience, tt.wantComplexity, tt.wantAudience)
			}
		})
	}
}

func TestCreate_SchemaErrorBodyIsShort(t *testing.T) {
	sub := &mockSubmitter{}
	_, _, mux := newTestHandler(t, sub, newMockStore())

	w := do(mux, "POST", "/api/experiments",
		`{"experiment_name":"Flame Test","experiment_description":"x","complexity_level":"Expert"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}

	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	msg := resp["error"]
	if !strings.HasPrefix(msg, "invalid request body") {
		t.Errorf("error = %q, want prefix %q", msg, "invalid request body")
	}
	// schema 细节和请求值不返回给客户端
	for _, leak := range []string{"Expert", "allowed values", "Schema", "enum"} {
		if strings.Contains(msg, leak) {
			t.Errorf("error 不应包含 %q: %q", leak, msg)
		}
	}
}

func TestCreate_WithoutValidator(t *testing.T) {
	sub := &mockSubmitter{}
	h := NewHandler(sub, newMockStore(), project.New(t.TempDir()), nil)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	// 结构校验关闭时仍由字段校验拒绝
	w := do(mux, "POST", "/api/experiments", `{"experiment_name":"","experiment_description":"x"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestCreate_MissingContentType(t *testing.T) {
	sub := &mockSubmitter{}
	_, _, mux := newTestHandler(t, sub, newMockStore())

	req := httptest.NewRequest("POST", "/api/experiments",
		strings.NewReader(`{"experiment_name":"Flame Test","experiment_description":"x"}`))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Errorf("缺少 Content-Type 时按 JSON 处理, status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestCreate_InternalError(t *testing.T) {
	sub := &mockSubmitter{err: errors.New("database is locked")}
	_, _, mux := newTestHandler(t, sub, newMockStore())

	w := do(mux, "POST", "/api/experiments", `{"experiment_name":"Flame Test","experiment_description":"x"}`)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if strings.Contains(w.Body.String(), "database is locked") {
		t.Error("内部错误细节不应返回给客户端")
	}
}

// ============================================================================
// GET /api/experiments/{slug}
// ============================================================================

func TestStatus_FilesystemFallback(t *testing.T) {
	_, root, mux := newTestHandler(t, &mockSubmitter{}, newMockStore())

	// 从未创建
	if w := do(mux, "GET", "/api/experiments/nothing_here", ""); w.Code != http.StatusNotFound {
		t.Errorf("未知项目 status = %d, want 404", w.Code)
	}

	// 仅目录存在
	os.MkdirAll(filepath.Join(root, "pending_one"), 0755)
	w := do(mux, "GET", "/api/experiments/pending_one", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"status":"processing"`) {
		t.Errorf("仅目录: status = %d, body = %s", w.Code, w.Body.String())
	}

	// index.html 存在
	os.MkdirAll(filepath.Join(root, "done_one"), 0755)
	os.WriteFile(filepath.Join(root, "done_one", "index.html"), []byte("<html></html>"), 0644)
	w = do(mux, "GET", "/api/experiments/done_one", "")
	var resp StatusResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Status != "completed" || resp.FolderName != "done_one" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestStatus_Registry(t *testing.T) {
	now := time.Now()
	older := runWithStatus("run-old", "Flame Test", model.RunStatusCompleted, now.Add(-time.Hour))
	failed := runWithStatus("run-new", "Flame Test", model.RunStatusFailed, now)
	failed.Stage = model.StageFailed
	msg := "instructing: external service: quota exceeded"
	failed.Error = &msg
	running := runWithStatus("run-x", "Copper Cycle", model.RunStatusRunning, now)
	running.Stage = model.StageValidating

	_, _, mux := newTestHandler(t, &mockSubmitter{}, newMockStore(older, failed, running))

	tests := []struct {
		name string
		slug string
		want StatusResponse
	}{
		{"最新 Run 失败", "flame_test", StatusResponse{
			Status: "failed", FolderName: "flame_test", RunID: "run-new", Stage: "failed", Error: msg,
		}},
		{"执行中", "copper_cycle", StatusResponse{
			Status: "processing", FolderName: "copper_cycle", RunID: "run-x", Stage: "validating",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(mux, "GET", "/api/experiments/"+tt.slug, "")
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d", w.Code)
			}
			var resp StatusResponse
			json.NewDecoder(w.Body).Decode(&resp)
			if resp != tt.want {
				t.Errorf("resp = %+v, want %+v", resp, tt.want)
			}
		})
	}
}

func TestStatus_FailedRunKeepsEarlierPage(t *testing.T) {
	failed := runWithStatus("run-new", "Flame Test", model.RunStatusFailed, time.Now())
	failed.Stage = model.StageFailed
	msg := "materializing: storage: disk full"
	failed.Error = &msg

	_, root, mux := newTestHandler(t, &mockSubmitter{}, newMockStore(failed))
	// 上一次成功生成的页面
	os.MkdirAll(filepath.Join(root, "flame_test"), 0755)
	os.WriteFile(filepath.Join(root, "flame_test", "index.html"), []byte("<html>old</html>"), 0644)

	w := do(mux, "GET", "/api/experiments/flame_test", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp StatusResponse
	json.NewDecoder(w.Body).Decode(&resp)
	want := StatusResponse{Status: "completed", FolderName: "flame_test", RunID: "run-new", Stage: "failed", Error: msg}
	if resp != want {
		t.Errorf("resp = %+v, want %+v", resp, want)
	}
}

func TestStatus_InvalidSlug(t *testing.T) {
	_, _, mux := newTestHandler(t, &mockSubmitter{}, newMockStore())
	for _, slug := range []string{"Flame", "a-b", "flame.test"} {
		if w := do(mux, "GET", "/api/experiments/"+slug, ""); w.Code != http.StatusNotFound {
			t.Errorf("slug %q: status = %d, want 404", slug, w.Code)
		}
	}
}

func TestStatus_RegistryError(t *testing.T) {
	store := newMockStore()
	store.getErr = errors.New("connection refused")
	_, _, mux := newTestHandler(t, &mockSubmitter{}, store)

	if w := do(mux, "GET", "/api/experiments/flame_test", ""); w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

// ============================================================================
// GET /api/download/{slug}
// ============================================================================

func TestDownload(t *testing.T) {
	_, root, mux := newTestHandler(t, &mockSubmitter{}, newMockStore())

	if w := do(mux, "GET", "/api/download/missing", ""); w.Code != http.StatusNotFound {
		t.Errorf("不存在的压缩包 status = %d, want 404", w.Code)
	}

	archive, err := project.New(root).Materialize(context.Background(), model.NewArtifact("<html>OK</html>"), "flame_test")
	if err != nil {
		t.Fatal(err)
	}

	w := do(mux, "GET", "/api/download/flame_test", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp map[string]string
	json.NewDecoder(w.Body).Decode(&resp)
	if resp["download_path"] != archive {
		t.Errorf("download_path = %q, want %q", resp["download_path"], archive)
	}
}

func TestArchive_Streams(t *testing.T) {
	_, root, mux := newTestHandler(t, &mockSubmitter{}, newMockStore())
	if _, err := project.New(root).Materialize(context.Background(), model.NewArtifact("<html>OK</html>"), "flame_test"); err != nil {
		t.Fatal(err)
	}

	w := do(mux, "GET", "/api/download/flame_test/archive", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/zip" {
		t.Errorf("Content-Type = %q", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "flame_test.zip") {
		t.Errorf("Content-Disposition = %q", cd)
	}

	body := w.Body.Bytes()
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		t.Fatalf("响应不是合法 zip: %v", err)
	}
	if len(zr.File) != 1 || zr.File[0].Name != "flame_test/index.html" {
		t.Errorf("zip 条目 = %v", zr.File)
	}
}

func TestArchive_NotFound(t *testing.T) {
	_, _, mux := newTestHandler(t, &mockSubmitter{}, newMockStore())
	if w := do(mux, "GET", "/api/download/nope/archive", ""); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

// ============================================================================
// GET /api/experiments, GET /api/runs/{id}
// ============================================================================

func TestList(t *testing.T) {
	now := time.Now()
	store := newMockStore(
		runWithStatus("run-1", "A", model.RunStatusCompleted, now),
		runWithStatus("run-2", "B", model.RunStatusQueued, now),
	)
	_, _, mux := newTestHandler(t, &mockSubmitter{}, store)

	tests := []struct {
		name      string
		query     string
		wantCount int
	}{
		{"默认数量", "", 2},
		{"限制数量", "?limit=1", 1},
		{"非法数量按默认", "?limit=abc", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(mux, "GET", "/api/experiments"+tt.query, "")
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d", w.Code)
			}
			var resp struct {
				Runs  []*model.Run `json:"runs"`
				Count int          `json:"count"`
			}
			json.NewDecoder(w.Body).Decode(&resp)
			if resp.Count != tt.wantCount || len(resp.Runs) != tt.wantCount {
				t.Errorf("count = %d, runs = %d, want %d", resp.Count, len(resp.Runs), tt.wantCount)
			}
		})
	}
}

func TestGetRun(t *testing.T) {
	run := runWithStatus("run-1", "Flame Test", model.RunStatusRunning, time.Now())
	_, _, mux := newTestHandler(t, &mockSubmitter{}, newMockStore(run))

	w := do(mux, "GET", "/api/runs/run-1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var got model.Run
	json.NewDecoder(w.Body).Decode(&got)
	if got.ID != "run-1" || got.Slug != "flame_test" || got.Status != model.RunStatusRunning {
		t.Errorf("run = %+v", got)
	}

	if w := do(mux, "GET", "/api/runs/run-missing", ""); w.Code != http.StatusNotFound {
		t.Errorf("不存在的 Run status = %d, want 404", w.Code)
	}
}
