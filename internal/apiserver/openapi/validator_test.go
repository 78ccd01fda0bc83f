package openapi

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := LoadEmbedded()
	if err != nil {
		t.Fatalf("LoadEmbedded: %v", err)
	}
	return v
}

func TestLoadEmbedded(t *testing.T) {
	v := newValidator(t)
	if v.Version() == "" {
		t.Error("文档版本为空")
	}
	if !strings.Contains(string(v.Document()), "/api/experiments") {
		t.Error("文档缺少 /api/experiments")
	}
}

func TestLoad_Invalid(t *testing.T) {
	if _, err := Load([]byte("openapi: [")); err == nil {
		t.Error("非法文档应返回错误")
	}
}

func TestValidateRequest_SubmitBody(t *testing.T) {
	v := newValidator(t)

	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"完整请求", `{"experiment_name":"Flame Test","experiment_description":"Colours","complexity_level":"Beginner","target_age_group":"College"}`, false},
		{"仅必填字段", `{"experiment_name":"Flame Test","experiment_description":"Colours"}`, false},
		{"缺少名称", `{"experiment_description":"Colours"}`, true},
		{"缺少描述", `{"experiment_name":"Flame Test"}`, true},
		{"空名称", `{"experiment_name":"","experiment_description":"Colours"}`, true},
		{"未知难度", `{"experiment_name":"a","experiment_description":"b","complexity_level":"Expert"}`, true},
		{"名称类型错误", `{"experiment_name":42,"experiment_description":"b"}`, true},
		{"空难度和受众", `{"experiment_name":"a","experiment_description":"b","complexity_level":"","target_age_group":""}`, false},
		{"超长描述", `{"experiment_name":"a","experiment_description":"` + strings.Repeat("d", 20000) + `"}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/experiments", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")

			err := v.ValidateRequest(req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("err 应包装 ErrInvalidRequest: %v", err)
			}
			if err == nil {
				// 校验后请求体仍可读取
				data, _ := io.ReadAll(req.Body)
				if string(data) != tt.body {
					t.Errorf("body = %q", data)
				}
			}
		})
	}
}

func TestValidateRequest_ErrorNamesField(t *testing.T) {
	v := newValidator(t)
	req := httptest.NewRequest("POST", "/api/experiments",
		strings.NewReader(`{"experiment_name":"a","experiment_description":"b","complexity_level":"Expert"}`))
	req.Header.Set("Content-Type", "application/json")

	err := v.ValidateRequest(req)
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("err = %v, want *RequestError", err)
	}
	if reqErr.Error() != "invalid request body: complexity_level" {
		t.Errorf("Error() = %q", reqErr.Error())
	}
	if !strings.Contains(reqErr.Detail(), "Expert") {
		t.Errorf("Detail() 应保留原始错误: %q", reqErr.Detail())
	}
}

func TestRequestError_WithoutField(t *testing.T) {
	err := &RequestError{Err: errors.New("boom")}
	if err.Error() != "invalid request body" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !errors.Is(err, ErrInvalidRequest) {
		t.Error("应匹配 ErrInvalidRequest")
	}
}

func TestValidateRequest_UnknownRoute(t *testing.T) {
	v := newValidator(t)
	req := httptest.NewRequest("GET", "/projects/flame_test/index.html", nil)
	if err := v.ValidateRequest(req); err != nil {
		t.Errorf("文档外路由应放行: %v", err)
	}
}

func TestServeDocument(t *testing.T) {
	v := newValidator(t)
	w := httptest.NewRecorder()
	v.ServeDocument(w, httptest.NewRequest("GET", "/api/openapi.yaml", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/yaml" {
		t.Errorf("Content-Type = %q", ct)
	}
}
