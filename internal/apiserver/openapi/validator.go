// Package openapi 基于内嵌 OpenAPI 文档的请求校验
package openapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/legacy"

	"chemsim/api"
)

// ErrInvalidRequest 请求不符合 OpenAPI 文档
var ErrInvalidRequest = errors.New("request does not match api schema")

// RequestError 请求校验失败
//
// Error() 只包含出错字段，可直接返回给客户端；完整的 schema 错误通过 Detail() 记录日志。
type RequestError struct {
	Field string
	Err   error
}

func (e *RequestError) Error() string {
	if e.Field == "" {
		return "invalid request body"
	}
	return "invalid request body: " + e.Field
}

// Detail 返回 kin-openapi 的原始错误
func (e *RequestError) Detail() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *RequestError) Unwrap() []error {
	return []error{ErrInvalidRequest, e.Err}
}

// fieldOf 从校验错误中提取出错字段（JSON 路径以 . 连接）
func fieldOf(err error) string {
	var se *openapi3.SchemaError
	if errors.As(err, &se) {
		if p := se.JSONPointer(); len(p) > 0 {
			return strings.Join(p, ".")
		}
	}
	var re *openapi3filter.RequestError
	if errors.As(err, &re) && re.Parameter != nil {
		return re.Parameter.Name
	}
	return ""
}

// Validator 请求校验器
type Validator struct {
	doc    *openapi3.T
	raw    []byte
	router routers.Router
}

// Load 从 YAML/JSON 文档创建校验器
func Load(data []byte) (*Validator, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(data)
	if err != nil {
		return nil, fmt.Errorf("load openapi document: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("invalid openapi document: %w", err)
	}
	router, err := legacy.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("build openapi router: %w", err)
	}
	return &Validator{doc: doc, raw: data, router: router}, nil
}

// LoadEmbedded 使用编译进二进制的 api/openapi/chemsim.yaml
func LoadEmbedded() (*Validator, error) {
	data, err := api.OpenAPIFS.ReadFile(api.SpecPath)
	if err != nil {
		return nil, fmt.Errorf("read embedded openapi document: %w", err)
	}
	return Load(data)
}

// Document 原始文档内容
func (v *Validator) Document() []byte {
	return v.raw
}

// Version 文档版本
func (v *Validator) Version() string {
	if v.doc.Info == nil {
		return ""
	}
	return v.doc.Info.Version
}

// ValidateRequest 校验请求参数和请求体
//
// 文档中没有的路由直接放行。校验会读取请求体，
// 读取后 r.Body 被替换为可重复读取的副本。
func (v *Validator) ValidateRequest(r *http.Request) error {
	route, pathParams, err := v.router.FindRoute(r)
	if err != nil {
		return nil
	}

	input := &openapi3filter.RequestValidationInput{
		Request:    r,
		PathParams: pathParams,
		Route:      route,
		Options: &openapi3filter.Options{
			AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
		},
	}
	if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
		return &RequestError{Field: fieldOf(err), Err: err}
	}
	return nil
}

// ServeDocument GET /api/openapi.yaml
func (v *Validator) ServeDocument(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.Write(v.raw)
}
