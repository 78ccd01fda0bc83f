// Package gemini 基于 google.golang.org/genai 的 Gemini 适配
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"chemsim/pkg/llm"
)

// DefaultModel 默认模型
const DefaultModel = "gemini-2.0-flash"

// Client Gemini 客户端
type Client struct {
	cfg    llm.Config
	client *genai.Client
}

// New 创建 Gemini 客户端
//
// BaseURL 为空时使用 SDK 默认的 generativelanguage.googleapis.com。
func New(cfg llm.Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: %w", llm.ErrMissingAPIKey)
	}
	cfg = cfg.WithDefaults()
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions.BaseURL = strings.TrimRight(cfg.BaseURL, "/") + "/"
	}
	client, err := genai.NewClient(context.Background(), cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	return &Client{cfg: cfg, client: client}, nil
}

// Name 返回 provider 名称
func (c *Client) Name() string {
	return "gemini"
}

func (c *Client) generationConfig() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(c.cfg.Temperature)),
		TopK:            genai.Ptr(float32(c.cfg.TopK)),
		TopP:            genai.Ptr(float32(c.cfg.TopP)),
		MaxOutputTokens: int32(c.cfg.MaxOutputTokens),
	}
}

// Generate 发送单轮 generateContent 请求，返回首个候选的全部文本
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.Models.GenerateContent(ctx, c.cfg.Model, genai.Text(prompt), c.generationConfig())
	if err != nil {
		return "", toAPIError(err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return "", fmt.Errorf("gemini: prompt blocked (%s): %w", resp.PromptFeedback.BlockReason, llm.ErrEmptyResponse)
		}
		return "", llm.ErrEmptyResponse
	}

	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p != nil {
			b.WriteString(p.Text)
		}
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", llm.ErrEmptyResponse
	}
	return b.String(), nil
}

// toAPIError 将 SDK 的非 2xx 错误转换为 llm.APIError，其余错误原样包装
func toAPIError(err error) error {
	var ae genai.APIError
	if errors.As(err, &ae) {
		return &llm.APIError{Provider: "gemini", StatusCode: ae.Code, Message: ae.Message}
	}
	var pae *genai.APIError
	if errors.As(err, &pae) {
		return &llm.APIError{Provider: "gemini", StatusCode: pae.Code, Message: pae.Message}
	}
	return fmt.Errorf("gemini: request failed: %w", err)
}
