package infra

import (
	"fmt"
	"log"

	"chemsim/internal/config"
	"chemsim/internal/pipeline"
	"chemsim/internal/project"
	"chemsim/pkg/llm"
	"chemsim/pkg/llm/providers"
	"chemsim/pkg/logging"
)

// LLMConfig 将配置转换为模型客户端配置
func LLMConfig(cfg *config.Config) llm.Config {
	return llm.Config{
		Provider:        cfg.LLM.Provider,
		Model:           cfg.LLM.Model,
		BaseURL:         cfg.LLM.BaseURL,
		APIKey:          cfg.LLM.APIKey,
		Temperature:     cfg.LLM.Temperature,
		TopK:            cfg.LLM.TopK,
		TopP:            cfg.LLM.TopP,
		MaxOutputTokens: cfg.LLM.MaxOutputTokens,
		Timeout:         cfg.LLM.Timeout,
	}.WithDefaults()
}

// NewPipeline 组装生成流水线和项目写入器
//
// 对象存储可用时压缩包同步镜像到 bucket。
func NewPipeline(cfg *config.Config, i *Infrastructure, logger *logging.Logger) (*pipeline.Pipeline, *project.Materializer, error) {
	gen, err := providers.New(LLMConfig(cfg))
	if err != nil {
		return nil, nil, fmt.Errorf("llm provider: %w", err)
	}
	log.Printf("[infra.llm] provider=%s model=%s", gen.Name(), cfg.LLM.Model)

	opts := []project.Option{project.WithLogger(logger)}
	if i.Objects != nil {
		opts = append(opts, project.WithMirror(i.Objects))
	}
	mat := project.New(cfg.ProjectsRoot, opts...)
	if err := mat.EnsureRoot(); err != nil {
		return nil, nil, fmt.Errorf("projects root %s: %w", cfg.ProjectsRoot, err)
	}

	p := pipeline.New(gen, mat, pipeline.Config{
		RepairAttempts: cfg.Pipeline.RepairAttempts,
		PassPhrase:     cfg.Pipeline.PassPhrase,
	}, pipeline.WithLogger(logger))
	return p, mat, nil
}
