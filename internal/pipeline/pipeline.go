// Package pipeline 实验生成流水线
//
// 一次执行按顺序经过以下阶段：
//
//	instructing → implementing → extracting → validating →
//	(fixing → re_extracting)? → materializing → completed | failed
//
// 审查结果（小写后）包含通过短语时直接写入产物；否则进入修复。
// 修复次数由 RepairAttempts 限定（默认 1）：前 N-1 次修复后重新审查，
// 最后一次修复的结果不再审查直接采用。默认配置下模型调用最多 4 次。
//
// 任一阶段出错立即转为 failed，不写入任何产物。
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"chemsim/internal/extract"
	"chemsim/internal/prompt"
	"chemsim/internal/shared/model"
	"chemsim/pkg/llm"
	"chemsim/pkg/logging"
)

// DefaultPassPhrase 默认审查通过短语
const DefaultPassPhrase = "ready for use"

// Materializer 产物写入
type Materializer interface {
	Materialize(ctx context.Context, artifact model.Artifact, slug string) (string, error)
}

// Config 流水线配置
type Config struct {
	RepairAttempts int
	PassPhrase     string
}

func (c Config) withDefaults() Config {
	if c.RepairAttempts < 1 {
		c.RepairAttempts = 1
	}
	if strings.TrimSpace(c.PassPhrase) == "" {
		c.PassPhrase = DefaultPassPhrase
	}
	c.PassPhrase = strings.ToLower(c.PassPhrase)
	return c
}

// StageOutput 某阶段模型的原始输出
type StageOutput struct {
	Stage model.Stage `json:"stage"`
	Text  string      `json:"text"`
}

// Result 一次执行的结果
type Result struct {
	Status      model.RunStatus
	Slug        string
	ArchivePath string
	Artifact    model.Artifact
	Validated   bool // 是否有一次审查判定通过
	Repaired    bool
	Repairs     int
	ModelCalls  int
	Warnings    []string
	Outputs     []StageOutput
	Duration    time.Duration
	Err         error
}

// Outcome 转换为写回登记表的结果
func (r *Result) Outcome() model.RunOutcome {
	out := model.RunOutcome{
		Status:      r.Status,
		ArchivePath: r.ArchivePath,
		Repaired:    r.Repaired,
		ModelCalls:  r.ModelCalls,
		Warnings:    r.Warnings,
	}
	if r.Status == model.RunStatusCompleted {
		out.Stage = model.StageCompleted
	} else {
		out.Stage = model.StageFailed
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return out
}

// Pipeline 生成流水线
type Pipeline struct {
	gen    llm.Generator
	mat    Materializer
	cfg    Config
	logger *logging.Logger
}

// Option 可选配置
type Option func(*Pipeline)

// WithLogger 设置日志器
func WithLogger(l *logging.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// New 创建流水线
func New(gen llm.Generator, mat Materializer, cfg Config, opts ...Option) *Pipeline {
	p := &Pipeline{gen: gen, mat: mat, cfg: cfg.withDefaults(), logger: logging.Discard()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Config 返回生效的配置
func (p *Pipeline) Config() Config {
	return p.cfg
}

// run 单次执行的状态
type run struct {
	p   *Pipeline
	ctx context.Context
	obs Observer
	log *logging.Logger
	res *Result
}

// Run 执行流水线，obs 可为 nil
//
// 返回的 Result 总是非 nil；失败时 Result.Err 与返回的 error 相同。
func (p *Pipeline) Run(ctx context.Context, req model.ExperimentRequest, obs Observer) (*Result, error) {
	if obs == nil {
		obs = NopObserver{}
	}
	start := time.Now()
	req.Normalize()

	r := &run{
		p:   p,
		ctx: ctx,
		obs: obs,
		log: p.logger.WithContext(ctx),
		res: &Result{Slug: req.Slug()},
	}

	err := r.execute(req)
	r.res.Duration = time.Since(start)
	if err != nil {
		r.res.Status = model.RunStatusFailed
		r.res.Err = err
		r.log.WithError(err).WithDuration(r.res.Duration).Warn("pipeline failed")
	} else {
		r.res.Status = model.RunStatusCompleted
		r.log.WithDuration(r.res.Duration).Info("pipeline completed",
			"archive", r.res.ArchivePath, "model_calls", r.res.ModelCalls, "repaired", r.res.Repaired)
	}
	obs.OnResult(ctx, r.res)
	return r.res, err
}

func (r *run) execute(req model.ExperimentRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}

	instructions, err := r.call(model.StageInstructing, prompt.Instruction(req))
	if err != nil {
		return err
	}

	raw, err := r.call(model.StageImplementing, prompt.Implementation(req, instructions))
	if err != nil {
		return err
	}

	artifact := r.extract(model.StageExtracting, raw)

	for {
		feedback, err := r.call(model.StageValidating, prompt.Validation(artifact))
		if err != nil {
			return err
		}
		if r.passes(feedback) {
			r.res.Validated = true
			break
		}

		fixed, err := r.call(model.StageFixing, prompt.Fix(feedback, artifact))
		if err != nil {
			return err
		}
		artifact = r.extract(model.StageReExtracting, fixed)
		r.res.Repaired = true
		r.res.Repairs++

		if r.res.Repairs >= r.p.cfg.RepairAttempts {
			break
		}
	}
	r.res.Artifact = artifact

	r.obs.OnStage(r.ctx, model.StageMaterializing, r.res.ModelCalls)
	archive, err := r.p.mat.Materialize(r.ctx, artifact, r.res.Slug)
	if err != nil {
		return &StageError{Stage: model.StageMaterializing, Kind: ErrStorage, Err: err}
	}
	r.res.ArchivePath = archive
	return nil
}

// call 调用一次生成模型
func (r *run) call(stage model.Stage, text string) (string, error) {
	r.obs.OnStage(r.ctx, stage, r.res.ModelCalls)

	start := time.Now()
	out, err := r.p.gen.Generate(r.ctx, text)
	d := time.Since(start)
	r.res.ModelCalls++

	r.log.ModelCallLog(string(stage), len(text), len(out), d, err)
	r.obs.OnModelCall(r.ctx, stage, d, err)

	if err != nil {
		return "", &StageError{Stage: stage, Kind: ErrExternalService, Err: err}
	}
	r.res.Outputs = append(r.res.Outputs, StageOutput{Stage: stage, Text: out})
	return out, nil
}

// extract 从模型输出中提取文档并记录告警
func (r *run) extract(stage model.Stage, raw string) model.Artifact {
	r.obs.OnStage(r.ctx, stage, r.res.ModelCalls)
	res := extract.Extract(raw)
	for _, w := range res.Warnings {
		r.res.Warnings = append(r.res.Warnings, fmt.Sprintf("%s: %s", stage, w))
	}
	if len(res.Warnings) > 0 {
		r.log.WithStage(string(stage)).Warn("extraction fallback", "warnings", res.Warnings)
	}
	return res.Artifact
}

// passes 审查结果是否包含通过短语（不区分大小写）
func (r *run) passes(feedback string) bool {
	return strings.Contains(strings.ToLower(feedback), r.p.cfg.PassPhrase)
}
