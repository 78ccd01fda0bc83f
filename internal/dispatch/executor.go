// Package dispatch 调度生成执行
//
// 提交流程：
//
//	Service.Submit → 登记 Run（queued）→ Dispatcher.Dispatch → *Task
//
// 本地模式（LocalDispatcher）在当前进程的 goroutine 中执行；
// 队列模式（QueueDispatcher）写入队列，由 worker 进程调用 Executor.Execute。
// 两种模式下执行进度都通过 recorder 写回登记表并发布到事件总线。
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"chemsim/internal/pipeline"
	"chemsim/internal/shared/eventbus"
	"chemsim/internal/shared/model"
	"chemsim/internal/shared/storage"
	"chemsim/pkg/logging"
)

var (
	// ErrRunNotFound 登记表中没有该 Run
	ErrRunNotFound = errors.New("run not found")
	// ErrRunFinished Run 已经是终态（队列重复投递）
	ErrRunFinished = errors.New("run already finished")
)

// Runner 执行一次生成流水线
type Runner interface {
	Run(ctx context.Context, req model.ExperimentRequest, obs pipeline.Observer) (*pipeline.Result, error)
}

// Executor 按 Run ID 执行已登记的 Run
type Executor struct {
	store   storage.RunStore
	bus     eventbus.RunEventBus
	runner  Runner
	metrics *Metrics
}

// NewExecutor 创建执行器，bus 和 metrics 可为 nil
func NewExecutor(store storage.RunStore, bus eventbus.RunEventBus, runner Runner, metrics *Metrics) *Executor {
	if bus == nil {
		bus = eventbus.NewNoOpEventBus()
	}
	return &Executor{store: store, bus: bus, runner: runner, metrics: metrics}
}

// Execute 执行 Run 直到终态
//
// Run 到达终态时返回的 Result 非 nil（失败时同时返回 error），结果已写回登记表。
// Result 为 nil 表示没有执行：Run 不存在、已结束或登记表读取失败。
func (e *Executor) Execute(ctx context.Context, runID string) (*pipeline.Result, error) {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	if run == nil {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if run.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s status=%s", ErrRunFinished, runID, run.Status)
	}

	req, err := run.DecodeRequest()
	if err != nil {
		err = fmt.Errorf("decode request: %w", err)
		finishRun(ctx, e.store, e.bus, run.ID, run.Slug, failedOutcome(err.Error()))
		e.metrics.recordAbandoned()
		return &pipeline.Result{Status: model.RunStatusFailed, Slug: run.Slug, Err: err}, err
	}

	if err := e.store.MarkRunStarted(ctx, run.ID); err != nil {
		log.Printf("[dispatch.run.mark_started.failed] run_id=%s error=%v", run.ID, err)
	}
	publish(ctx, e.bus, run.ID, eventbus.EventRunStarted, map[string]interface{}{
		"folder_name": run.Slug,
	})
	log.Printf("[dispatch.run.start] run_id=%s slug=%s queued_ms=%d",
		run.ID, run.Slug, time.Since(run.CreatedAt).Milliseconds())

	e.metrics.runStarted()
	defer e.metrics.runEnded()

	ctx = logging.ContextWithRun(ctx, run.ID, run.Slug)
	rec := &recorder{store: e.store, bus: e.bus, metrics: e.metrics, runID: run.ID, slug: run.Slug}
	return e.runner.Run(ctx, req, rec)
}

// recorder 将流水线进度写回登记表、事件总线和指标
type recorder struct {
	store   storage.RunStore
	bus     eventbus.RunEventBus
	metrics *Metrics
	runID   string
	slug    string
}

func (r *recorder) OnStage(ctx context.Context, stage model.Stage, modelCalls int) {
	if err := r.store.UpdateRunStage(ctx, r.runID, stage, modelCalls); err != nil {
		log.Printf("[dispatch.run.stage.failed] run_id=%s stage=%s error=%v", r.runID, stage, err)
	}
	publish(ctx, r.bus, r.runID, eventbus.EventRunStage, map[string]interface{}{
		"stage":       string(stage),
		"model_calls": modelCalls,
	})
}

func (r *recorder) OnModelCall(ctx context.Context, stage model.Stage, d time.Duration, err error) {
	r.metrics.recordModelCall(stage, d, err)
}

func (r *recorder) OnResult(ctx context.Context, res *pipeline.Result) {
	outcome := res.Outcome()
	finishRun(ctx, r.store, r.bus, r.runID, r.slug, outcome)
	r.metrics.recordResult(res)
	log.Printf("[dispatch.run.finish] run_id=%s status=%s model_calls=%d repaired=%v duration_ms=%d",
		r.runID, outcome.Status, outcome.ModelCalls, outcome.Repaired, res.Duration.Milliseconds())
}
