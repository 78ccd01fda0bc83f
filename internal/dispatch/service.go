package dispatch

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"chemsim/internal/shared/eventbus"
	"chemsim/internal/shared/model"
	"chemsim/internal/shared/storage"
)

// InterruptedMessage 重启时仍未结束的 Run 的失败原因
const InterruptedMessage = "interrupted: server stopped before the run finished"

// NewRunID 生成 Run ID
func NewRunID() string {
	return "run-" + uuid.NewString()
}

// Service 提交入口：登记 Run 并分发
type Service struct {
	store      storage.RunStore
	bus        eventbus.RunEventBus
	dispatcher Dispatcher
	metrics    *Metrics
}

// NewService 创建提交服务，bus 和 metrics 可为 nil
func NewService(store storage.RunStore, bus eventbus.RunEventBus, dispatcher Dispatcher, metrics *Metrics) *Service {
	if bus == nil {
		bus = eventbus.NewNoOpEventBus()
	}
	return &Service{store: store, bus: bus, dispatcher: dispatcher, metrics: metrics}
}

// Submit 校验请求、登记 Run 并分发
//
// 请求无效时返回 model.ErrInvalidRequest，不登记也不分发。
// 分发失败时 Run 被标记为 failed，返回的 run 仍然有效。
func (s *Service) Submit(ctx context.Context, req model.ExperimentRequest) (*model.Run, *Task, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, nil, err
	}

	run := model.NewRun(NewRunID(), req)
	if err := s.store.CreateRun(ctx, run); err != nil {
		return nil, nil, fmt.Errorf("create run: %w", err)
	}
	publish(ctx, s.bus, run.ID, eventbus.EventRunQueued, map[string]interface{}{
		"folder_name":     run.Slug,
		"experiment_name": run.ExperimentName,
	})
	s.metrics.recordSubmitted()

	task, err := s.dispatcher.Dispatch(ctx, run)
	if err != nil {
		err = fmt.Errorf("dispatch run: %w", err)
		finishRun(ctx, s.store, s.bus, run.ID, run.Slug, failedOutcome(err.Error()))
		s.metrics.recordAbandoned()
		log.Printf("[dispatch.submit.failed] run_id=%s slug=%s error=%v", run.ID, run.Slug, err)
		return run, nil, err
	}

	log.Printf("[dispatch.submit] run_id=%s slug=%s complexity=%s audience=%q",
		run.ID, run.Slug, req.Complexity, req.Audience)
	return run, task, nil
}

// Wait 等待进行中的任务结束
func (s *Service) Wait(ctx context.Context) error {
	return s.dispatcher.Wait(ctx)
}

// RecoverInterrupted 将 before 之前创建且未结束的 Run 标记为 failed
//
// 本地模式下进程退出会丢失进行中的 goroutine，启动时调用一次，
// 避免状态接口永远返回 processing。队列模式下由 worker 重新投递，不应调用。
func (s *Service) RecoverInterrupted(ctx context.Context, before time.Time) (int, error) {
	runs, err := s.store.ListUnfinishedRuns(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("list unfinished runs: %w", err)
	}
	for _, run := range runs {
		finishRun(ctx, s.store, s.bus, run.ID, run.Slug, failedOutcome(InterruptedMessage))
		s.metrics.recordAbandoned()
		log.Printf("[dispatch.recover] run_id=%s slug=%s status=%s", run.ID, run.Slug, run.Status)
	}
	return len(runs), nil
}
