package pipeline

import (
	"context"
	"time"

	"chemsim/internal/shared/model"
)

// Observer 流水线进度回调
//
// 回调在执行 Run 的 goroutine 中同步调用，实现方不应长时间阻塞。
type Observer interface {
	// OnStage 进入新阶段，modelCalls 为此前已完成的模型调用次数
	OnStage(ctx context.Context, stage model.Stage, modelCalls int)
	// OnModelCall 一次模型调用结束
	OnModelCall(ctx context.Context, stage model.Stage, duration time.Duration, err error)
	// OnResult 执行结束（completed 或 failed）
	OnResult(ctx context.Context, result *Result)
}

// NopObserver 空实现，可嵌入只关心部分回调的 Observer
type NopObserver struct{}

func (NopObserver) OnStage(context.Context, model.Stage, int)                      {}
func (NopObserver) OnModelCall(context.Context, model.Stage, time.Duration, error) {}
func (NopObserver) OnResult(context.Context, *Result)                              {}

// Observers 依次通知多个 Observer
type Observers []Observer

func (o Observers) OnStage(ctx context.Context, stage model.Stage, modelCalls int) {
	for _, obs := range o {
		obs.OnStage(ctx, stage, modelCalls)
	}
}

func (o Observers) OnModelCall(ctx context.Context, stage model.Stage, d time.Duration, err error) {
	for _, obs := range o {
		obs.OnModelCall(ctx, stage, d, err)
	}
}

func (o Observers) OnResult(ctx context.Context, result *Result) {
	for _, obs := range o {
		obs.OnResult(ctx, result)
	}
}
