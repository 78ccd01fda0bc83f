package dispatch

import (
	"context"
	"errors"

	"chemsim/internal/pipeline"
	"chemsim/internal/shared/model"
)

// ErrTaskPending 任务尚未结束
var ErrTaskPending = errors.New("task still running")

// Task 一次分发的句柄
//
// 本地模式下 Done 在流水线结束后关闭，Result 返回执行结果。
// 队列模式下 Done 在消息入队后立即关闭，Result 返回 (nil, nil)，
// 执行结果只能通过登记表查询。
type Task struct {
	RunID     string
	Slug      string
	MessageID string // 队列模式下的消息 ID

	done chan struct{}
	res  *pipeline.Result
	err  error
}

func newTask(run *model.Run) *Task {
	return &Task{RunID: run.ID, Slug: run.Slug, done: make(chan struct{})}
}

// Done 任务结束时关闭
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Result 返回执行结果，任务未结束时返回 ErrTaskPending
func (t *Task) Result() (*pipeline.Result, error) {
	select {
	case <-t.done:
		return t.res, t.err
	default:
		return nil, ErrTaskPending
	}
}

// Wait 阻塞直到任务结束或 ctx 取消
func (t *Task) Wait(ctx context.Context) (*pipeline.Result, error) {
	select {
	case <-t.done:
		return t.res, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *Task) complete(res *pipeline.Result, err error) {
	t.res = res
	t.err = err
	close(t.done)
}
