package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"chemsim/internal/shared/model"
	"chemsim/internal/shared/queue"
)

// ErrDispatcherClosed 分发器已停止接收新任务
var ErrDispatcherClosed = errors.New("dispatcher closed")

// Dispatcher 将已登记的 Run 交给执行方
type Dispatcher interface {
	// Dispatch 分发 Run，不等待执行结束
	Dispatch(ctx context.Context, run *model.Run) (*Task, error)
	// Wait 停止接收新任务并等待进行中的任务结束
	Wait(ctx context.Context) error
}

// ============================================================================
// LocalDispatcher - 进程内执行
// ============================================================================

// LocalDispatcher 每个 Run 一个 goroutine，无并发上限
//
// 执行使用与请求分离的上下文（context.WithoutCancel），
// HTTP 请求结束或客户端断开都不会中断已开始的 Run。
type LocalDispatcher struct {
	exec *Executor

	mu       sync.Mutex
	inflight map[string]*Task
	closed   bool
	wg       sync.WaitGroup
}

var _ Dispatcher = (*LocalDispatcher)(nil)

// NewLocalDispatcher 创建本地分发器
func NewLocalDispatcher(exec *Executor) *LocalDispatcher {
	return &LocalDispatcher{exec: exec, inflight: make(map[string]*Task)}
}

// Dispatch 在新的 goroutine 中执行 Run
func (d *LocalDispatcher) Dispatch(ctx context.Context, run *model.Run) (*Task, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrDispatcherClosed
	}
	task := newTask(run)
	d.inflight[run.ID] = task
	d.wg.Add(1)
	d.mu.Unlock()

	runCtx := context.WithoutCancel(ctx)
	go func() {
		defer d.wg.Done()
		res, err := d.exec.Execute(runCtx, run.ID)

		d.mu.Lock()
		delete(d.inflight, run.ID)
		d.mu.Unlock()

		task.complete(res, err)
	}()
	return task, nil
}

// Task 返回进行中的任务
func (d *LocalDispatcher) Task(runID string) (*Task, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.inflight[runID]
	return t, ok
}

// InFlight 进行中的任务数
func (d *LocalDispatcher) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inflight)
}

// Wait 停止接收新任务，等待进行中的任务结束或 ctx 超时
func (d *LocalDispatcher) Wait(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	pending := len(d.inflight)
	d.mu.Unlock()

	if pending > 0 {
		log.Printf("[dispatch.local.wait] in_flight=%d", pending)
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for %d in-flight runs: %w", d.InFlight(), ctx.Err())
	}
}

// ============================================================================
// QueueDispatcher - 队列模式
// ============================================================================

// QueueDispatcher 将 Run 写入队列，由 worker 进程执行
type QueueDispatcher struct {
	queue queue.RunQueue
}

var _ Dispatcher = (*QueueDispatcher)(nil)

// NewQueueDispatcher 创建队列分发器
func NewQueueDispatcher(q queue.RunQueue) *QueueDispatcher {
	return &QueueDispatcher{queue: q}
}

// Dispatch 入队后立即返回已结束的句柄
func (d *QueueDispatcher) Dispatch(ctx context.Context, run *model.Run) (*Task, error) {
	msgID, err := d.queue.EnqueueRun(ctx, run.ID, run.Slug)
	if err != nil {
		return nil, fmt.Errorf("enqueue run: %w", err)
	}
	task := newTask(run)
	task.MessageID = msgID
	task.complete(nil, nil)
	return task, nil
}

// Wait 队列模式下 api-server 不持有执行中的任务
func (d *QueueDispatcher) Wait(ctx context.Context) error {
	return nil
}
