// Package worker 队列模式下的生成执行进程
//
// worker 以消费者组成员身份读取 experiments:runs 队列，
// 每次处理一条消息，Run 到达终态后 Ack。
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"chemsim/internal/dispatch"
	"chemsim/internal/pipeline"
	"chemsim/internal/shared/queue"
)

// Executor 按 Run ID 执行
type Executor interface {
	Execute(ctx context.Context, runID string) (*pipeline.Result, error)
}

// Config worker 配置
type Config struct {
	ConsumerID   string
	BlockTimeout time.Duration // 单次阻塞读取时间，默认 5s
	RetryDelay   time.Duration // 读取失败后的等待时间，默认 1s
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		ConsumerID:   "worker-1",
		BlockTimeout: 5 * time.Second,
		RetryDelay:   time.Second,
	}
}

// Worker 队列消费者
type Worker struct {
	cfg   Config
	queue queue.RunQueue
	exec  Executor

	processed atomic.Int64
	skipped   atomic.Int64
}

// New 创建 worker，cfg 中的零值使用默认值
func New(q queue.RunQueue, exec Executor, cfg Config) *Worker {
	def := DefaultConfig()
	if cfg.ConsumerID == "" {
		cfg.ConsumerID = def.ConsumerID
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = def.BlockTimeout
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	return &Worker{cfg: cfg, queue: q, exec: exec}
}

// Processed 已执行到终态的 Run 数
func (w *Worker) Processed() int64 {
	return w.processed.Load()
}

// Skipped 跳过的消息数（Run 不存在或已结束）
func (w *Worker) Skipped() int64 {
	return w.skipped.Load()
}

// Run 消费循环，ctx 取消后在当前 Run 结束后返回
func (w *Worker) Run(ctx context.Context) error {
	if err := w.queue.CreateConsumerGroup(ctx); err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	log.Printf("[worker.start] consumer_id=%s block_timeout=%s", w.cfg.ConsumerID, w.cfg.BlockTimeout)

	for {
		select {
		case <-ctx.Done():
			log.Printf("[worker.stop] consumer_id=%s reason=context_cancelled processed=%d",
				w.cfg.ConsumerID, w.Processed())
			return nil
		default:
		}

		messages, err := w.queue.ConsumeRuns(ctx, w.cfg.ConsumerID, 1, w.cfg.BlockTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			log.Printf("[worker.consume.failed] error=%v", err)
			select {
			case <-time.After(w.cfg.RetryDelay):
			case <-ctx.Done():
			}
			continue
		}

		for _, msg := range messages {
			w.handle(ctx, msg)
		}
	}
}

// handle 执行一条消息
//
// 执行使用与 ctx 分离的上下文，收到停止信号时当前 Run 仍会执行完。
// 登记表读取失败时不 Ack，消息留在 pending 中。
func (w *Worker) handle(ctx context.Context, msg *queue.RunMessage) {
	start := time.Now()
	log.Printf("[worker.run.start] run_id=%s slug=%s msg_id=%s delay_ms=%d",
		msg.RunID, msg.Slug, msg.ID, time.Since(msg.EnqueuedAt).Milliseconds())

	runCtx := context.WithoutCancel(ctx)
	res, err := w.exec.Execute(runCtx, msg.RunID)
	switch {
	case errors.Is(err, dispatch.ErrRunNotFound), errors.Is(err, dispatch.ErrRunFinished):
		w.skipped.Add(1)
		log.Printf("[worker.run.skip] run_id=%s msg_id=%s reason=%v", msg.RunID, msg.ID, err)
	case res == nil && err != nil:
		log.Printf("[worker.run.error] run_id=%s msg_id=%s error=%v", msg.RunID, msg.ID, err)
		return
	default:
		w.processed.Add(1)
		log.Printf("[worker.run.done] run_id=%s msg_id=%s status=%s duration_ms=%d",
			msg.RunID, msg.ID, res.Status, time.Since(start).Milliseconds())
	}

	if err := w.queue.AckRun(runCtx, msg.ID); err != nil {
		log.Printf("[worker.ack.failed] run_id=%s msg_id=%s error=%v", msg.RunID, msg.ID, err)
	}
}
