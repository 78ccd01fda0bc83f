package eventbus

import (
	"context"
	"testing"
	"time"
)

func TestMemoryEventBus_PublishAndGet(t *testing.T) {
	bus := NewMemoryEventBus()
	defer bus.Close()
	ctx := context.Background()

	for _, typ := range []string{EventRunQueued, EventRunStarted, EventRunStage} {
		if err := bus.PublishRunEvent(ctx, "run-1", &RunEvent{Type: typ}); err != nil {
			t.Fatalf("PublishRunEvent: %v", err)
		}
	}
	bus.PublishRunEvent(ctx, "run-2", &RunEvent{Type: EventRunQueued})

	events, err := bus.GetRunEvents(ctx, "run-1", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Fatalf("事件数 = %d, want 3", len(events))
	}
	for i, e := range events {
		if e.Seq != i+1 || e.RunID != "run-1" || e.ID == "" || e.Timestamp.IsZero() {
			t.Errorf("事件 %d 字段不完整: %+v", i, e)
		}
	}

	// fromSeq 之后的事件
	events, _ = bus.GetRunEvents(ctx, "run-1", 2, 0)
	if len(events) != 1 || events[0].Type != EventRunStage {
		t.Errorf("fromSeq=2: %+v", events)
	}

	// count 限制
	events, _ = bus.GetRunEvents(ctx, "run-1", 0, 2)
	if len(events) != 2 {
		t.Errorf("count=2: got %d", len(events))
	}

	// 未知 Run 返回空列表
	events, _ = bus.GetRunEvents(ctx, "unknown", 0, 0)
	if events == nil || len(events) != 0 {
		t.Errorf("未知 Run: %+v", events)
	}
}

func TestMemoryEventBus_Subscribe(t *testing.T) {
	bus := NewMemoryEventBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := bus.SubscribeRunEvents(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}

	bus.PublishRunEvent(context.Background(), "run-1", &RunEvent{Type: EventRunStage, Payload: map[string]interface{}{"stage": "validating"}})
	bus.PublishRunEvent(context.Background(), "run-other", &RunEvent{Type: EventRunStage})

	select {
	case e := <-ch:
		if e.Payload["stage"] != "validating" {
			t.Errorf("payload = %v", e.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("未收到事件")
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("不应收到其他 Run 的事件")
		}
	case <-time.After(time.Second):
		t.Fatal("取消后通道应关闭")
	}
}

func TestMemoryEventBus_CloseEndsSubscriptions(t *testing.T) {
	bus := NewMemoryEventBus()
	ch, _ := bus.SubscribeRunEvents(context.Background(), "run-1")
	bus.Close()

	if _, ok := <-ch; ok {
		t.Error("Close 后通道应关闭")
	}
	// 关闭后发布不报错
	if err := bus.PublishRunEvent(context.Background(), "run-1", &RunEvent{Type: EventRunFailed}); err != nil {
		t.Errorf("err = %v", err)
	}
}

func TestMemoryEventBus_TerminalCleanup(t *testing.T) {
	bus := NewMemoryEventBus()
	bus.ttl = 10 * time.Millisecond
	defer bus.Close()
	ctx := context.Background()

	bus.PublishRunEvent(ctx, "run-1", &RunEvent{Type: EventRunCompleted})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if events, _ := bus.GetRunEvents(ctx, "run-1", 0, 0); len(events) == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("终止事件后事件流应被清理")
}

func TestRunEvent_IsTerminal(t *testing.T) {
	tests := map[string]bool{
		EventRunQueued:    false,
		EventRunStage:     false,
		EventRunCompleted: true,
		EventRunFailed:    true,
	}
	for typ, want := range tests {
		if got := (&RunEvent{Type: typ}).IsTerminal(); got != want {
			t.Errorf("%s: IsTerminal = %v, want %v", typ, got, want)
		}
	}
}
