package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryEventBus 进程内 RunEventBus 实现
//
// 每个 Run 最多保留 MaxStreamLength 条事件，终止事件发布 RunEventsTTL 后整体清理。
// 订阅者通道满时丢弃新事件，订阅方可通过 GetRunEvents 补齐。
type MemoryEventBus struct {
	mu     sync.Mutex
	ttl    time.Duration
	closed bool
	runs   map[string]*memoryStream
}

type memoryStream struct {
	seq    int
	events []*RunEvent
	subs   map[chan *RunEvent]struct{}
}

// NewMemoryEventBus 创建进程内事件总线
func NewMemoryEventBus() *MemoryEventBus {
	return &MemoryEventBus{ttl: RunEventsTTL, runs: make(map[string]*memoryStream)}
}

var _ RunEventBus = (*MemoryEventBus)(nil)

func (b *MemoryEventBus) stream(runID string) *memoryStream {
	s, ok := b.runs[runID]
	if !ok {
		s = &memoryStream{subs: make(map[chan *RunEvent]struct{})}
		b.runs[runID] = s
	}
	return s
}

func (b *MemoryEventBus) PublishRunEvent(ctx context.Context, runID string, event *RunEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}

	s := b.stream(runID)
	s.seq++

	e := *event
	e.RunID = runID
	e.Seq = s.seq
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	*event = e

	s.events = append(s.events, &e)
	if len(s.events) > MaxStreamLength {
		s.events = s.events[len(s.events)-MaxStreamLength:]
	}

	for ch := range s.subs {
		select {
		case ch <- &e:
		default:
		}
	}

	if e.IsTerminal() && b.ttl > 0 {
		time.AfterFunc(b.ttl, func() { b.drop(runID) })
	}
	return nil
}

func (b *MemoryEventBus) GetRunEvents(ctx context.Context, runID string, fromSeq int, count int64) ([]*RunEvent, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	events := []*RunEvent{}
	s, ok := b.runs[runID]
	if !ok {
		return events, nil
	}
	for _, e := range s.events {
		if e.Seq <= fromSeq {
			continue
		}
		c := *e
		events = append(events, &c)
		if count > 0 && int64(len(events)) >= count {
			break
		}
	}
	return events, nil
}

func (b *MemoryEventBus) SubscribeRunEvents(ctx context.Context, runID string) (<-chan *RunEvent, error) {
	ch := make(chan *RunEvent, 100)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, nil
	}
	s := b.stream(runID)
	s.subs[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
			close(ch)
		}
	}()

	return ch, nil
}

// drop 清理 Run 的事件流，仍有订阅者时保留
func (b *MemoryEventBus) drop(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.runs[runID]; ok && len(s.subs) == 0 {
		delete(b.runs, runID)
	}
}

// Close 关闭所有订阅
func (b *MemoryEventBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, s := range b.runs {
		for ch := range s.subs {
			delete(s.subs, ch)
			close(ch)
		}
	}
	return nil
}
