package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"chemsim/internal/shared/eventbus"
)

var _ eventbus.RunEventBus = (*Store)(nil)

func streamKey(runID string) string {
	return eventbus.KeyRunEvents + runID
}

func seqKey(runID string) string {
	return eventbus.KeyRunEvents + runID + ":seq"
}

// PublishRunEvent 发布 Run 事件
func (s *Store) PublishRunEvent(ctx context.Context, runID string, event *eventbus.RunEvent) error {
	seq, err := s.client.Incr(ctx, seqKey(runID)).Result()
	if err != nil {
		return fmt.Errorf("failed to allocate event seq: %w", err)
	}

	event.RunID = runID
	event.Seq = int(seq)
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	payloadJSON, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: streamKey(runID),
		MaxLen: eventbus.MaxStreamLength,
		Approx: true,
		Values: map[string]interface{}{
			"event_id":  event.ID,
			"seq":       seq,
			"type":      event.Type,
			"timestamp": event.Timestamp.Format(time.RFC3339Nano),
			"payload":   string(payloadJSON),
		},
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to publish run event: %w", err)
	}

	if event.IsTerminal() {
		pipe := s.client.Pipeline()
		pipe.Expire(ctx, streamKey(runID), eventbus.RunEventsTTL)
		pipe.Expire(ctx, seqKey(runID), eventbus.RunEventsTTL)
		if _, err := pipe.Exec(ctx); err != nil {
			log.Printf("[Redis/EventBus] Failed to set TTL for run %s: %v", runID, err)
		}
	}
	return nil
}

// GetRunEvents 获取 Run 的历史事件
func (s *Store) GetRunEvents(ctx context.Context, runID string, fromSeq int, count int64) ([]*eventbus.RunEvent, error) {
	msgs, err := s.client.XRange(ctx, streamKey(runID), "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get run events: %w", err)
	}

	events := []*eventbus.RunEvent{}
	for _, msg := range msgs {
		event := decodeRunEvent(runID, msg)
		if event.Seq <= fromSeq {
			continue
		}
		events = append(events, event)
		if count > 0 && int64(len(events)) >= count {
			break
		}
	}
	return events, nil
}

// SubscribeRunEvents 订阅 Run 事件
func (s *Store) SubscribeRunEvents(ctx context.Context, runID string) (<-chan *eventbus.RunEvent, error) {
	key := streamKey(runID)
	ch := make(chan *eventbus.RunEvent, 100)

	go func() {
		defer close(ch)
		lastID := "$"

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			streams, err := s.client.XRead(ctx, &redis.XReadArgs{
				Streams: []string{key, lastID},
				Count:   10,
				Block:   5 * time.Second,
			}).Result()

			if err != nil {
				if err == redis.Nil {
					continue
				}
				if ctx.Err() == nil {
					log.Printf("[Redis/EventBus] Run event subscription error: %v", err)
				}
				return
			}

			for _, stream := range streams {
				for _, msg := range stream.Messages {
					select {
					case ch <- decodeRunEvent(runID, msg):
						lastID = msg.ID
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return ch, nil
}

func decodeRunEvent(runID string, msg redis.XMessage) *eventbus.RunEvent {
	event := &eventbus.RunEvent{
		ID:    msg.ID,
		RunID: runID,
	}
	if id, ok := msg.Values["event_id"].(string); ok {
		event.ID = id
	}
	if seq, ok := msg.Values["seq"].(string); ok {
		event.Seq, _ = strconv.Atoi(seq)
	}
	if typ, ok := msg.Values["type"].(string); ok {
		event.Type = typ
	}
	if ts, ok := msg.Values["timestamp"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			event.Timestamp = t
		}
	}
	if payload, ok := msg.Values["payload"].(string); ok {
		var data map[string]interface{}
		if err := json.Unmarshal([]byte(payload), &data); err == nil {
			event.Payload = data
		}
	}
	return event
}
