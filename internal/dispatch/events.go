package dispatch

import (
	"context"
	"log"

	"chemsim/internal/shared/eventbus"
	"chemsim/internal/shared/model"
	"chemsim/internal/shared/storage"
)

// publish 发布 Run 事件，失败只记录日志
func publish(ctx context.Context, bus eventbus.RunEventBus, runID, eventType string, payload map[string]interface{}) {
	event := &eventbus.RunEvent{Type: eventType, Payload: payload}
	if err := bus.PublishRunEvent(ctx, runID, event); err != nil {
		log.Printf("[dispatch.event.failed] run_id=%s type=%s error=%v", runID, eventType, err)
	}
}

// outcomePayload 终止事件的负载
func outcomePayload(slug string, outcome model.RunOutcome) map[string]interface{} {
	payload := map[string]interface{}{
		"status":      string(outcome.Status),
		"folder_name": slug,
		"model_calls": outcome.ModelCalls,
		"repaired":    outcome.Repaired,
	}
	if outcome.ArchivePath != "" {
		payload["archive_path"] = outcome.ArchivePath
	}
	if outcome.Error != "" {
		payload["error"] = outcome.Error
	}
	if len(outcome.Warnings) > 0 {
		payload["warnings"] = outcome.Warnings
	}
	return payload
}

// finishRun 将结果写回登记表并发布终止事件
func finishRun(ctx context.Context, store storage.RunStore, bus eventbus.RunEventBus, runID, slug string, outcome model.RunOutcome) {
	if err := store.FinishRun(ctx, runID, outcome); err != nil {
		log.Printf("[dispatch.finish.failed] run_id=%s status=%s error=%v", runID, outcome.Status, err)
	}

	eventType := eventbus.EventRunCompleted
	if outcome.Status == model.RunStatusFailed {
		eventType = eventbus.EventRunFailed
	}
	publish(ctx, bus, runID, eventType, outcomePayload(slug, outcome))
}

// failedOutcome 未进入流水线的失败结果
func failedOutcome(msg string) model.RunOutcome {
	return model.RunOutcome{
		Status: model.RunStatusFailed,
		Stage:  model.StageFailed,
		Error:  msg,
	}
}
